// Package dummy provides scripted Commander and Provider implementations
// for running the relay without network access.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the script is exhausted:
//
//	ok            no update / default reply
//	msg:<text>    deliver text (commander) or reply with text (provider)
//	msgb64:<b64>  same, base64-encoded
//	err:<class>   fail; for the provider, class is a completion error kind
//	sleep:<ms>    wait before answering
package dummy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/openai"
)

// ChatID and UserID identify the single scripted conversation.
const (
	ChatID = 1
	UserID = 1
)

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		kind, arg, _ := strings.Cut(token, ":")
		switch kind {
		case "ok", "err", "sleep", "msg":
			actions = append(actions, action{kind: kind, arg: arg})
		case "msgb64":
			raw, err := base64.StdEncoding.DecodeString(arg)
			if err != nil {
				return nil, fmt.Errorf("dummy msgb64 decode failed: %w", err)
			}
			actions = append(actions, action{kind: "msg", arg: string(raw)})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent is one outbound message captured by Commander.
type Sent struct {
	ChatID   int64
	Text     string
	Keyboard [][]cmdpkg.Button
	Action   string
}

// Commander is a scripted command source that records everything sent.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []Sent
}

var _ cmdpkg.Commander = (*Commander)(nil)

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg":
		text := a.arg
		c.mu.Lock()
		c.updateID++
		id := c.updateID
		c.mu.Unlock()
		return []cmdpkg.Update{
			{
				UpdateID: id,
				Message: &cmdpkg.Message{
					MessageID: id,
					From:      &cmdpkg.User{ID: UserID, FirstName: "Dummy"},
					Chat:      cmdpkg.Chat{ID: ChatID},
					Text:      &text,
					Date:      time.Now().Unix(),
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.record(ctx, Sent{ChatID: chatID, Text: text})
}

func (c *Commander) SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]cmdpkg.Button) error {
	return c.record(ctx, Sent{ChatID: chatID, Text: text, Keyboard: rows})
}

// SendChatAction is recorded but does not consume the send script.
func (c *Commander) SendChatAction(ctx context.Context, chatID int64, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{ChatID: chatID, Action: action})
	return nil
}

func (c *Commander) record(ctx context.Context, s Sent) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, s)
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of everything sent so far.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

// Replies returns the text of sent messages, skipping chat actions.
func (c *Commander) Replies() []string {
	var out []string
	for _, s := range c.Sent() {
		if s.Action == "" {
			out = append(out, s.Text)
		}
	}
	return out
}

// Call is one request captured by Provider.
type Call struct {
	ModelID  string
	Messages []ctxpkg.Message
}

// Provider is a scripted completion backend.
type Provider struct {
	mu     sync.Mutex
	script *scriptRunner
	calls  []Call
}

var _ modelpkg.Provider = (*Provider)(nil)

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, modelID string, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	msgs := make([]ctxpkg.Message, len(messages))
	copy(msgs, messages)
	p.calls = append(p.calls, Call{ModelID: modelID, Messages: msgs})
	p.mu.Unlock()

	switch a.kind {
	case "err":
		kind := openai.Kind(emptyAs(a.arg, string(openai.KindProviderError)))
		return modelpkg.CompletionResponse{}, &openai.CompletionError{
			Kind: kind,
			Err:  errors.New("dummy provider failure"),
		}
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, &openai.CompletionError{Kind: openai.KindTimeout, Err: err}
		}
		return modelpkg.CompletionResponse{Content: "dummy-after-sleep", InputTokens: 1, OutputTokens: 1}, nil
	case "msg":
		return modelpkg.CompletionResponse{Content: a.arg, InputTokens: 1, OutputTokens: 1}, nil
	default:
		return modelpkg.CompletionResponse{Content: emptyAs(a.arg, "dummy-ok"), InputTokens: 1, OutputTokens: 1}, nil
	}
}

// Calls returns a copy of every request received so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
