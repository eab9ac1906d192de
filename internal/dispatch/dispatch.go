// Package dispatch routes each inbound message to the command or
// completion flow it triggers and sends the reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	"github.com/stupiduntilnot/tgrelay/internal/db"
	"github.com/stupiduntilnot/tgrelay/internal/logger"
	"github.com/stupiduntilnot/tgrelay/internal/metrics"
	"github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/openai"
	"github.com/stupiduntilnot/tgrelay/internal/session"
	"github.com/stupiduntilnot/tgrelay/internal/stats"
)

// Command names understood by the dispatcher.
const (
	CmdStart = "start"
	CmdHelp  = "help"
	CmdReset = "reset"
	CmdModel = "model"
	CmdStats = "stats"
	CmdChat  = "chat"
)

// commandText labels free-text messages in metrics and the journal.
const commandText = "text"

// Deps are the collaborators of a Dispatcher. Journal and Metrics may be
// nil; everything else is required.
type Deps struct {
	Store        *session.Store
	Registry     *model.Registry
	Counters     *stats.Counters
	Provider     model.Provider
	Out          cmdpkg.Commander
	SystemPrompt string
	Journal      *db.Journal
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Dispatcher handles one inbound message at a time per call; calls for
// different messages may run concurrently.
type Dispatcher struct {
	store        *session.Store
	registry     *model.Registry
	counters     *stats.Counters
	provider     model.Provider
	out          cmdpkg.Commander
	assembler    ctxpkg.Assembler
	systemPrompt string
	journal      *db.Journal
	metrics      *metrics.Metrics
	now          func() time.Time
}

// New validates deps and builds a Dispatcher.
func New(deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("dispatch: store is required")
	case deps.Registry == nil:
		return nil, errors.New("dispatch: registry is required")
	case deps.Counters == nil:
		return nil, errors.New("dispatch: counters are required")
	case deps.Provider == nil:
		return nil, errors.New("dispatch: provider is required")
	case deps.Out == nil:
		return nil, errors.New("dispatch: commander is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		store:        deps.Store,
		registry:     deps.Registry,
		counters:     deps.Counters,
		provider:     deps.Provider,
		out:          deps.Out,
		assembler:    &ctxpkg.StandardAssembler{},
		systemPrompt: deps.SystemPrompt,
		journal:      deps.Journal,
		metrics:      deps.Metrics,
		now:          now,
	}, nil
}

// request is one inbound message being handled.
type request struct {
	chatID  int64
	userID  int64
	name    string
	text    string
	eventID *int64
	log     *log.Logger
}

// Handle processes one message. Messages without text are ignored. A panic
// while handling is recovered and counted as an error so one bad message
// cannot take the process down.
func (d *Dispatcher) Handle(ctx context.Context, msg *cmdpkg.Message) {
	if msg == nil || msg.Text == nil || strings.TrimSpace(*msg.Text) == "" {
		return
	}
	req := &request{
		chatID: msg.Chat.ID,
		userID: msg.SenderID(),
		name:   msg.SenderName(),
		text:   strings.TrimSpace(*msg.Text),
	}
	req.log = logger.With("chat_id", req.chatID, "user_id", req.userID)

	name, args, isCommand := parseCommand(req.text)

	// /stats reports the counters as they stood before it arrived.
	var before stats.Snapshot
	if isCommand && name == CmdStats {
		before = d.counters.Snapshot()
	}

	d.counters.RecordMessage()
	sess, isNew := d.store.Open(req.userID)
	if isNew {
		d.metrics.IncKnownUsers()
	}

	label := commandText
	if isCommand {
		label = name
		if !isKnownCommand(name) {
			label = "unknown"
		}
	}
	d.metrics.RecordMessage(label)

	if id, err := d.journal.Log(nil, db.EventMessageReceived, map[string]any{
		"chat_id":  req.chatID,
		"user_id":  req.userID,
		"command":  label,
		"text_len": len([]rune(req.text)),
	}); err != nil {
		req.log.Warn("journal write failed", "err", err)
	} else if id != 0 {
		req.eventID = &id
	}

	defer func() {
		if r := recover(); r != nil {
			d.counters.RecordError("panic")
			d.metrics.RecordError("panic")
			req.log.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			d.logEvent(req, db.EventHandlerPanicked, map[string]any{"panic": fmt.Sprint(r)})
			d.send(ctx, req, internalErrorText)
		}
	}()

	if !isCommand {
		req.log.Info("message", "text", logger.Truncate(req.text, 50))
		d.handleText(ctx, req, sess)
		return
	}

	req.log.Info("command", "name", name, "args", args)
	switch name {
	case CmdStart:
		d.sendKeyboard(ctx, req, welcomeText(req.name), startKeyboard)
	case CmdHelp:
		d.send(ctx, req, fmt.Sprintf(helpText, session.MaxHistory/2))
	case CmdReset:
		cleared := d.store.Reset(req.userID)
		d.send(ctx, req, resetText(cleared))
	case CmdModel:
		d.handleModel(ctx, req, sess, args)
	case CmdStats:
		d.send(ctx, req, statsText(before, d.store.Snapshot(), d.registry.Len(), d.now()))
	case CmdChat:
		d.send(ctx, req, chatPromptText)
	default:
		d.send(ctx, req, unknownCommandText(name))
	}
	d.logEvent(req, db.EventCommandHandled, map[string]any{"command": label})
}

func (d *Dispatcher) handleModel(ctx context.Context, req *request, sess session.Session, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		text, rows := modelMenu(d.registry, sess.Model)
		d.sendKeyboard(ctx, req, text, rows)
		return
	}

	entry, err := d.store.SetModel(req.userID, fields[0])
	if err != nil {
		var labelErr *model.InvalidLabelError
		if errors.As(err, &labelErr) {
			d.send(ctx, req, invalidModelText(labelErr.Label, labelErr.Valid))
			return
		}
		req.log.Error("set model failed", "err", err)
		d.send(ctx, req, internalErrorText)
		return
	}
	req.log.Info("model changed", "label", entry.Label, "model", entry.ProviderID)
	d.send(ctx, req, modelChangedText(entry))
}

// handleText runs one completion. History is only written after a
// successful reply; a failed turn leaves it exactly as it was.
func (d *Dispatcher) handleText(ctx context.Context, req *request, sess session.Session) {
	entry, ok := d.registry.Lookup(sess.Model)
	if !ok {
		entry, _ = d.registry.Lookup(d.registry.DefaultLabel())
	}

	if err := d.out.SendChatAction(ctx, req.chatID, cmdpkg.ActionTyping); err != nil {
		req.log.Debug("typing indicator failed", "err", err)
	}

	messages := d.assembler.Assemble(d.systemPrompt, sess.History, req.text)
	started := d.now()
	resp, err := d.provider.ChatCompletion(ctx, entry.ProviderID, messages)
	elapsed := d.now().Sub(started)

	if err != nil {
		kind := openai.KindOf(err)
		d.counters.RecordError(string(kind))
		d.metrics.RecordError(string(kind))
		d.metrics.RecordCompletion(entry.ProviderID, string(kind), elapsed)
		req.log.Error("completion failed", "model", entry.ProviderID, "kind", kind, "err", err)
		d.logEvent(req, db.EventTurnFailed, map[string]any{
			"model":      entry.ProviderID,
			"kind":       string(kind),
			"latency_ms": elapsed.Milliseconds(),
		})
		d.send(ctx, req, failureText(err))
		return
	}

	d.store.AppendTurn(req.userID, req.text, resp.Content)
	d.metrics.RecordCompletion(entry.ProviderID, "ok", elapsed)
	d.logEvent(req, db.EventTurnCompleted, map[string]any{
		"model":         entry.ProviderID,
		"latency_ms":    elapsed.Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"history_len":   min(len(sess.History)+2, session.MaxHistory),
	})
	d.send(ctx, req, resp.Content)
	req.log.Info("replied", "model", entry.ProviderID, "latency", elapsed)
}

func (d *Dispatcher) send(ctx context.Context, req *request, text string) {
	if err := d.out.SendMessage(ctx, req.chatID, text); err != nil {
		req.log.Error("send failed", "err", err)
	}
}

func (d *Dispatcher) sendKeyboard(ctx context.Context, req *request, text string, rows [][]cmdpkg.Button) {
	if err := d.out.SendKeyboard(ctx, req.chatID, text, rows); err != nil {
		req.log.Error("send failed", "err", err)
	}
}

func (d *Dispatcher) logEvent(req *request, eventType string, payload map[string]any) {
	if _, err := d.journal.Log(req.eventID, eventType, payload); err != nil {
		req.log.Warn("journal write failed", "event", eventType, "err", err)
	}
}

// parseCommand splits "/name@bot args" into its lower-cased name and the
// remaining argument text.
func parseCommand(text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func isKnownCommand(name string) bool {
	switch name {
	case CmdStart, CmdHelp, CmdReset, CmdModel, CmdStats, CmdChat:
		return true
	}
	return false
}
