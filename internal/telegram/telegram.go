// Package telegram is a minimal Telegram Bot API long-polling client.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	"github.com/stupiduntilnot/tgrelay/internal/logger"
)

// maxMessageUnits stays under the Bot API's 4096 character limit, which is
// counted in UTF-16 code units.
const maxMessageUnits = 4000

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>"). requestTimeout must exceed
// the long-poll timeout passed to GetUpdates.
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

var _ cmdpkg.Commander = (*Client)(nil)

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

type tgRawUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *cmdpkg.Message  `json:"message,omitempty"`
	CallbackQuery *tgCallbackQuery `json:"callback_query,omitempty"`
}

type tgCallbackQuery struct {
	ID      string          `json:"id"`
	From    *cmdpkg.User    `json:"from,omitempty"`
	Data    string          `json:"data"`
	Message *cmdpkg.Message `json:"message,omitempty"`
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]cmdpkg.Button `json:"inline_keyboard"`
}

// GetUpdates long-polls for new updates starting at offset. Button presses
// are delivered as messages whose text is the button's data and whose
// sender is the user who pressed it.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create getUpdates request: %w", err)
	}
	raw, err := c.do(req, "getUpdates")
	if err != nil {
		return nil, err
	}

	var raws []tgRawUpdate
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	updates := make([]Update, 0, len(raws))
	for _, ru := range raws {
		if ru.Message != nil {
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: ru.Message})
			continue
		}
		if ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil {
			msg := *ru.CallbackQuery.Message
			data := strings.TrimSpace(ru.CallbackQuery.Data)
			msg.Text = &data
			msg.From = ru.CallbackQuery.From
			if msg.Date == 0 {
				msg.Date = time.Now().Unix()
			}
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: &msg})
			if err := c.answerCallbackQuery(ctx, ru.CallbackQuery.ID); err != nil {
				logger.Debug("answerCallbackQuery failed", "callback_id", ru.CallbackQuery.ID, "err", err)
			}
			continue
		}
		// Unsupported update kinds still advance the offset.
		updates = append(updates, Update{UpdateID: ru.UpdateID})
	}
	return updates, nil
}

// SendMessage sends text to the given chat, split into several messages
// when it exceeds the Bot API length limit.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageUnits) {
		if err := c.post(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: part}); err != nil {
			return err
		}
	}
	return nil
}

// SendKeyboard sends a message with an inline keyboard.
func (c *Client) SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]cmdpkg.Button) error {
	return c.post(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        truncateUnits(text, maxMessageUnits),
		ReplyMarkup: &replyMarkup{InlineKeyboard: rows},
	})
}

// SendChatAction shows a transient status such as "typing".
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.post(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action})
}

func (c *Client) answerCallbackQuery(ctx context.Context, callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	return c.post(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID})
}

func (c *Client) post(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, method)
	return err
}

func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !tgResp.OK {
		return nil, fmt.Errorf("telegram %s rejected: code=%d %s", method, tgResp.ErrorCode, tgResp.Description)
	}
	return tgResp.Result, nil
}

// splitMessage cuts s into chunks of at most maxUnits UTF-16 code units,
// preferring to break after a newline in the second half of a chunk.
func splitMessage(s string, maxUnits int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return []string{s}
	}
	var parts []string
	for len(runes) > 0 {
		cut, units, lastNewline := 0, 0, -1
		for cut < len(runes) {
			n := runeUnits(runes[cut])
			if units+n > maxUnits {
				break
			}
			units += n
			if runes[cut] == '\n' {
				lastNewline = cut
			}
			cut++
		}
		if cut == 0 {
			cut = 1
		}
		if cut < len(runes) && lastNewline >= 0 && lastNewline+1 > cut/2 {
			cut = lastNewline + 1
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}

// truncateUnits shortens s to at most maxUnits UTF-16 code units, ending
// with "..." when anything was cut.
func truncateUnits(s string, maxUnits int) string {
	if utf16Len(s) <= maxUnits {
		return s
	}
	const ellipsis = "..."
	var b strings.Builder
	units := 0
	for _, r := range s {
		n := runeUnits(r)
		if units+n > maxUnits-len(ellipsis) {
			break
		}
		units += n
		b.WriteRune(r)
	}
	return b.String() + ellipsis
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}
