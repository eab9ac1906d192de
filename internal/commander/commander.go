// Package commander defines the inbound message source and outbound reply
// sink used by the relay.
package commander

import "context"

// Commander is the instruction source abstraction used by the relay.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, rows [][]Button) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// ActionTyping is the chat action shown while a reply is generated.
const ActionTyping = "typing"

// Update represents an incoming command/update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// SenderID identifies who the message belongs to. Private chats have the
// same id as their user, so the chat id is used when From is absent.
func (m *Message) SenderID() int64 {
	if m.From != nil && m.From.ID != 0 {
		return m.From.ID
	}
	return m.Chat.ID
}

// SenderName returns the sender's first name, or "" when unknown.
func (m *Message) SenderName() string {
	if m.From == nil {
		return ""
	}
	return m.From.FirstName
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the author of a message.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Button is one inline keyboard button. Pressing it delivers Data back as
// the text of a new message from the pressing user.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}
