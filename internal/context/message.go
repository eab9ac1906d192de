package context

// Roles carried by a Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged conversation entry. Values are passed by copy
// and never modified once appended to a history.
type Message struct {
	Role    string
	Content string
}

// UserMessage returns a user-role entry.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage returns an assistant-role entry.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}
