// Package context shapes per-user conversation history into the message
// list sent to a completion provider.
package context

// Compressor reduces a list of messages to fit within constraints.
type Compressor interface {
	Compress(messages []Message) []Message
}

// Assembler combines system prompt, history, and the pending user message
// into the final request message list.
type Assembler interface {
	Assemble(system string, history []Message, userMsg string) []Message
}
