package context

// SimpleCompressor keeps only the last MaxMessages messages.
type SimpleCompressor struct {
	MaxMessages int
}

// Compress returns the most recent MaxMessages entries in their original
// order. The result never shares a backing array with the input, so older
// entries can be collected once dropped.
func (c *SimpleCompressor) Compress(messages []Message) []Message {
	start := 0
	if c.MaxMessages > 0 && len(messages) > c.MaxMessages {
		start = len(messages) - c.MaxMessages
	}
	out := make([]Message, len(messages)-start)
	copy(out, messages[start:])
	return out
}
