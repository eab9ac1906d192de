package commander

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Sender(t *testing.T) {
	m := &Message{Chat: Chat{ID: 10}}
	assert.EqualValues(t, 10, m.SenderID())
	assert.Equal(t, "", m.SenderName())

	m.From = &User{ID: 20, FirstName: "Asha"}
	assert.EqualValues(t, 20, m.SenderID())
	assert.Equal(t, "Asha", m.SenderName())
}
