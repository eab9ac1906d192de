package context

import "testing"

func TestStandardAssembler_Assemble(t *testing.T) {
	a := &StandardAssembler{}
	history := []Message{
		UserMessage("namaste"),
		AssistantMessage("Namaste! Kaise madad karun?"),
	}
	result := a.Assemble("Reply in the user's language.", history, "what is a goroutine?")

	if len(result) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(result))
	}
	if result[0].Role != RoleSystem || result[0].Content != "Reply in the user's language." {
		t.Errorf("unexpected system message: %+v", result[0])
	}
	if result[1] != history[0] || result[2] != history[1] {
		t.Errorf("history not preserved in order: %+v", result[1:3])
	}
	if result[3].Role != RoleUser || result[3].Content != "what is a goroutine?" {
		t.Errorf("unexpected pending user message: %+v", result[3])
	}
}

func TestStandardAssembler_EmptyHistory(t *testing.T) {
	a := &StandardAssembler{}
	result := a.Assemble("system", nil, "hello")

	if len(result) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result))
	}
	if result[0].Role != RoleSystem {
		t.Errorf("expected system role, got %q", result[0].Role)
	}
	if result[1].Role != RoleUser || result[1].Content != "hello" {
		t.Errorf("unexpected user message: %+v", result[1])
	}
}

func TestStandardAssembler_OmitsBlankSystem(t *testing.T) {
	a := &StandardAssembler{}
	result := a.Assemble("", []Message{AssistantMessage("x")}, "y")
	if len(result) != 2 || result[0].Role != RoleAssistant {
		t.Fatalf("expected no system entry, got %+v", result)
	}
}

func TestStandardAssembler_DoesNotMutateHistory(t *testing.T) {
	a := &StandardAssembler{}
	history := make([]Message, 1, 4)
	history[0] = UserMessage("first")
	_ = a.Assemble("sys", history, "second")
	if len(history) != 1 || history[0].Content != "first" {
		t.Fatalf("history mutated: %+v", history)
	}
}
