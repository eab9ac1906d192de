// Package model defines the completion provider abstraction and the static
// registry of selectable models.
package model

import (
	"context"

	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
)

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the completion backend used by the dispatcher. modelID is a
// provider-specific identifier, already resolved from a registry label.
type Provider interface {
	ChatCompletion(ctx context.Context, modelID string, messages []ctxpkg.Message) (CompletionResponse, error)
}
