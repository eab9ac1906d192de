package openai

import (
	"errors"
	"fmt"
)

// Kind classifies a failed completion for the caller.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindRateLimited       Kind = "rate_limited"
	KindProviderError     Kind = "provider_error"
	KindMalformedResponse Kind = "malformed_response"
)

// CompletionError is returned for every failed completion.
type CompletionError struct {
	Kind       Kind
	StatusCode int // HTTP status when the provider answered, else 0
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err, or KindProviderError for errors
// that did not come from this package.
func KindOf(err error) Kind {
	var cerr *CompletionError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindProviderError
}
