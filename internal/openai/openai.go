// Package openai talks to any OpenAI-compatible chat-completions endpoint
// (SambaNova by default).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	"github.com/stupiduntilnot/tgrelay/internal/logger"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
)

// Config holds the request shape and transport settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int64
	HTTPClient  *http.Client
}

// Client issues exactly one chat-completion request per call; the SDK's
// built-in retries are disabled.
type Client struct {
	sdk         sdk.Client
	timeout     time.Duration
	temperature float64
	maxTokens   int64
}

// NewClient creates a completion client.
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		sdk:         sdk.NewClient(opts...),
		timeout:     timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

var _ modelpkg.Provider = (*Client)(nil)

// ChatCompletion sends messages to modelID and returns the first choice.
// Any failure is a *CompletionError.
func (c *Client) ChatCompletion(ctx context.Context, modelID string, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(modelID),
		Messages:    toSDKMessages(messages),
		Temperature: sdk.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = sdk.Int(c.maxTokens)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	completion, err := c.sdk.Chat.Completions.New(callCtx, params)
	if err != nil {
		return modelpkg.CompletionResponse{}, classify(ctx, callCtx, err)
	}
	logger.Debug("completion received", "model", modelID, "latency", time.Since(started))

	if len(completion.Choices) == 0 {
		return modelpkg.CompletionResponse{}, &CompletionError{
			Kind: KindMalformedResponse,
			Err:  errors.New("response has no choices"),
		}
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return modelpkg.CompletionResponse{}, &CompletionError{
			Kind: KindMalformedResponse,
			Err:  errors.New("first choice has empty content"),
		}
	}

	return modelpkg.CompletionResponse{
		Content:      content,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

func classify(parent, callCtx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := KindProviderError
		if apiErr.StatusCode == http.StatusTooManyRequests {
			kind = KindRateLimited
		}
		return &CompletionError{Kind: kind, StatusCode: apiErr.StatusCode, Err: err}
	}

	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &CompletionError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CompletionError{Kind: KindTimeout, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) {
		return &CompletionError{Kind: KindProviderError, Err: err}
	}
	// The request went through but the body could not be decoded.
	return &CompletionError{Kind: KindMalformedResponse, Err: fmt.Errorf("decode completion: %w", err)}
}

func toSDKMessages(messages []ctxpkg.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case ctxpkg.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case ctxpkg.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}
