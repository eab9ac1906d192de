// Package config loads relay settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// ErrStartupConfigMissing means a required secret is absent. The relay
// must not start serving when it is returned.
var ErrStartupConfigMissing = errors.New("required startup configuration missing")

// DefaultSystemPrompt instructs the model to answer in the user's language.
const DefaultSystemPrompt = `You are a friendly and helpful AI assistant.

Supported languages:
- English
- Hindi (हिंदी)
- Hinglish (Hindi + English mix)

Capabilities:
- Answer questions on any topic
- Help with coding and programming
- Creative writing and content generation
- Explain complex concepts simply
- Have natural conversations

Be conversational, helpful, and concise. Detect the user's language and respond in the same language.`

// Backend names accepted by RELAY_COMMANDER and RELAY_MODEL_PROVIDER.
const (
	BackendTelegram = "telegram"
	BackendOpenAI   = "openai"
	BackendDummy    = "dummy"
)

// RelayConfig holds configuration for the relay process.
type RelayConfig struct {
	InstanceID string

	TelegramAPIBase string
	Timeout         int
	SleepSeconds    int

	APIKey            string
	APIBaseURL        string
	CompletionTimeout time.Duration
	Temperature       float64
	MaxTokens         int64
	SystemPrompt      string

	Commander            string
	ModelProvider        string
	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string

	EventDBPath string
	MetricsAddr string
	LogLevel    string
}

// LoadEnvFile merges KEY=VALUE pairs from path into the environment
// without overriding variables that are already set. A missing default
// file is not an error; a missing explicit file is.
func LoadEnvFile(path string, explicit bool) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LoadRelayConfig reads relay configuration from environment variables.
func LoadRelayConfig() (RelayConfig, error) {
	commander := strings.ToLower(envOrDefault("RELAY_COMMANDER", BackendTelegram))
	modelProvider := strings.ToLower(envOrDefault("RELAY_MODEL_PROVIDER", BackendOpenAI))

	switch commander {
	case BackendTelegram, BackendDummy:
	default:
		return RelayConfig{}, fmt.Errorf("RELAY_COMMANDER must be %q or %q, got %q", BackendTelegram, BackendDummy, commander)
	}
	switch modelProvider {
	case BackendOpenAI, BackendDummy:
	default:
		return RelayConfig{}, fmt.Errorf("RELAY_MODEL_PROVIDER must be %q or %q, got %q", BackendOpenAI, BackendDummy, modelProvider)
	}

	var missing []string
	telegramToken := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if commander == BackendTelegram && telegramToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	apiKey := strings.TrimSpace(os.Getenv("SAMBANOVA_API_KEY"))
	if modelProvider == BackendOpenAI && apiKey == "" {
		missing = append(missing, "SAMBANOVA_API_KEY")
	}
	if len(missing) > 0 {
		return RelayConfig{}, fmt.Errorf("%w: %s not set in environment", ErrStartupConfigMissing, strings.Join(missing, ", "))
	}

	completionTimeout := envIntOrDefault("RELAY_COMPLETION_TIMEOUT_SECONDS", 30)
	if completionTimeout <= 0 {
		return RelayConfig{}, fmt.Errorf("RELAY_COMPLETION_TIMEOUT_SECONDS must be > 0")
	}
	maxTokens := envIntOrDefault("RELAY_MAX_TOKENS", 1500)
	if maxTokens <= 0 {
		return RelayConfig{}, fmt.Errorf("RELAY_MAX_TOKENS must be > 0")
	}
	temperature := envFloatOrDefault("RELAY_TEMPERATURE", 0.7)
	if temperature < 0 || temperature > 2 {
		return RelayConfig{}, fmt.Errorf("RELAY_TEMPERATURE must be within [0, 2]")
	}
	pollTimeout := envIntOrDefault("TG_TIMEOUT", 30)
	if pollTimeout < 0 {
		return RelayConfig{}, fmt.Errorf("TG_TIMEOUT must be >= 0")
	}

	return RelayConfig{
		InstanceID:           envOrDefault("RELAY_INSTANCE_ID", uuid.NewString()),
		TelegramAPIBase:      fmt.Sprintf("https://api.telegram.org/bot%s", telegramToken),
		Timeout:              pollTimeout,
		SleepSeconds:         envIntOrDefault("TG_SLEEP_SECONDS", 1),
		APIKey:               apiKey,
		APIBaseURL:           envOrDefault("RELAY_API_BASE_URL", "https://api.sambanova.ai/v1/"),
		CompletionTimeout:    time.Duration(completionTimeout) * time.Second,
		Temperature:          temperature,
		MaxTokens:            int64(maxTokens),
		SystemPrompt:         envOrDefault("RELAY_SYSTEM_PROMPT", DefaultSystemPrompt),
		Commander:            commander,
		ModelProvider:        modelProvider,
		DummyProviderScript:  envOrDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript: envOrDefault("RELAY_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:      envOrDefault("RELAY_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),
		EventDBPath:          os.Getenv("RELAY_EVENT_DB_PATH"),
		MetricsAddr:          os.Getenv("RELAY_METRICS_ADDR"),
		LogLevel:             envOrDefault("RELAY_LOG_LEVEL", "info"),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
