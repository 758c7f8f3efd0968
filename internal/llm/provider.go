// Package llm provides the chat-completion adapter used for intent
// classification and information extraction.
//
// All supported backends speak the OpenAI chat-completions protocol, so a
// single go-openai client serves NVIDIA, OpenAI and OpenRouter endpoints.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hurttlocker/docrouter/internal/config"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the trimmed response text. Every
	// failure is an apperr ai_client error.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name returns a human-readable provider name (e.g., "nvidia/llama-3.3-nemotron-super-49b-v1").
	Name() string
}

// Config holds provider configuration. Sampling parameters are fixed for the
// lifetime of the provider.
type Config struct {
	Provider     string // "nvidia", "openai", "openrouter"
	BaseURL      string // empty = provider default
	Model        string
	APIKey       string // empty = every call fails without touching the network
	SystemPrompt string
	Temperature  float32
	TopP         float32
	MaxTokens    int
	Timeout      time.Duration
}

// ConfigFrom converts resolved settings into a provider Config.
func ConfigFrom(s config.LLMSettings) Config {
	return Config{
		Provider:     s.Provider,
		BaseURL:      s.BaseURL.Value,
		Model:        s.Model.Value,
		APIKey:       s.APIKey.Value,
		SystemPrompt: s.SystemPrompt,
		Temperature:  s.Temperature,
		TopP:         s.TopP,
		MaxTokens:    s.MaxTokens,
		Timeout:      s.Timeout,
	}
}

// NewProvider creates an LLM provider from the given config. A missing API
// key is not an error here.
func NewProvider(cfg Config, logger *slog.Logger) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = config.DefaultProvider
	}
	base, ok := config.ProviderBaseURLs[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: nvidia, openai, openrouter)", cfg.Provider)
	}
	cfg.Provider = name
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = base
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = config.DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = config.DefaultMaxTokens
	}
	return newOpenAIProvider(cfg, logger), nil
}
