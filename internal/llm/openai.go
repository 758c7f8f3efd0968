package llm

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hurttlocker/docrouter/internal/apperr"
	"github.com/hurttlocker/docrouter/internal/logging"
)

// openaiProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint.
type openaiProvider struct {
	cfg    Config
	client *openai.Client
	logger *slog.Logger
}

func newOpenAIProvider(cfg Config, logger *slog.Logger) *openaiProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &openaiProvider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
		logger: logging.OrDiscard(logger),
	}
}

func (p *openaiProvider) Name() string {
	return p.cfg.Provider + "/" + p.cfg.Model
}

func (p *openaiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", apperr.AIClient("complete", "API key is not configured (set NVIDIA_API_KEY)", nil)
	}

	req := openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: requestTemperature(p.cfg.Temperature),
		TopP:        p.cfg.TopP,
		MaxTokens:   p.cfg.MaxTokens,
	}

	start := time.Now()
	p.logger.Debug("llm.complete.start", "provider", p.Name(), "prompt_chars", len(prompt))

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		p.logger.Warn("llm.complete.failed", "provider", p.Name(), "error", err)
		return "", apperr.AIClient("complete", "chat completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		p.logger.Warn("llm.complete.empty", "provider", p.Name())
		return "", apperr.AIClient("complete", "response contained no choices", nil)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.AIClient("complete", "response content was empty", nil)
	}
	p.logger.Debug("llm.complete.ok",
		"provider", p.Name(),
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

// requestTemperature keeps an explicit zero on the wire. go-openai omits a
// zero temperature, which would hand sampling back to the server default.
func requestTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
