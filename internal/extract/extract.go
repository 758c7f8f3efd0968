package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hurttlocker/docrouter/internal/apperr"
	"github.com/hurttlocker/docrouter/internal/config"
	"github.com/hurttlocker/docrouter/internal/llm"
	"github.com/hurttlocker/docrouter/internal/logging"
	"github.com/hurttlocker/docrouter/internal/textutil"
)

// Extraction is the open, best-effort result of an extraction run. Keys the
// model returns are kept as-is; metadata keys are merged on top.
type Extraction map[string]any

const (
	MethodAI    = "nvidia_ai"
	MethodRegex = "regex"

	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	rawContentChars  = 100
	rawResponseChars = 300
)

// Status returns the "status" value, or "".
func (e Extraction) Status() string {
	s, _ := e["status"].(string)
	return s
}

// Method returns the "extraction_method" value, or "".
func (e Extraction) Method() string {
	s, _ := e["extraction_method"].(string)
	return s
}

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	Mode        string // config.ModeAIWithFallback (default), ModeRules or ModeAI
	PromptChars int    // leading characters of the document embedded in the prompt
	Logger      *slog.Logger
	Now         func() time.Time
}

// ExtractorOptionsFrom converts resolved extraction settings.
func ExtractorOptionsFrom(s config.ExtractionSettings, logger *slog.Logger) ExtractorOptions {
	return ExtractorOptions{Mode: s.Mode.Value, PromptChars: s.PromptChars, Logger: logger}
}

// Extractor pulls structured fields out of normalized text.
type Extractor struct {
	provider    llm.Provider
	mode        string
	promptChars int
	logger      *slog.Logger
	now         func() time.Time
}

func NewExtractor(provider llm.Provider, opts ExtractorOptions) *Extractor {
	if opts.Mode == "" {
		opts.Mode = config.ModeAIWithFallback
	}
	if opts.PromptChars <= 0 {
		opts.PromptChars = config.DefaultPromptChars
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Extractor{
		provider:    provider,
		mode:        opts.Mode,
		promptChars: opts.PromptChars,
		logger:      logging.OrDiscard(opts.Logger),
		now:         opts.Now,
	}
}

// Mode returns the configured extraction policy.
func (e *Extractor) Mode() string { return e.mode }

// Extract applies the configured policy. With ai_with_fallback, an AI
// result whose status is "error" is replaced by the regex result, which
// records why in "fallback_reason".
func (e *Extractor) Extract(ctx context.Context, text string) Extraction {
	switch e.mode {
	case config.ModeRules:
		return e.ExtractRules(text)
	case config.ModeAI:
		return e.ExtractAI(ctx, text)
	}

	res := e.ExtractAI(ctx, text)
	if res.Status() != StatusError {
		return res
	}
	reason, _ := res["error"].(string)
	e.logger.Info("extract.fallback", "reason", reason)

	fb := e.ExtractRules(text)
	if fb.Status() != StatusError {
		fb["fallback_reason"] = reason
	}
	return fb
}

// ExtractAI asks the model for a JSON object describing text. It never
// fails; any error yields the structured error payload.
func (e *Extractor) ExtractAI(ctx context.Context, text string) Extraction {
	if e.provider == nil {
		return e.errorResult(text, apperr.Extraction("extract ai", "no LLM provider configured", nil), "")
	}

	raw, err := e.provider.Complete(ctx, e.Prompt(text))
	if err != nil {
		return e.errorResult(text, apperr.Extraction("extract ai", "completion failed", err), "")
	}

	obj, err := ParseResponse(raw)
	if err != nil {
		e.logger.Debug("extract.ai.unparseable", "raw", textutil.Truncate(raw, 200))
		return e.errorResult(text, apperr.Extraction("extract ai", "unusable model response", err), raw)
	}

	out := Extraction(obj)
	out["timestamp"] = e.timestamp()
	out["content_length"] = utf8.RuneCountInString(text)
	out["extraction_method"] = MethodAI
	out["status"] = StatusSuccess
	return out
}

// ExtractRules harvests key details with regular expressions. It never
// touches the network and, for a fixed clock, is deterministic.
func (e *Extractor) ExtractRules(text string) (out Extraction) {
	defer func() {
		if r := recover(); r != nil {
			out = e.errorResult(text, apperr.Extraction("extract rules", "rule extraction panicked", fmt.Errorf("%v", r)), "")
		}
	}()

	return Extraction{
		"key_details":       matchRules(text),
		"timestamp":         e.timestamp(),
		"content_length":    utf8.RuneCountInString(text),
		"extraction_method": MethodRegex,
		"status":            StatusSuccess,
	}
}

// Prompt builds the extraction prompt around the leading PromptChars
// characters of text.
func (e *Extractor) Prompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Extract key information from this document:\n")
	sb.WriteString(textutil.Truncate(text, e.promptChars))
	sb.WriteString(`

Return a JSON object with these fields:
- sender: who sent/created the document
- recipients: who received the document
- dates: any dates found
- emails: any email addresses
- amounts: any monetary amounts
- key_details: other important information

Format the response as valid JSON only.
`)
	return sb.String()
}

func (e *Extractor) errorResult(text string, err error, raw string) Extraction {
	out := Extraction{
		"error":       err.Error(),
		"timestamp":   e.timestamp(),
		"raw_content": textutil.Truncate(text, rawContentChars),
		"status":      StatusError,
	}
	if raw != "" {
		out["raw_response"] = textutil.Truncate(raw, rawResponseChars)
	}
	return out
}

func (e *Extractor) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}
