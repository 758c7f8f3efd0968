// Package extract classifies document intent and pulls structured fields
// out of normalized text, either through the LLM or through regex rules.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hurttlocker/docrouter/internal/config"
	"github.com/hurttlocker/docrouter/internal/llm"
	"github.com/hurttlocker/docrouter/internal/logging"
	"github.com/hurttlocker/docrouter/internal/textutil"
)

// ClassifierOptions configures the intent label set.
type ClassifierOptions struct {
	Labels   []string // base intents offered to the model
	Prefix   string   // prepended to any label that lacks it; "" disables
	Sentinel string   // bare label returned when no intent applies
	Fallback string   // label used when the model gives nothing usable
	Strict   bool     // map labels outside Labels to Fallback
	Logger   *slog.Logger
}

// ClassifierOptionsFrom converts resolved intent settings.
func ClassifierOptionsFrom(s config.IntentSettings, logger *slog.Logger) ClassifierOptions {
	return ClassifierOptions{
		Labels:   s.Labels,
		Prefix:   s.Prefix,
		Sentinel: s.Sentinel,
		Fallback: s.Fallback,
		Strict:   s.Strict,
		Logger:   logger,
	}
}

// Classifier asks the LLM for a short intent label and normalizes it.
type Classifier struct {
	provider llm.Provider
	opts     ClassifierOptions
	logger   *slog.Logger
}

func NewClassifier(provider llm.Provider, opts ClassifierOptions) *Classifier {
	if len(opts.Labels) == 0 {
		opts.Labels = append([]string(nil), config.DefaultIntentLabels...)
	}
	if opts.Sentinel == "" {
		opts.Sentinel = config.DefaultSentinel
	}
	if opts.Fallback == "" {
		opts.Fallback = opts.Sentinel
	}
	return &Classifier{provider: provider, opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// Classify returns the intent label for text. It never fails: AI errors and
// empty answers yield the fallback label.
func (c *Classifier) Classify(ctx context.Context, text string) string {
	if c.provider == nil {
		return c.opts.Fallback
	}
	raw, err := c.provider.Complete(ctx, c.Prompt(text))
	if err != nil {
		c.logger.Warn("classify.fallback", "reason", "ai_error", "error", err)
		return c.opts.Fallback
	}
	label := c.Normalize(raw)
	c.logger.Debug("classify.ok", "raw", textutil.Truncate(raw, 80), "label", label)
	return label
}

// Prompt builds the classification prompt for text.
func (c *Classifier) Prompt(text string) string {
	examples := make([]string, 0, len(c.opts.Labels)+1)
	for _, l := range c.opts.Labels {
		examples = append(examples, "'"+c.opts.Prefix+l+"'")
	}

	var sb strings.Builder
	sb.WriteString("Classify the intent of the following content.\n")
	fmt.Fprintf(&sb, "Base intents are: %s.\n", strings.Join(c.opts.Labels, ", "))
	if c.opts.Prefix != "" {
		fmt.Fprintf(&sb, "Since all content is from emails, always prefix the intent with '%s'.\n", c.opts.Prefix)
	}
	fmt.Fprintf(&sb, "For example: %s.\n", strings.Join(examples, ", "))
	fmt.Fprintf(&sb, "If no specific intent is detected, return just '%s'.\n\n", c.opts.Sentinel)
	sb.WriteString("Content:\n\"\"\"\n")
	sb.WriteString(text)
	sb.WriteString("\n\"\"\"\n\n")
	fmt.Fprintf(&sb, "Return only the label (e.g., %s, '%s').\n", strings.Join(examples[:min(2, len(examples))], ", "), c.opts.Sentinel)
	return sb.String()
}

// Normalize turns a raw model answer into a label: the first non-empty line,
// trimmed of whitespace, quotes, backticks and a trailing period, with the
// prefix added when missing.
func (c *Classifier) Normalize(raw string) string {
	label := ""
	for _, line := range strings.Split(raw, "\n") {
		if l := cleanLabel(line); l != "" {
			label = l
			break
		}
	}
	if label == "" {
		return c.opts.Fallback
	}
	if strings.EqualFold(label, c.opts.Sentinel) {
		return c.opts.Sentinel
	}
	if p := c.opts.Prefix; p != "" {
		if hasPrefixFold(label, p) {
			label = p + label[len(p):]
		} else {
			label = p + label
		}
	}
	if c.opts.Strict {
		base := strings.TrimPrefix(label, c.opts.Prefix)
		for _, l := range c.opts.Labels {
			if strings.EqualFold(base, l) {
				return c.opts.Prefix + l
			}
		}
		return c.opts.Fallback
	}
	return label
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func cleanLabel(s string) string {
	for {
		t := strings.TrimSpace(s)
		t = strings.TrimSuffix(t, ".")
		t = strings.Trim(t, "\"'`")
		if t == s {
			return t
		}
		s = t
	}
}
