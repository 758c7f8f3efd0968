// Package pipeline sequences format detection, reading, intent
// classification, extraction and logging for one document at a time.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hurttlocker/docrouter/internal/apperr"
	"github.com/hurttlocker/docrouter/internal/config"
	"github.com/hurttlocker/docrouter/internal/extract"
	"github.com/hurttlocker/docrouter/internal/ingest"
	"github.com/hurttlocker/docrouter/internal/llm"
	"github.com/hurttlocker/docrouter/internal/logging"
	"github.com/hurttlocker/docrouter/internal/store"
)

// serializeFailure replaces a record that cannot be encoded or does not
// satisfy the record contract.
const serializeFailure = `{"error":"Failed to serialize result"}`

// ManualInputName is the filename given to pasted or piped text.
const ManualInputName = "manual_input.txt"

// Document is one upload: a filename and its raw bytes.
type Document struct {
	Filename string
	Content  []byte
}

// Outcome is the result of classifying one document.
type Outcome struct {
	RunID      string             `json:"run_id"`
	Filename   string             `json:"filename"`
	Format     ingest.Format      `json:"file_format"`
	Intent     string             `json:"intent"`
	Result     extract.Extraction `json:"result"`
	Serialized string             `json:"-"`
	EntryID    int64              `json:"entry_id,omitempty"` // set once recorded
}

// Method returns the extraction method recorded in the result.
func (o *Outcome) Method() string { return o.Result.Method() }

// PrettyJSON returns the result indented for display.
func (o *Outcome) PrettyJSON() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(o.Serialized), "", "  "); err != nil {
		return o.Serialized
	}
	return buf.String()
}

// Options wires a Router. Reader, Classifier and Extractor are required.
type Options struct {
	Reader     *ingest.Reader
	Classifier *extract.Classifier
	Extractor  *extract.Extractor
	Store      store.Store // nil disables Record
	JSONFields []string    // target fields checked in JSON documents; empty disables
	Logger     *slog.Logger
	Now        func() time.Time
}

// Router runs the classification pipeline.
type Router struct {
	reader     *ingest.Reader
	classifier *extract.Classifier
	extractor  *extract.Extractor
	store      store.Store
	jsonFields []string
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		reader:     opts.Reader,
		classifier: opts.Classifier,
		extractor:  opts.Extractor,
		store:      opts.Store,
		jsonFields: opts.JSONFields,
		logger:     logging.OrDiscard(opts.Logger),
		now:        opts.Now,
	}
}

// NewFromConfig builds every stage from resolved configuration.
func NewFromConfig(cfg config.Config, provider llm.Provider, st store.Store, logger *slog.Logger) *Router {
	return New(Options{
		Reader:     ingest.NewReader(ingest.ReaderOptions{ParseMIME: cfg.Reader.ParseMIME, Logger: logger}),
		Classifier: extract.NewClassifier(provider, extract.ClassifierOptionsFrom(cfg.Intents, logger)),
		Extractor:  extract.NewExtractor(provider, extract.ExtractorOptionsFrom(cfg.Extraction, logger)),
		Store:      st,
		JSONFields: cfg.Extraction.JSONFields,
		Logger:     logger,
	})
}

// Classify detects, reads, classifies and extracts doc. Parse and
// validation errors are fatal; AI problems degrade inside the result.
func (r *Router) Classify(ctx context.Context, doc Document) (*Outcome, error) {
	start := r.now()
	out := &Outcome{RunID: uuid.NewString(), Filename: doc.Filename}
	log := r.logger.With("run_id", out.RunID, "file", doc.Filename)

	out.Format = ingest.DetectFormat(doc.Filename)

	text, err := r.reader.Read(doc.Filename, doc.Content)
	if err != nil {
		log.Warn("pipeline.read.failed", "format", out.Format, "error", err)
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		log.Warn("pipeline.validate.failed", "format", out.Format)
		return nil, apperr.Validation("classify", "no content parsed from file", nil)
	}

	out.Intent = r.classifier.Classify(ctx, text)
	res := r.extractor.Extract(ctx, text)
	out.Result = r.assemble(res, out.Format)
	if out.Format == ingest.FormatJSON && len(r.jsonFields) > 0 {
		out.Result["json_fields"] = extract.CheckFields(text, r.jsonFields)
	}
	if out.Serialized, err = encodeRecord(out.Result); err != nil {
		log.Warn("pipeline.record.invalid", "error", err)
	}

	log.Info("pipeline.classify.ok",
		"format", out.Format,
		"intent", out.Intent,
		"method", out.Method(),
		"status", out.Result.Status(),
		"elapsed_ms", r.now().Sub(start).Milliseconds(),
	)
	return out, nil
}

// Record writes out to the log store and sets out.EntryID.
func (r *Router) Record(ctx context.Context, out *Outcome) (int64, error) {
	if r.store == nil {
		return 0, apperr.Storage("record", "no log store configured", nil)
	}
	if out == nil {
		return 0, apperr.Validation("record", "outcome is nil", nil)
	}
	id, err := r.store.Insert(ctx, &store.Entry{
		Source:    out.Filename,
		Type:      string(out.Format),
		Intent:    out.Intent,
		Extracted: out.Serialized,
		Timestamp: r.now(),
	})
	if err != nil {
		r.logger.Error("pipeline.record.failed", "run_id", out.RunID, "error", err)
		return 0, err
	}
	out.EntryID = id
	r.logger.Debug("pipeline.record.ok", "run_id", out.RunID, "entry_id", id)
	return id, nil
}

// ClassifyAndRoute runs Classify then Record. When only recording fails,
// the outcome is still returned alongside the storage error.
func (r *Router) ClassifyAndRoute(ctx context.Context, doc Document) (*Outcome, error) {
	out, err := r.Classify(ctx, doc)
	if err != nil {
		return nil, err
	}
	if _, err := r.Record(ctx, out); err != nil {
		return out, fmt.Errorf("recording %s: %w", doc.Filename, err)
	}
	return out, nil
}

// assemble copies res and adds the routing metadata.
func (r *Router) assemble(res extract.Extraction, format ingest.Format) extract.Extraction {
	out := make(extract.Extraction, len(res)+3)
	for k, v := range res {
		out[k] = v
	}
	method := res.Method()
	if method == "" {
		method = extract.MethodAI
		if r.extractor.Mode() == config.ModeRules {
			method = extract.MethodRegex
		}
	}
	out["file_format"] = string(format)
	out["extraction_method"] = method
	out["processed_at"] = r.now().UTC().Format(time.RFC3339Nano)
	return out
}

// encodeRecord serializes res and checks it against the record contract.
// Any failure yields serializeFailure along with the reason.
func encodeRecord(res extract.Extraction) (string, error) {
	data := serialize(res)
	if data == serializeFailure {
		return data, errors.New("result is not JSON-encodable")
	}
	if err := extract.ValidateRecord([]byte(data)); err != nil {
		return serializeFailure, err
	}
	return data, nil
}

func serialize(res extract.Extraction) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return serializeFailure
	}
	return strings.TrimRight(buf.String(), "\n")
}
