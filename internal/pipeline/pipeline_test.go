package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/docrouter/internal/apperr"
	"github.com/hurttlocker/docrouter/internal/config"
	"github.com/hurttlocker/docrouter/internal/extract"
	"github.com/hurttlocker/docrouter/internal/ingest"
	"github.com/hurttlocker/docrouter/internal/store"
)

type mockProvider struct {
	responses map[string]string // prompt prefix -> response
	err       error
	calls     int
}

func (m *mockProvider) Complete(_ context.Context, prompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	for prefix, resp := range m.responses {
		if strings.HasPrefix(prompt, prefix) {
			return resp, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

func (m *mockProvider) Name() string { return "mock/test" }

// failingStore rejects every write.
type failingStore struct{ store.Store }

func (failingStore) Insert(context.Context, *store.Entry) (int64, error) {
	return 0, apperr.Storage("insert", "writing log entry", errors.New("disk I/O error"))
}

var fixedNow = func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) }

func newRouter(t *testing.T, p *mockProvider, mode string, st store.Store) *Router {
	t.Helper()
	cfg := config.Defaults()
	cfg.Extraction.Mode.Value = mode
	r := NewFromConfig(cfg, p, st, nil)
	r.now = fixedNow
	return r
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClassifyAndRoute_JSONRulesEndToEnd(t *testing.T) {
	st := newStore(t)
	p := &mockProvider{responses: map[string]string{"Classify the intent": "RFQ"}}
	r := newRouter(t, p, config.ModeRules, st)

	out, err := r.ClassifyAndRoute(context.Background(), Document{
		Filename: "order.json",
		Content:  []byte(`{"customer_name":"Acme"}`),
	})
	if err != nil {
		t.Fatalf("ClassifyAndRoute: %v", err)
	}
	if out.Format != ingest.FormatJSON || out.Intent != "Email+RFQ" {
		t.Fatalf("format/intent = %s/%s", out.Format, out.Intent)
	}
	if out.Result.Status() == "" {
		t.Fatal("status key missing from result")
	}
	if out.Method() != extract.MethodRegex {
		t.Fatalf("method = %q", out.Method())
	}
	if out.Result["file_format"] != "JSON" || out.Result["processed_at"] != "2025-06-02T10:00:00Z" {
		t.Fatalf("metadata = %v", out.Result)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1 (classification only)", p.calls)
	}

	entries, err := st.List(context.Background(), store.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Type != "JSON" || e.Source != "order.json" || e.Intent != "Email+RFQ" || e.ID != out.EntryID {
		t.Fatalf("entry = %+v", e)
	}
	var stored map[string]any
	if err := json.Unmarshal([]byte(e.Extracted), &stored); err != nil {
		t.Fatalf("stored extraction is not JSON: %v", err)
	}
	if stored["file_format"] != "JSON" {
		t.Fatalf("stored = %v", stored)
	}
	fields, ok := stored["json_fields"].(map[string]any)
	if !ok || fields["status"] != "incomplete" {
		t.Fatalf("json_fields = %v", stored["json_fields"])
	}
	missing, _ := fields["missing_fields"].([]any)
	if len(missing) != 3 || missing[0] != "order_id" {
		t.Fatalf("missing_fields = %v", fields["missing_fields"])
	}
}

func TestClassify_JSONFieldsOnlyForJSON(t *testing.T) {
	p := &mockProvider{responses: map[string]string{"Classify the intent": "RFQ"}}
	r := newRouter(t, p, config.ModeRules, nil)

	out, err := r.Classify(context.Background(), Document{Filename: "order.txt", Content: []byte(`{"customer_name":"Acme"}`)})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, ok := out.Result["json_fields"]; ok {
		t.Fatalf("json_fields on a text document: %v", out.Result)
	}

	r.jsonFields = nil
	out, err = r.Classify(context.Background(), Document{Filename: "order.json", Content: []byte(`{"customer_name":"Acme"}`)})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, ok := out.Result["json_fields"]; ok {
		t.Fatalf("json_fields with the check disabled: %v", out.Result)
	}
}

func TestClassify_AIPathWithFallback(t *testing.T) {
	t.Run("ai success", func(t *testing.T) {
		p := &mockProvider{responses: map[string]string{
			"Classify the intent": "Email+Invoice",
			"Extract key":         "```json\n{\"sender\": \"Acme Corp.\", \"amounts\": [\"$1,250.00\"]}\n```",
		}}
		r := newRouter(t, p, config.ModeAIWithFallback, nil)
		out, err := r.Classify(context.Background(), Document{Filename: "inv.txt", Content: []byte("Invoice from Acme Corp. for $1,250.00")})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if out.Method() != extract.MethodAI || out.Result["sender"] != "Acme Corp." {
			t.Fatalf("result = %v", out.Result)
		}
		if out.Result["file_format"] != "Email" {
			t.Fatalf("file_format = %v", out.Result["file_format"])
		}
		if !strings.Contains(out.PrettyJSON(), "\n  \"sender\": \"Acme Corp.\"") {
			t.Fatalf("pretty json:\n%s", out.PrettyJSON())
		}
	})

	t.Run("ai down", func(t *testing.T) {
		p := &mockProvider{err: apperr.AIClient("complete", "API key is not configured", nil)}
		r := newRouter(t, p, config.ModeAIWithFallback, nil)
		out, err := r.Classify(context.Background(), Document{Filename: "inv.eml", Content: []byte("Pay billing@acme.example by 01/07/2025")})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if out.Intent != "Email" {
			t.Fatalf("intent = %q, want fallback", out.Intent)
		}
		if out.Method() != extract.MethodRegex || out.Result.Status() != extract.StatusSuccess {
			t.Fatalf("result = %v", out.Result)
		}
		if p.calls != 2 {
			t.Fatalf("calls = %d, want 2", p.calls)
		}
	})

	t.Run("ai only mode keeps error payload", func(t *testing.T) {
		p := &mockProvider{err: errors.New("boom")}
		r := newRouter(t, p, config.ModeAI, nil)
		out, err := r.Classify(context.Background(), Document{Filename: "a.txt", Content: []byte("hello")})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if out.Result.Status() != extract.StatusError || out.Method() != extract.MethodAI {
			t.Fatalf("result = %v", out.Result)
		}
		if out.Result["raw_content"] != "hello" {
			t.Fatalf("raw_content = %v", out.Result["raw_content"])
		}
	})
}

func TestClassify_EmptyInputFailsBeforeAI(t *testing.T) {
	for name, content := range map[string][]byte{
		"empty":      nil,
		"whitespace": []byte(" \n\t "),
		"invalid":    []byte("\xff\xfe"),
	} {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)
			p := &mockProvider{}
			r := newRouter(t, p, config.ModeAIWithFallback, st)
			_, err := r.ClassifyAndRoute(context.Background(), Document{Filename: "empty.txt", Content: content})
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
			if p.calls != 0 {
				t.Fatalf("AI called %d times", p.calls)
			}
			if n, _ := st.Count(context.Background()); n != 0 {
				t.Fatalf("entries = %d, want 0", n)
			}
		})
	}
}

func TestClassify_ParseErrorIsFatal(t *testing.T) {
	p := &mockProvider{}
	r := newRouter(t, p, config.ModeRules, nil)
	_, err := r.Classify(context.Background(), Document{Filename: "bad.json", Content: []byte(`{"a":`)})
	if !apperr.IsKind(err, apperr.KindParse) {
		t.Fatalf("err = %v, want parse", err)
	}
	if p.calls != 0 {
		t.Fatalf("AI called %d times", p.calls)
	}
}

func TestClassifyAndRoute_StorageFailureKeepsOutcome(t *testing.T) {
	p := &mockProvider{responses: map[string]string{"Classify the intent": "Complaint"}}
	r := newRouter(t, p, config.ModeRules, failingStore{})

	out, err := r.ClassifyAndRoute(context.Background(), Document{Filename: "c.txt", Content: []byte("This is unacceptable.")})
	if !apperr.IsKind(err, apperr.KindStorage) {
		t.Fatalf("err = %v, want storage", err)
	}
	if out == nil || out.Intent != "Email+Complaint" || out.EntryID != 0 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRecord_NoStore(t *testing.T) {
	r := newRouter(t, &mockProvider{}, config.ModeRules, nil)
	if _, err := r.Record(context.Background(), &Outcome{Filename: "a.txt", Format: ingest.FormatEmail}); !apperr.IsKind(err, apperr.KindStorage) {
		t.Fatalf("err = %v", err)
	}
}

func TestSerializeFailure(t *testing.T) {
	got := serialize(extract.Extraction{"bad": math.NaN()})
	if got != serializeFailure {
		t.Fatalf("got %q", got)
	}
	if got := serialize(extract.Extraction{"a": "<b>"}); got != `{"a":"<b>"}` {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeRecord(t *testing.T) {
	valid := func() extract.Extraction {
		return extract.Extraction{
			"key_details":       map[string][]string{"emails": {"a@b.example"}},
			"timestamp":         "2025-06-02T10:00:00Z",
			"content_length":    12,
			"extraction_method": extract.MethodRegex,
			"status":            extract.StatusSuccess,
			"file_format":       "Email",
			"processed_at":      "2025-06-02T10:00:00Z",
		}
	}
	tests := []struct {
		name    string
		mutate  func(extract.Extraction)
		wantErr bool
	}{
		{"valid regex record", func(extract.Extraction) {}, false},
		{"model keys are free-form", func(e extract.Extraction) { e["extraction_method"] = extract.MethodAI; e["key_details"] = "anything" }, false},
		{"unknown status", func(e extract.Extraction) { e["status"] = "maybe" }, true},
		{"unknown method", func(e extract.Extraction) { e["extraction_method"] = "ocr" }, true},
		{"missing processed_at", func(e extract.Extraction) { delete(e, "processed_at") }, true},
		{"fractional content_length", func(e extract.Extraction) { e["content_length"] = 1.5 }, true},
		{"regex record without key_details", func(e extract.Extraction) { delete(e, "key_details") }, true},
		{"regex details must be string lists", func(e extract.Extraction) { e["key_details"] = map[string]any{"emails": 3} }, true},
		{"bad json_fields status", func(e extract.Extraction) {
			e["json_fields"] = map[string]any{"parsed_data": map[string]any{}, "missing_fields": []string{}, "status": "done"}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)
			got, err := encodeRecord(rec)
			if tt.wantErr {
				if err == nil || got != serializeFailure {
					t.Fatalf("got %q, %v; want serialize failure", got, err)
				}
				return
			}
			if err != nil || got == serializeFailure {
				t.Fatalf("got %q, %v", got, err)
			}
		})
	}

	if got, err := encodeRecord(extract.Extraction{"bad": math.NaN()}); err == nil || got != serializeFailure {
		t.Fatalf("NaN record = %q, %v", got, err)
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	p := &mockProvider{responses: map[string]string{"Classify the intent": "Email"}}
	r := newRouter(t, p, config.ModeRules, nil)
	a, _ := r.Classify(context.Background(), Document{Filename: "a.txt", Content: []byte("x")})
	b, _ := r.Classify(context.Background(), Document{Filename: "a.txt", Content: []byte("x")})
	if a.RunID == "" || a.RunID == b.RunID {
		t.Fatalf("run ids %q / %q", a.RunID, b.RunID)
	}
}
