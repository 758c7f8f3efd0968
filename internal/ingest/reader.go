package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/hurttlocker/docrouter/internal/apperr"
	"github.com/hurttlocker/docrouter/internal/logging"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	ParseMIME bool // render .eml files as headers + text body
	Logger    *slog.Logger
}

// Reader produces normalized text from raw document content.
type Reader struct {
	parseMIME bool
	logger    *slog.Logger
}

func NewReader(opts ReaderOptions) *Reader {
	return &Reader{
		parseMIME: opts.ParseMIME,
		logger:    logging.OrDiscard(opts.Logger),
	}
}

// Read returns the normalized text for raw. PDF and JSON failures are
// apperr parse errors; text formats never fail.
func (r *Reader) Read(filename string, raw []byte) (string, error) {
	switch DetectFormat(filename) {
	case FormatPDF:
		return r.readPDF(raw)
	case FormatJSON:
		return readJSON(raw)
	default:
		if r.parseMIME && strings.EqualFold(filepath.Ext(filename), ".eml") {
			text, err := renderEnvelope(raw)
			if err == nil {
				return text, nil
			}
			r.logger.Debug("ingest.mime.fallback", "file", filename, "error", err)
		}
		return toText(raw), nil
	}
}

func toText(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "")
}

func readJSON(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", apperr.Parse("read json", "invalid JSON", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", apperr.Parse("read json", "invalid JSON", fmt.Errorf("unexpected data after top-level value"))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", apperr.Parse("read json", "re-encoding JSON", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// readPDF extracts page text, skipping pages the library cannot decode.
func (r *Reader) readPDF(raw []byte) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = apperr.Parse("read pdf", "malformed PDF", fmt.Errorf("%v", rec))
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", apperr.Parse("read pdf", "cannot open PDF", err)
	}

	n := doc.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pt, ok := pageText(doc, i)
		if !ok {
			r.logger.Debug("ingest.pdf.page_skipped", "page", i)
			continue
		}
		pages = append(pages, pt)
	}
	return strings.Join(pages, "\n"), nil
}

func pageText(doc *pdf.Reader, i int) (text string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			text, ok = "", false
		}
	}()
	page := doc.Page(i)
	if page.V.IsNull() {
		return "", false
	}
	s, err := page.GetPlainText(nil)
	if err != nil {
		return "", false
	}
	return toText([]byte(s)), true
}
