// Package ingest turns uploaded documents into normalized text.
//
// The format is decided by file extension alone. PDF documents are reduced
// to their page text, JSON is re-indented, and everything else passes
// through as UTF-8 text. Optionally, .eml files are parsed as MIME
// envelopes so the classifier sees headers and body rather than raw
// transfer encoding.
package ingest

import (
	"path/filepath"
	"strings"
)

// Format is the coarse document type derived from a filename.
type Format string

const (
	FormatPDF     Format = "PDF"
	FormatJSON    Format = "JSON"
	FormatEmail   Format = "Email"
	FormatUnknown Format = "Unknown"
)

func (f Format) String() string { return string(f) }

// DetectFormat maps a filename to a Format by its lowercased extension.
// Content is never inspected.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF
	case ".json":
		return FormatJSON
	case ".txt", ".eml":
		return FormatEmail
	default:
		return FormatUnknown
	}
}
