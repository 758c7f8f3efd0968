package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNoObject = errors.New("no JSON object found in response")

// ParseResponse isolates the text between the first '{' and the last '}' of
// an LLM answer, strips comments outside string literals, and decodes the
// result. Numbers are kept as json.Number.
func ParseResponse(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, errNoObject
	}
	cleaned := StripComments(raw[start : end+1])

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON from LLM: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON from LLM: unexpected data after object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNoObject
	}
	return obj, nil
}

// StripComments removes // line comments and /* */ block comments that
// appear outside JSON string literals. Line comments keep their newline; an
// unterminated block comment swallows the rest of the input.
func StripComments(s string) string {
	var out bytes.Buffer
	out.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			out.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		if ch == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					out.WriteByte('\n')
				}
				continue
			case '*':
				closeIdx := strings.Index(s[i+2:], "*/")
				if closeIdx < 0 {
					return out.String()
				}
				out.WriteByte(' ')
				i += 2 + closeIdx + 1
				continue
			}
		}
		if ch == '"' {
			inString = true
		}
		out.WriteByte(ch)
	}
	return out.String()
}
