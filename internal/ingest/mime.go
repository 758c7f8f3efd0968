package ingest

import (
	"bytes"
	"errors"
	"strings"

	"github.com/jhillyerd/enmime"
)

var envelopeHeaders = []string{"From", "To", "Cc", "Subject", "Date"}

// renderEnvelope parses an RFC 5322 message and renders its main headers,
// a blank line and the text body.
func renderEnvelope(raw []byte) (string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, h := range envelopeHeaders {
		if v := strings.TrimSpace(env.GetHeader(h)); v != "" {
			b.WriteString(h)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
	body := strings.TrimSpace(env.Text)
	if b.Len() == 0 && body == "" {
		return "", errors.New("message has no headers or text body")
	}
	b.WriteByte('\n')
	b.WriteString(body)
	return toText([]byte(strings.TrimRight(b.String(), "\n"))), nil
}
