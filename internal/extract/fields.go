package extract

import (
	"encoding/json"
	"strings"
)

const (
	FieldsOK         = "ok"
	FieldsIncomplete = "incomplete"
)

// CheckFields reports which target fields a JSON document carries at its
// top level. The result holds "parsed_data" (each target mapped to its value
// or nil), "missing_fields" and "status" (ok or incomplete). A document that
// is not a JSON object is missing every field.
func CheckFields(text string, targets []string) map[string]any {
	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		doc = nil
	}

	parsed := make(map[string]any, len(targets))
	missing := make([]string, 0, len(targets))
	for _, f := range targets {
		v, ok := doc[f]
		if !ok {
			missing = append(missing, f)
		}
		parsed[f] = v
	}

	status := FieldsOK
	if len(missing) > 0 {
		status = FieldsIncomplete
	}
	return map[string]any{
		"parsed_data":    parsed,
		"missing_fields": missing,
		"status":         status,
	}
}
