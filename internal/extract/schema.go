package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// recordSchema is the contract for an assembled extraction record before it
// is persisted. Keys the model adds are free-form; the metadata keys are not.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status", "timestamp", "extraction_method", "file_format", "processed_at"],
  "properties": {
    "status": {"enum": ["success", "error"]},
    "timestamp": {"type": "string", "format": "date-time"},
    "processed_at": {"type": "string", "format": "date-time"},
    "content_length": {"type": "integer", "minimum": 0},
    "extraction_method": {"enum": ["nvidia_ai", "regex"]},
    "file_format": {"enum": ["PDF", "JSON", "Email", "Unknown"]},
    "fallback_reason": {"type": "string"},
    "json_fields": {
      "type": "object",
      "required": ["parsed_data", "missing_fields", "status"],
      "properties": {
        "parsed_data": {"type": "object"},
        "missing_fields": {"type": "array", "items": {"type": "string"}},
        "status": {"enum": ["ok", "incomplete"]}
      }
    }
  },
  "if": {
    "required": ["extraction_method", "status"],
    "properties": {
      "extraction_method": {"const": "regex"},
      "status": {"const": "success"}
    }
  },
  "then": {
    "required": ["key_details", "content_length"],
    "properties": {
      "key_details": {
        "type": "object",
        "additionalProperties": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var compiledRecordSchema = mustCompileSchema("extraction-record.json", recordSchema)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// ValidateRecord checks a serialized extraction record against the record
// contract.
func ValidateRecord(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	if err := compiledRecordSchema.Validate(v); err != nil {
		return fmt.Errorf("record does not match schema: %w", err)
	}
	return nil
}
