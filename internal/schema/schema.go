// Package schema describes the JSON form of a DocumentRecord and checks
// documents against it.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// RecordSchema returns the JSON Schema of a DocumentRecord as a generic map.
func RecordSchema() map[string]any {
	methods := make([]string, 0, len(constants.AllMethods))
	methodCounts := map[string]any{}
	for _, m := range constants.AllMethods {
		methods = append(methods, string(m))
		methodCounts[string(m)] = map[string]any{"type": "integer", "minimum": 0}
	}
	formats := make([]string, 0, len(constants.FileTypes))
	for _, f := range constants.FileTypes {
		formats = append(formats, string(f))
	}

	page := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"index":      map[string]any{"type": "integer", "minimum": 0},
			"text":       map[string]any{"type": "string"},
			"method":     map[string]any{"type": "string", "enum": methods},
			"confidence": unitInterval(),
			"language":   map[string]any{"type": "string"},
			"failure": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"stage":   map[string]any{"type": "string", "enum": []string{constants.StageDecode, constants.StageOCR, constants.StageNormalize}},
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"stage", "message"},
			},
			"tables": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"rows": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
						"columns": map[string]any{"type": "integer", "minimum": 1},
					},
					"required": []string{"rows", "columns"},
				},
			},
			"images": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"xref":       map[string]any{"type": "integer", "minimum": 0},
						"format":     map[string]any{"type": "string"},
						"width":      map[string]any{"type": "integer", "minimum": 0},
						"height":     map[string]any{"type": "integer", "minimum": 0},
						"text":       map[string]any{"type": "string"},
						"confidence": unitInterval(),
						"error":      map[string]any{"type": "string"},
					},
					"required": []string{"xref", "text", "confidence"},
				},
			},
		},
		"required": []string{"index", "text", "method", "confidence"},
	}

	metadata := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"page_count": map[string]any{"type": "integer", "minimum": 0},
			"method_counts": map[string]any{
				"type":                 "object",
				"properties":           methodCounts,
				"additionalProperties": false,
			},
			"mean_confidence": unitInterval(),
			"duration_ms":     map[string]any{"type": "integer", "minimum": 0},
			"language":        map[string]any{"type": "string", "minLength": 2},
			"source_format":   map[string]any{"type": "string", "enum": formats},
			"byte_size":       map[string]any{"type": "integer", "minimum": 0},
			"failed_pages":    map[string]any{"type": "array", "items": map[string]any{"type": "integer", "minimum": 0}},
			"started_at":      map[string]any{"type": "string"},
			"finished_at":     map[string]any{"type": "string"},
		},
		"required": []string{"page_count", "method_counts", "mean_confidence", "language", "failed_pages"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":           map[string]any{"type": "string", "pattern": `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`},
			"source":       map[string]any{"type": "string"},
			"format":       map[string]any{"type": "string", "enum": formats},
			"content_hash": map[string]any{"type": "string", "pattern": `^[0-9a-f]{64}$`},
			"state":        map[string]any{"type": "string", "const": string(constants.StateComplete)},
			"pages":        map[string]any{"type": "array", "items": page},
			"metadata":     metadata,
		},
		"required": []string{"id", "format", "content_hash", "state", "pages", "metadata"},
	}
}

func unitInterval() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(RecordSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
})

// ValidateRecord checks a JSON-encoded record against RecordSchema. It also
// checks that page indices run 0..n-1 and match page_count, which the schema
// language cannot express.
func ValidateRecord(data []byte) error {
	s, err := compiled()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}

	var rec entity.DocumentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.Metadata.PageCount != len(rec.Pages) {
		return fmt.Errorf("page_count %d does not match %d pages", rec.Metadata.PageCount, len(rec.Pages))
	}
	for i, p := range rec.Pages {
		if p.Index != i {
			return fmt.Errorf("page %d has index %d", i, p.Index)
		}
	}
	return nil
}

// Validate marshals rec and validates it.
func Validate(rec *entity.DocumentRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return ValidateRecord(b)
}
