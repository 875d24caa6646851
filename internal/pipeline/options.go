package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/normalize"
)

// Options tune one Process call.
type Options struct {
	OCRMinChars        int     `json:"ocr_min_chars" yaml:"ocr_min_chars"`
	OCRConfidenceFloor float64 `json:"ocr_confidence_floor" yaml:"ocr_confidence_floor"`
	MaxConcurrency     int     `json:"max_concurrency" yaml:"max_concurrency"`
	PageTimeoutMS      int     `json:"timeout_per_page_ms" yaml:"timeout_per_page_ms"`
	DocumentTimeoutMS  int     `json:"document_timeout_ms" yaml:"document_timeout_ms"`

	// What to pull from each page. Without Text, pages are marked skipped.
	ExtractText   bool `json:"text" yaml:"text"`
	ExtractTables bool `json:"tables" yaml:"tables"`
	ExtractImages bool `json:"images" yaml:"images"`
}

// DefaultOptions: 10 chars, 0.5 floor, one page per CPU, 5s per page, 60s per
// document; text and tables on, per-image OCR off.
func DefaultOptions() Options {
	return Options{
		OCRMinChars:        10,
		OCRConfidenceFloor: 0.5,
		MaxConcurrency:     runtime.NumCPU(),
		PageTimeoutMS:      5000,
		DocumentTimeoutMS:  60000,
		ExtractText:        true,
		ExtractTables:      true,
	}
}

// OptionsFromConfig maps the pipeline config section onto Options.
func OptionsFromConfig(c common.PipelineConfig) Options {
	return Options{
		OCRMinChars:        c.OCRMinChars,
		OCRConfidenceFloor: c.OCRConfidenceFloor,
		MaxConcurrency:     c.MaxConcurrency,
		PageTimeoutMS:      c.PageTimeoutMS,
		DocumentTimeoutMS:  c.DocumentTimeoutMS,
		ExtractText:        c.ExtractText,
		ExtractTables:      c.ExtractTables,
		ExtractImages:      c.ExtractImages,
	}
}

// Merge overlays a JSON object of option overrides onto o. Unknown keys are rejected.
func (o Options) Merge(raw []byte) (Options, error) {
	if len(raw) == 0 {
		return o, nil
	}
	out := o
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return o, fmt.Errorf("%w: options: %v", common.ErrInvalidInput, err)
	}
	return out, out.Validate()
}

func (o Options) PageTimeout() time.Duration {
	return time.Duration(o.PageTimeoutMS) * time.Millisecond
}

func (o Options) DocumentTimeout() time.Duration {
	return time.Duration(o.DocumentTimeoutMS) * time.Millisecond
}

func (o Options) mergeOptions() normalize.MergeOptions {
	return normalize.MergeOptions{MinChars: o.OCRMinChars, ConfidenceFloor: o.OCRConfidenceFloor}
}

// Validate rejects options the pipeline cannot run with.
func (o Options) Validate() error {
	v := common.NewValidator()
	v.Field("ocr_min_chars", o.OCRMinChars, common.NonNegative)
	v.Field("ocr_confidence_floor", o.OCRConfidenceFloor, common.UnitInterval)
	v.Field("max_concurrency", o.MaxConcurrency, common.Positive)
	v.Field("timeout_per_page_ms", o.PageTimeoutMS, common.Positive)
	v.Field("document_timeout_ms", o.DocumentTimeoutMS, common.Positive)
	v.Field("text", o.ExtractText || o.ExtractTables || o.ExtractImages, somethingToExtract)
	return v.Error()
}

func somethingToExtract(field string, value any) *common.ValidationError {
	if on, _ := value.(bool); !on {
		return &common.ValidationError{Field: field, Value: value, Message: "one of text, tables or images must be enabled"}
	}
	return nil
}
