package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/missingtext/constants"
)

// RawDocument is the ingested input. Immutable once created.
type RawDocument struct {
	ID           uuid.UUID
	Source       string
	DeclaredMIME string
	Bytes        []byte
	Format       constants.Format
	ContentHash  string
}

// NewRawDocument hashes data and assigns a fresh ID.
func NewRawDocument(data []byte, source, declared string, format constants.Format) *RawDocument {
	sum := sha256.Sum256(data)
	return &RawDocument{
		ID:           uuid.New(),
		Source:       source,
		DeclaredMIME: declared,
		Bytes:        data,
		Format:       format,
		ContentHash:  hex.EncodeToString(sum[:]),
	}
}

// Page is one physical page while it moves through the pipeline.
// It never leaves the pipeline; callers see NormalizedPage.
type Page struct {
	Index       int
	VectorText  string
	Image       []byte
	ImageFormat string // png, jpeg, tiff, bmp
	OCR         *OCRResult
	Tables      []Table // detected from glyph layout when the decoder can
	Err         error   // decode or OCR failure scoped to this page
}

// Table is a grid of cell texts found on a page, rows top to bottom.
type Table struct {
	Rows    [][]string `json:"rows"`
	Columns int        `json:"columns"`
}

// ImageText is the OCR result for one image embedded in a page. Xref is the
// image's PDF object number. A failed image keeps its place with Error set.
type ImageText struct {
	Xref       int     `json:"xref"`
	Format     string  `json:"format"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// BoundingBox is in image pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Token is one recognized word.
type Token struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// OCRResult is what an engine produced for one page image. Immutable.
type OCRResult struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"` // [0,1]
	Tokens     []Token       `json:"tokens,omitempty"`
	Engine     string        `json:"engine"`
	Duration   time.Duration `json:"duration"`
}

// PageFailure marks a page whose text could not be extracted.
type PageFailure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// NormalizedPage is the final, cleaned text for one page.
type NormalizedPage struct {
	Index      int              `json:"index"`
	Text       string           `json:"text"`
	Method     constants.Method `json:"method"`
	Confidence float64          `json:"confidence"`
	Language   string           `json:"language,omitempty"`
	Failure    *PageFailure     `json:"failure,omitempty"`
	Tables     []Table          `json:"tables,omitempty"`
	Images     []ImageText      `json:"images,omitempty"`
}

// Failed reports whether the page carries a failure marker.
func (p NormalizedPage) Failed() bool {
	return p.Method == constants.MethodExtractionFailed
}

// Skipped reports whether page text was not requested.
func (p NormalizedPage) Skipped() bool {
	return p.Method == constants.MethodSkipped
}

// DocumentMetadata aggregates per-document facts once all pages are final.
type DocumentMetadata struct {
	PageCount      int                      `json:"page_count"`
	MethodCounts   map[constants.Method]int `json:"method_counts"`
	MeanConfidence float64                  `json:"mean_confidence"`
	DurationMS     int64                    `json:"duration_ms"`
	Language       string                   `json:"language"`
	SourceFormat   constants.Format         `json:"source_format"`
	ByteSize       int                      `json:"byte_size"`
	FailedPages    []int                    `json:"failed_pages"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
}

// DocumentRecord is the pipeline output. The caller owns it.
type DocumentRecord struct {
	ID          uuid.UUID               `json:"id"`
	Source      string                  `json:"source"`
	Format      constants.Format        `json:"format"`
	ContentHash string                  `json:"content_hash"`
	State       constants.DocumentState `json:"state"`
	Pages       []NormalizedPage        `json:"pages"`
	Metadata    DocumentMetadata        `json:"metadata"`
}

// Text joins the page texts with a form feed between pages.
func (r *DocumentRecord) Text() string {
	n := 0
	for _, p := range r.Pages {
		n += len(p.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, p := range r.Pages {
		if i > 0 {
			buf = append(buf, '\f')
		}
		buf = append(buf, p.Text...)
	}
	return string(buf)
}
