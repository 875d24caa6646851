// Package decode turns a RawDocument into a sequence of pages.
package decode

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// ErrNoImage is returned by Render when a page has nothing to rasterize.
var ErrNoImage = errors.New("page has no image")

// Decoder opens a document of one format.
type Decoder interface {
	Open(ctx context.Context, doc *entity.RawDocument) (PageSource, error)
}

// PageSource gives random access to the pages of one open document.
// Implementations serialize access internally; Page and Render are safe to
// call from several goroutines.
type PageSource interface {
	// Len is the physical page count.
	Len() int
	// Page returns page i with its vector text. Image is filled only when
	// it is free to do so (image documents). A corrupt page yields a
	// *common.PageDecodeError together with a page carrying that error.
	Page(ctx context.Context, i int) (*entity.Page, error)
	// Render produces an image of page i for OCR, returning the image bytes
	// and their format name.
	Render(ctx context.Context, i int) ([]byte, string, error)
	Close() error
}

// EmbeddedImage is one image object placed on a page.
type EmbeddedImage struct {
	Xref     int    // PDF object number
	FileType string // as stored in the document
	Format   string // OCR format name, empty when no engine reads FileType
	Width    int
	Height   int
	Data     []byte
}

// ImageLister is implemented by sources whose pages can embed images.
type ImageLister interface {
	Images(ctx context.Context, i int) ([]EmbeddedImage, error)
}

// All yields every page of src in order. The sequence is single-use: src is
// closed when iteration finishes or the consumer breaks early.
func All(ctx context.Context, src PageSource) iter.Seq2[*entity.Page, error] {
	return func(yield func(*entity.Page, error) bool) {
		defer src.Close()
		Pages(ctx, src)(yield)
	}
}

// Pages is All without the Close, for callers that still render from src
// after iteration ends. A cancelled ctx ends the sequence with (nil, ctx.Err()).
func Pages(ctx context.Context, src PageSource) iter.Seq2[*entity.Page, error] {
	return func(yield func(*entity.Page, error) bool) {
		for i := 0; i < src.Len(); i++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			p, err := src.Page(ctx, i)
			if p == nil {
				p = &entity.Page{Index: i, Err: err}
			}
			if !yield(p, err) {
				return
			}
		}
	}
}

// Registry maps formats to decoders.
type Registry struct {
	decoders map[constants.Format]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[constants.Format]Decoder)}
}

// DefaultRegistry wires the PDF, image and text decoders.
func DefaultRegistry(r *Rasterizer, logger *slog.Logger) *Registry {
	reg := NewRegistry()
	reg.Register(constants.PDF, NewPDFDecoder(r, logger))
	reg.Register(constants.IMAGE, NewImageDecoder(logger))
	reg.Register(constants.TEXT, TextDecoder{})
	return reg
}

func (r *Registry) Register(f constants.Format, d Decoder) {
	r.decoders[f] = d
}

// Open dispatches to the decoder registered for doc.Format.
func (r *Registry) Open(ctx context.Context, doc *entity.RawDocument) (PageSource, error) {
	d, ok := r.decoders[doc.Format]
	if !ok {
		return nil, fmt.Errorf("no decoder for format %s", doc.Format)
	}
	return d.Open(ctx, doc)
}

// Formats lists the registered formats.
func (r *Registry) Formats() []constants.Format {
	out := make([]constants.Format, 0, len(r.decoders))
	for _, f := range constants.FileTypes {
		if _, ok := r.decoders[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
