package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// ImageDecoder yields a single page holding the original image. Formats that
// not every OCR backend reads (gif, webp) are re-encoded to PNG.
type ImageDecoder struct {
	logger *slog.Logger
}

func NewImageDecoder(logger *slog.Logger) *ImageDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageDecoder{logger: logger}
}

func (d *ImageDecoder) Open(_ context.Context, doc *entity.RawDocument) (PageSource, error) {
	src := &singlePage{page: entity.Page{Index: 0}}
	data, format, err := ocrReady(doc.Bytes)
	if err != nil {
		d.logger.Warn("decode.image.failed", "source", doc.Source, "error", err)
		src.err = &common.PageDecodeError{Page: 0, Cause: err}
		src.page.Err = src.err
		return src, nil
	}
	src.page.Image = data
	src.page.ImageFormat = format
	return src, nil
}

func ocrReady(b []byte) ([]byte, string, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("image header: %w", err)
	}
	switch name {
	case "png", "jpeg", "tiff", "bmp":
		return b, name, nil
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("re-encode %s as png: %w", name, err)
	}
	return buf.Bytes(), "png", nil
}

// singlePage backs one-page documents (images and text).
type singlePage struct {
	page entity.Page
	err  error
}

func (s *singlePage) Len() int { return 1 }

func (s *singlePage) Page(ctx context.Context, i int) (*entity.Page, error) {
	if i != 0 {
		return nil, fmt.Errorf("page %d out of range [0,1)", i)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.page
	return &p, s.err
}

func (s *singlePage) Render(_ context.Context, i int) ([]byte, string, error) {
	if i != 0 {
		return nil, "", fmt.Errorf("page %d out of range [0,1)", i)
	}
	if s.page.Image == nil {
		if s.err != nil {
			return nil, "", errors.Join(ErrNoImage, s.err)
		}
		return nil, "", ErrNoImage
	}
	return s.page.Image, s.page.ImageFormat, nil
}

func (s *singlePage) Close() error { return nil }
