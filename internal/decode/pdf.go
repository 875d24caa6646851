package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

var disableConfigDir sync.Once

// PDFDecoder reads vector text with ledongthuc/pdf and page images with
// pdfcpu, falling back to the Rasterizer for pages without a usable image.
type PDFDecoder struct {
	raster *Rasterizer
	logger *slog.Logger
}

func NewPDFDecoder(r *Rasterizer, logger *slog.Logger) *PDFDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFDecoder{raster: r, logger: logger}
}

func (d *PDFDecoder) Open(ctx context.Context, doc *entity.RawDocument) (PageSource, error) {
	src := &pdfSource{
		doc:    doc,
		raster: d.raster,
		logger: d.logger.With("document_id", doc.ID, "source", doc.Source),
	}
	r, n, err := openReader(doc.Bytes)
	if err != nil {
		// sniffed as PDF but the structure is unreadable: one failed page
		src.logger.Warn("decode.pdf.open_failed", "error", err)
		src.openErr = err
		src.pages = 1
		return src, nil
	}
	src.reader = r
	src.pages = n
	src.logger.Debug("decode.pdf.opened", "pages", n, "bytes", len(doc.Bytes))
	return src, nil
}

func openReader(b []byte) (r *pdf.Reader, n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, 0, err
	}
	return r, r.NumPage(), nil
}

type pdfSource struct {
	doc    *entity.RawDocument
	raster *Rasterizer
	logger *slog.Logger

	mu      sync.Mutex // ledongthuc and pdfcpu contexts are not safe for concurrent use
	reader  *pdf.Reader
	openErr error
	pages   int

	cpu     *model.Context
	cpuErr  error
	cpuOnce bool

	tmpPath string
	closed  bool
}

func (s *pdfSource) Len() int { return s.pages }

func (s *pdfSource) Page(ctx context.Context, i int) (*entity.Page, error) {
	if i < 0 || i >= s.pages {
		return nil, fmt.Errorf("page %d out of range [0,%d)", i, s.pages)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("page source closed")
	}

	p := &entity.Page{Index: i}
	if s.openErr != nil {
		p.Err = &common.PageDecodeError{Page: i, Cause: s.openErr}
		return p, p.Err
	}
	text, tables, err := pageContent(s.reader, i+1)
	if err != nil {
		p.Err = &common.PageDecodeError{Page: i, Cause: err}
		s.logger.Warn("decode.pdf.page_failed", "page", i, "error", err)
		return p, p.Err
	}
	p.VectorText = text
	p.Tables = tables
	return p, nil
}

// pageContent reads one 1-based page, rebuilds its lines from glyph
// positions top to bottom, and finds column-aligned tables among them.
// Parser panics become errors.
func pageContent(r *pdf.Reader, num int) (text string, tables []entity.Table, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil, errors.New("missing page object")
	}
	lines := groupLines(page.Content().Text)
	return joinLines(lines), detectTables(lines), nil
}

func (s *pdfSource) Render(ctx context.Context, i int) ([]byte, string, error) {
	if i < 0 || i >= s.pages {
		return nil, "", fmt.Errorf("page %d out of range [0,%d)", i, s.pages)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, "", errors.New("page source closed")
	}
	img, format, count := s.embeddedImage(i + 1)
	// a lone embedded image is the scan itself
	if img != nil && count == 1 {
		s.mu.Unlock()
		return img, format, nil
	}
	canRaster := s.raster != nil && s.raster.Available()
	var path string
	var perr error
	if canRaster {
		path, perr = s.tempFile()
	}
	s.mu.Unlock()

	if canRaster && perr == nil {
		out, err := s.raster.Rasterize(ctx, path, i+1)
		if err == nil {
			return out, "png", nil
		}
		if ctx.Err() != nil {
			return nil, "", err
		}
		s.logger.Warn("decode.pdf.raster_failed", "page", i, "error", err)
	}
	if img != nil {
		return img, format, nil
	}
	return nil, "", ErrNoImage
}

// Images lists the images placed on page i in object-number order.
func (s *pdfSource) Images(ctx context.Context, i int) ([]EmbeddedImage, error) {
	if i < 0 || i >= s.pages {
		return nil, fmt.Errorf("page %d out of range [0,%d)", i, s.pages)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("page source closed")
	}
	return s.pageImages(i + 1)
}

// pageImages reads every non-thumbnail image of a 1-based page. A document
// pdfcpu cannot read has no images. Callers hold s.mu.
func (s *pdfSource) pageImages(num int) ([]EmbeddedImage, error) {
	ctx := s.cpuContext()
	if ctx == nil {
		return nil, nil
	}
	images, err := extractPageImages(ctx, num)
	if err != nil {
		return nil, &common.PageDecodeError{Page: num - 1, Cause: err}
	}
	out := make([]EmbeddedImage, 0, len(images))
	for objNr, im := range images {
		if im.Thumb {
			continue
		}
		data, err := io.ReadAll(im)
		if err != nil {
			s.logger.Debug("decode.pdf.image_unreadable", "page", num-1, "xref", objNr, "error", err)
			data = nil
		}
		out = append(out, EmbeddedImage{
			Xref:     objNr,
			FileType: im.FileType,
			Format:   ocrImageFormat(im.FileType),
			Width:    im.Width,
			Height:   im.Height,
			Data:     data,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Xref < out[b].Xref })
	return out, nil
}

// embeddedImage returns the largest OCR-readable image on a 1-based page
// and the number of images found. Callers hold s.mu.
func (s *pdfSource) embeddedImage(num int) ([]byte, string, int) {
	images, err := s.pageImages(num)
	if err != nil {
		s.logger.Debug("decode.pdf.images_failed", "page", num-1, "error", err)
		return nil, "", 0
	}
	var best *EmbeddedImage
	for k := range images {
		im := &images[k]
		if im.Format == "" || len(im.Data) == 0 {
			continue
		}
		if best == nil || im.Width*im.Height > best.Width*best.Height {
			best = im
		}
	}
	if best == nil {
		return nil, "", len(images)
	}
	return best.Data, best.Format, len(images)
}

func extractPageImages(ctx *model.Context, num int) (images map[int]model.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdfcpu panic: %v", rec)
		}
	}()
	return pdfcpu.ExtractPageImages(ctx, num, false)
}

func (s *pdfSource) cpuContext() *model.Context {
	if !s.cpuOnce {
		s.cpuOnce = true
		s.cpu, s.cpuErr = readCPUContext(s.doc.Bytes)
		if s.cpuErr != nil {
			s.logger.Debug("decode.pdf.pdfcpu_unavailable", "error", s.cpuErr)
		}
	}
	return s.cpu
}

func readCPUContext(b []byte) (ctx *model.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdfcpu panic: %v", rec)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.ReadValidateAndOptimize(bytes.NewReader(b), conf)
}

// tempFile writes the document once for command-line rasterizers. Callers hold s.mu.
func (s *pdfSource) tempFile() (string, error) {
	if s.tmpPath != "" {
		return s.tmpPath, nil
	}
	f, err := os.CreateTemp("", "missingtext-*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(s.doc.Bytes); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	s.tmpPath = f.Name()
	return s.tmpPath, nil
}

func (s *pdfSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.reader = nil
	s.cpu = nil
	if s.tmpPath != "" {
		if err := os.Remove(s.tmpPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("decode.pdf.cleanup_failed", "path", s.tmpPath, "error", err)
		}
	}
	return nil
}

func ocrImageFormat(fileType string) string {
	switch strings.ToLower(fileType) {
	case "png":
		return "png"
	case "jpg", "jpeg":
		return "jpeg"
	case "tif", "tiff":
		return "tiff"
	default:
		return ""
	}
}
