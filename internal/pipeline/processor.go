// Package pipeline sequences detection, decoding, OCR, normalization and
// metadata collection for one document.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/decode"
	"github.com/joseph-ayodele/missingtext/internal/detect"
	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/metadata"
	"github.com/joseph-ayodele/missingtext/internal/metrics"
	"github.com/joseph-ayodele/missingtext/internal/normalize"
	"github.com/joseph-ayodele/missingtext/internal/ocr"
)

// Processor runs documents through the extraction pipeline. It holds no
// per-document state and is safe for concurrent use.
type Processor struct {
	detector   *detect.Detector
	decoders   *decode.Registry
	engine     ocr.Engine
	normalizer *normalize.Normalizer
	defaults   Options
	logger     *slog.Logger
}

// NewProcessor wires a processor. A nil engine disables OCR.
func NewProcessor(decoders *decode.Registry, engine ocr.Engine, logger *slog.Logger, defaults ...Options) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = ocr.Disabled{}
	}
	opts := DefaultOptions()
	if len(defaults) > 0 {
		opts = defaults[0]
	}
	return &Processor{
		detector:   detect.New(logger),
		decoders:   decoders,
		engine:     engine,
		normalizer: normalize.NewNormalizer(logger),
		defaults:   opts,
		logger:     logger,
	}
}

// Defaults returns the options used when a caller has none of its own.
func (p *Processor) Defaults() Options { return p.defaults }

// EngineName names the OCR engine in use.
func (p *Processor) EngineName() string { return p.engine.Name() }

// Formats lists the formats the processor can decode.
func (p *Processor) Formats() []constants.Format { return p.decoders.Formats() }

// Detect classifies raw without processing it.
func (p *Processor) Detect(raw []byte, source string) (constants.Format, error) {
	f, err := p.detector.Detect(raw, source)
	var ufe *common.UnsupportedFormatError
	if errors.As(err, &ufe) {
		ufe.Source = source
	}
	return f, err
}

// Process extracts the text of one document. source names the input and
// doubles as its declared type (a filename, extension or MIME type).
//
// Page-scoped failures are recorded on the page. The returned error is an
// *common.UnsupportedFormatError, a *common.ProcessingCancelled or an
// ErrValidation for bad opts, and the record is nil whenever it is set.
func (p *Processor) Process(ctx context.Context, raw []byte, source string, opts Options) (*entity.DocumentRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	log := common.LoggerFromContext(ctx, p.logger).With("source", source)
	log.Info("pipeline.state", "state", constants.StateReceived, "bytes", len(raw))

	if err := ctx.Err(); err != nil {
		return nil, p.cancelled(log, source, "", started, err)
	}

	format, err := p.Detect(raw, source)
	if err != nil {
		log.Warn("pipeline.state", "state", constants.StateFailed, "error", err)
		metrics.ObserveDocument(string(constants.StateFailed), string(constants.UNSUPPORTED), time.Since(started))
		return nil, err
	}
	doc := entity.NewRawDocument(raw, source, source, format)
	log = log.With("document_id", doc.ID, "format", format)

	docCtx, cancel := context.WithTimeout(ctx, opts.DocumentTimeout())
	defer cancel()

	log.Info("pipeline.state", "state", constants.StateDecoding)
	src, err := p.decoders.Open(docCtx, doc)
	if err != nil {
		if docCtx.Err() != nil {
			return nil, p.cancelled(log, source, format, started, docCtx.Err())
		}
		// Detection accepted a format nothing can decode.
		ufe := &common.UnsupportedFormatError{Source: source, Declared: source, Reason: err.Error()}
		log.Warn("pipeline.state", "state", constants.StateFailed, "error", ufe)
		metrics.ObserveDocument(string(constants.StateFailed), string(format), time.Since(started))
		return nil, ufe
	}

	slots, err := p.extract(docCtx, log, src, opts)
	if cerr := src.Close(); cerr != nil {
		log.Warn("pipeline.source.close_failed", "error", cerr)
	}
	if err != nil {
		return nil, p.cancelled(log, source, format, started, err)
	}

	log.Info("pipeline.state", "state", constants.StateNormalizing, "pages", len(slots))
	pages := p.normalizer.Document(slots)
	for i := range pages {
		if pages[i].Text != "" {
			pages[i].Language = metadata.GuessLanguage(pages[i].Text).String()
		}
		metrics.IncPage(string(pages[i].Method))
	}

	finished := time.Now()
	rec := &entity.DocumentRecord{
		ID:          doc.ID,
		Source:      source,
		Format:      format,
		ContentHash: doc.ContentHash,
		State:       constants.StateComplete,
		Pages:       pages,
		Metadata:    metadata.Collect(pages, doc, started, finished),
	}
	metrics.ObserveDocument(string(constants.StateComplete), string(format), finished.Sub(started))
	log.Info("pipeline.state",
		"state", constants.StateComplete,
		"pages", rec.Metadata.PageCount,
		"failed_pages", len(rec.Metadata.FailedPages),
		"mean_confidence", rec.Metadata.MeanConfidence,
		"duration_ms", rec.Metadata.DurationMS,
	)
	return rec, nil
}

// extract decodes pages in order and hands every page that needs rendering
// or OCR to at most MaxConcurrency goroutines. Each page lands in the slot
// matching its index.
func (p *Processor) extract(ctx context.Context, log *slog.Logger, src decode.PageSource, opts Options) ([]entity.NormalizedPage, error) {
	log.Info("pipeline.state", "state", constants.StateExtracting, "pages", src.Len())
	slots := make([]entity.NormalizedPage, src.Len())
	lister, _ := src.(decode.ImageLister)
	if !opts.ExtractImages {
		lister = nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrency)

	for page, err := range decode.Pages(ctx, src) {
		if page == nil {
			// Only a cancelled context ends the sequence without a page.
			_ = g.Wait()
			return nil, err
		}
		if err != nil {
			log.Warn("pipeline.page.decode_failed", "page", page.Index, "error", err)
		}

		needsOCR := opts.ExtractText && ocr.NeedsOCR(page.VectorText, opts.OCRMinChars)
		if !needsOCR && lister == nil {
			slots[page.Index] = p.finish(page, nil, opts)
			continue
		}

		g.Go(func() error {
			if needsOCR {
				if page.Image == nil {
					p.render(gctx, log, src, page)
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if page.Image != nil {
					if err := p.recognize(gctx, log, page, opts); err != nil {
						return err
					}
				}
			}
			var images []entity.ImageText
			if lister != nil {
				var err error
				if images, err = p.recognizeImages(gctx, log, lister, page, opts); err != nil {
					return err
				}
			}
			slots[page.Index] = p.finish(page, images, opts)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// finish merges page into its output slot, keeping only what opts asked for.
func (p *Processor) finish(page *entity.Page, images []entity.ImageText, opts Options) entity.NormalizedPage {
	var out entity.NormalizedPage
	if opts.ExtractText {
		out = normalize.Merge(page, opts.mergeOptions())
	} else {
		out = normalize.Skipped(page)
	}
	if opts.ExtractTables {
		out.Tables = page.Tables
	}
	out.Images = images
	return out
}

// render attaches an OCR-ready image to page. Decode errors from render are
// folded into the page; a page with nothing to render is left as is.
func (p *Processor) render(ctx context.Context, log *slog.Logger, src decode.PageSource, page *entity.Page) {
	img, format, err := src.Render(ctx, page.Index)
	switch {
	case errors.Is(err, decode.ErrNoImage):
		log.Debug("pipeline.page.no_image", "page", page.Index)
	case err != nil:
		var pde *common.PageDecodeError
		if !errors.As(err, &pde) {
			err = &common.PageDecodeError{Page: page.Index, Cause: err}
		}
		log.Warn("pipeline.page.render_failed", "page", page.Index, "error", err)
		page.Err = errors.Join(page.Err, err)
	default:
		page.Image, page.ImageFormat = img, format
	}
}

// recognize runs OCR on page under the per-page timeout, which starts once
// the engine has capacity for the page. OCR failures stay on the page; only
// cancellation of the whole document is returned.
func (p *Processor) recognize(ctx context.Context, log *slog.Logger, page *entity.Page, opts Options) error {
	res, err := ocr.Run(ctx, p.engine, ocr.Image{
		Data:      page.Image,
		Format:    page.ImageFormat,
		PageIndex: page.Index,
		Timeout:   opts.PageTimeout(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ocr.ErrDisabled) {
			log.Debug("pipeline.page.ocr_skipped", "page", page.Index)
		} else {
			log.Warn("pipeline.page.ocr_failed", "page", page.Index, "error", err)
		}
		page.Err = errors.Join(page.Err, err)
		return nil
	}
	log.Debug("pipeline.page.ocr_done",
		"page", page.Index,
		"engine", res.Engine,
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	page.OCR = &res
	return nil
}

// recognizeImages runs OCR on every image embedded in page, in object-number
// order. Failures stay on the image entry; only document cancellation is returned.
func (p *Processor) recognizeImages(ctx context.Context, log *slog.Logger, lister decode.ImageLister, page *entity.Page, opts Options) ([]entity.ImageText, error) {
	images, err := lister.Images(ctx, page.Index)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("pipeline.page.images_failed", "page", page.Index, "error", err)
		return nil, nil
	}
	out := make([]entity.ImageText, 0, len(images))
	for _, im := range images {
		it := entity.ImageText{Xref: im.Xref, Format: im.Format, Width: im.Width, Height: im.Height}
		if im.Format == "" {
			it.Format = im.FileType
			it.Error = "no ocr support for image type " + im.FileType
			out = append(out, it)
			continue
		}
		res, err := ocr.Run(ctx, p.engine, ocr.Image{
			Data:      im.Data,
			Format:    im.Format,
			PageIndex: page.Index,
			Timeout:   opts.PageTimeout(),
		})
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Debug("pipeline.image.ocr_failed", "page", page.Index, "xref", im.Xref, "error", err)
			it.Error = err.Error()
		default:
			it.Text = normalize.Clean(res.Text)
			it.Confidence = res.Confidence
		}
		out = append(out, it)
	}
	log.Debug("pipeline.page.images_done", "page", page.Index, "images", len(out))
	return out, nil
}

func (p *Processor) cancelled(log *slog.Logger, source string, format constants.Format, started time.Time, cause error) error {
	log.Warn("pipeline.cancelled", "error", cause)
	if format == "" {
		format = constants.UNSUPPORTED
	}
	metrics.ObserveDocument("cancelled", string(format), time.Since(started))
	return &common.ProcessingCancelled{Source: source, Cause: cause}
}
