// Package ocr recognizes text in page images behind a swappable Engine.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/metrics"
)

// Image is one page image handed to an engine.
type Image struct {
	Data      []byte
	Format    string // png, jpeg, tiff, bmp
	PageIndex int
	// Timeout bounds recognition of this image. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Engine is an OCR backend.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img Image) (entity.OCRResult, error)
}

// ErrEmptyImage is returned for an image with no bytes.
var ErrEmptyImage = errors.New("empty image")

// AppliesTimeout reports whether e starts Image.Timeout itself. Engines that
// queue for capacity (Pool, and wrappers around it) do, so queueing does not
// eat into the per-page budget.
func AppliesTimeout(e Engine) bool {
	t, ok := e.(interface{ AppliesTimeout() bool })
	return ok && t.AppliesTimeout()
}

// NeedsOCR reports whether vector text is too thin to trust: fewer than
// minChars non-whitespace runes. Exactly minChars does not need OCR.
func NeedsOCR(vectorText string, minChars int) bool {
	return CountChars(vectorText) < minChars
}

// CountChars counts non-whitespace runes.
func CountChars(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Run calls e for one page and folds every failure into *common.OCRFailure.
// img.Timeout is started here unless e applies it after queueing. A deadline
// marks the failure as a timeout.
func Run(ctx context.Context, e Engine, img Image) (entity.OCRResult, error) {
	name := e.Name()
	if len(img.Data) == 0 {
		metrics.ObserveOCR(name, "error", 0)
		return entity.OCRResult{}, &common.OCRFailure{Page: img.PageIndex, Engine: name, Cause: ErrEmptyImage}
	}

	if img.Timeout > 0 && !AppliesTimeout(e) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, img.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := recognize(ctx, e, img)
	dur := time.Since(start)
	if err != nil {
		var f *common.OCRFailure
		isFailure := errors.As(err, &f)
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
			(isFailure && f.Timeout)
		status := "error"
		if timeout {
			status = "timeout"
		}
		metrics.ObserveOCR(name, status, dur)
		if isFailure {
			return entity.OCRResult{}, err
		}
		return entity.OCRResult{}, &common.OCRFailure{Page: img.PageIndex, Engine: name, Timeout: timeout, Cause: err}
	}
	metrics.ObserveOCR(name, "ok", dur)
	if res.Engine == "" {
		res.Engine = name
	}
	if res.Duration == 0 {
		res.Duration = dur
	}
	res.Confidence = clamp01(res.Confidence)
	return res, nil
}

// recognize shields the caller from engine panics (cgo bindings, image codecs).
func recognize(ctx context.Context, e Engine, img Image) (res entity.OCRResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("engine panic: %v", rec)
		}
	}()
	return e.Recognize(ctx, img)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
