package ocr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// Pool bounds concurrent Recognize calls on a shared engine. One Pool is
// shared by every document in the process, so OCR capacity, not page count,
// limits throughput.
type Pool struct {
	engine Engine
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger
}

func NewPool(e Engine, size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{engine: e, sem: semaphore.NewWeighted(int64(size)), size: size, logger: logger}
}

func (p *Pool) Name() string { return p.engine.Name() }

// Size is the number of concurrent slots.
func (p *Pool) Size() int { return p.size }

// AppliesTimeout is true: img.Timeout starts once a slot is held, so time
// spent queueing is bounded only by ctx.
func (p *Pool) AppliesTimeout() bool { return true }

func (p *Pool) Recognize(ctx context.Context, img Image) (entity.OCRResult, error) {
	waitStart := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return entity.OCRResult{}, err
	}
	defer p.sem.Release(1)
	if wait := time.Since(waitStart); wait > 100*time.Millisecond {
		p.logger.Debug("ocr.pool.waited", "page", img.PageIndex, "wait_ms", wait.Milliseconds(), "size", p.size)
	}
	return recognizeWithin(ctx, p.engine, img)
}

// recognizeWithin runs e under img.Timeout. A fired page deadline becomes an
// OCRFailure with Timeout set; cancellation of ctx itself is returned as is.
func recognizeWithin(ctx context.Context, e Engine, img Image) (entity.OCRResult, error) {
	if img.Timeout <= 0 {
		return e.Recognize(ctx, img)
	}
	pctx, cancel := context.WithTimeout(ctx, img.Timeout)
	defer cancel()
	res, err := e.Recognize(pctx, img)
	if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return entity.OCRResult{}, &common.OCRFailure{Page: img.PageIndex, Engine: e.Name(), Timeout: true, Cause: err}
	}
	return res, err
}
