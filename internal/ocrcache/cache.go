// Package ocrcache memoizes OCR results by image content.
package ocrcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/metrics"
	"github.com/joseph-ayodele/missingtext/internal/ocr"
)

// ErrMiss is returned by a Store for an absent key.
var ErrMiss = errors.New("cache miss")

// KeyPrefix namespaces every cache key.
const KeyPrefix = "missingtext:ocr:"

// Store is the key/value backend the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedEngine wraps an engine with a result cache. Store errors are logged
// and the engine is called as if the cache were absent.
type CachedEngine struct {
	engine ocr.Engine
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

func New(engine ocr.Engine, store Store, ttl time.Duration, logger *slog.Logger) *CachedEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEngine{engine: engine, store: store, ttl: ttl, logger: logger}
}

func (c *CachedEngine) Name() string { return c.engine.Name() }

// AppliesTimeout defers to the wrapped engine; cache lookups are not timed.
func (c *CachedEngine) AppliesTimeout() bool { return ocr.AppliesTimeout(c.engine) }

// Key is the cache key for img under engine.
func Key(engine string, img []byte) string {
	sum := sha256.Sum256(img)
	return KeyPrefix + engine + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEngine) Recognize(ctx context.Context, img ocr.Image) (entity.OCRResult, error) {
	key := Key(c.engine.Name(), img.Data)

	if raw, err := c.store.Get(ctx, key); err == nil {
		var res entity.OCRResult
		if err := json.Unmarshal(raw, &res); err == nil {
			metrics.IncCache("hit")
			c.logger.Debug("ocrcache.hit", "page", img.PageIndex, "key", key)
			return res, nil
		}
		c.logger.Warn("ocrcache.corrupt_entry", "key", key)
	} else if !errors.Is(err, ErrMiss) {
		metrics.IncCache("error")
		c.logger.Warn("ocrcache.get_failed", "key", key, "error", err)
	}
	metrics.IncCache("miss")

	res, err := c.engine.Recognize(ctx, img)
	if err != nil {
		return res, err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return res, nil
	}
	if err := c.store.SetWithTTL(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("ocrcache.set_failed", "key", key, "error", err)
	}
	return res, nil
}
