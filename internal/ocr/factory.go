package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/missingtext/internal/cmdrun"
	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// ErrDisabled is returned by the engine selected with engine "none".
var ErrDisabled = errors.New("ocr disabled")

// Disabled never recognizes anything; pages needing OCR keep whatever vector text they had.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) Recognize(context.Context, Image) (entity.OCRResult, error) {
	return entity.OCRResult{}, ErrDisabled
}

// New builds the configured engine wrapped in a Pool of cfg.PoolSize slots.
func New(cfg common.OCRConfig, runner cmdrun.Runner, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tc := TesseractConfig{
		Bin:         cfg.Tesseract,
		Lang:        cfg.Lang,
		TessdataDir: cfg.TessdataDir,
		PSM:         cfg.PSM,
		OEM:         cfg.OEM,
		TSV:         cfg.TSVConfidence,
	}
	var engine Engine
	switch cfg.Engine {
	case "", "tesseract":
		engine = NewTesseract(tc, runner, logger)
	case "gosseract":
		g, err := NewGosseract(tc, cfg.PoolSize, logger)
		if err != nil {
			return nil, err
		}
		engine = g
	case "none":
		engine = Disabled{}
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
	logger.Info("ocr.engine.ready", "engine", engine.Name(), "pool_size", cfg.PoolSize, "lang", tc.Lang)
	return NewPool(engine, cfg.PoolSize, logger), nil
}
