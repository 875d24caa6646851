//go:build !gosseract

package ocr

import (
	"errors"
	"log/slog"
)

// GosseractAvailable reports whether the binary was built with the gosseract tag.
const GosseractAvailable = false

// NewGosseract is unavailable without the gosseract build tag (it needs cgo
// and libtesseract headers).
func NewGosseract(_ TesseractConfig, _ int, _ *slog.Logger) (Engine, error) {
	return nil, errors.New("ocr: built without gosseract support; rebuild with -tags gosseract")
}
