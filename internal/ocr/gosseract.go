//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// GosseractAvailable reports whether the binary was built with the gosseract tag.
const GosseractAvailable = true

// Gosseract recognizes in-process through libtesseract. Clients are not safe
// for concurrent use, so each call borrows one from a fixed-size set.
type Gosseract struct {
	cfg     TesseractConfig
	clients chan *gosseract.Client
	logger  *slog.Logger
}

// NewGosseract creates size clients up front.
func NewGosseract(cfg TesseractConfig, size int, logger *slog.Logger) (Engine, error) {
	if size <= 0 {
		size = 1
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gosseract{cfg: cfg, clients: make(chan *gosseract.Client, size), logger: logger}
	for i := 0; i < size; i++ {
		c := gosseract.NewClient()
		if cfg.TessdataDir != "" {
			c.TessdataPrefix = cfg.TessdataDir
		}
		if err := c.SetLanguage(strings.Split(cfg.Lang, "+")...); err != nil {
			_ = c.Close()
			g.Close()
			return nil, fmt.Errorf("gosseract set language: %w", err)
		}
		if cfg.PSM > 0 {
			if err := c.SetPageSegMode(gosseract.PageSegMode(cfg.PSM)); err != nil {
				_ = c.Close()
				g.Close()
				return nil, fmt.Errorf("gosseract set psm: %w", err)
			}
		}
		g.clients <- c
	}
	return g, nil
}

func (g *Gosseract) Name() string { return "gosseract" }

type gosseractOutcome struct {
	res entity.OCRResult
	err error
}

func (g *Gosseract) Recognize(ctx context.Context, img Image) (entity.OCRResult, error) {
	var c *gosseract.Client
	select {
	case c = <-g.clients:
	case <-ctx.Done():
		return entity.OCRResult{}, ctx.Err()
	}

	// libtesseract cannot be interrupted; the client goes back once it finishes
	done := make(chan gosseractOutcome, 1)
	go func() {
		defer func() { g.clients <- c }()
		res, err := g.recognizeWithClient(c, img)
		done <- gosseractOutcome{res, err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return entity.OCRResult{}, ctx.Err()
	}
}

func (g *Gosseract) recognizeWithClient(c *gosseract.Client, img Image) (res entity.OCRResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("gosseract panic: %v", rec)
		}
	}()
	start := time.Now()
	if err := c.SetImageFromBytes(img.Data); err != nil {
		return entity.OCRResult{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return entity.OCRResult{}, fmt.Errorf("recognize text: %w", err)
	}
	text = strings.TrimSpace(text)

	tokens, mean := gosseractWords(c)
	return entity.OCRResult{
		Text:       text,
		Confidence: blendConfidence(mean, text),
		Tokens:     tokens,
		Engine:     g.Name(),
		Duration:   time.Since(start),
	}, nil
}

func gosseractWords(c *gosseract.Client) ([]entity.Token, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	tokens := make([]entity.Token, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		tokens = append(tokens, entity.Token{
			Text:       b.Word,
			Confidence: conf,
			Box: entity.BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	return tokens, sum / float64(len(tokens))
}

// Close releases idle clients.
func (g *Gosseract) Close() {
	for {
		select {
		case c := <-g.clients:
			_ = c.Close()
		default:
			return
		}
	}
}
