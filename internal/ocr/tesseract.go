package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/missingtext/internal/cmdrun"
	"github.com/joseph-ayodele/missingtext/internal/entity"
)

// TesseractConfig configures the tesseract command-line engine.
type TesseractConfig struct {
	Bin         string // binary name or absolute path; if empty -> "tesseract"
	Lang        string // default "eng"
	TessdataDir string
	PSM         int // e.g., 6 is good for uniform block of text
	OEM         int // 1 = LSTM; leave 0 to use default
	// TSV asks for word-level output, which carries boxes and confidences.
	TSV bool
}

// Tesseract runs the tesseract CLI through a cmdrun.Runner.
type Tesseract struct {
	cfg    TesseractConfig
	runner cmdrun.Runner
	logger *slog.Logger
}

func NewTesseract(cfg TesseractConfig, runner cmdrun.Runner, logger *slog.Logger) *Tesseract {
	if cfg.Bin == "" {
		cfg.Bin = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if runner == nil {
		runner = cmdrun.Exec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger}
}

func (t *Tesseract) Name() string { return "tesseract" }

var reBoxNoise = regexp.MustCompile(`(?m)^\s*[_\-|=]{3,}\s*$`)

func (t *Tesseract) Recognize(ctx context.Context, img Image) (entity.OCRResult, error) {
	start := time.Now()
	path, cleanup, err := writeTemp(img)
	if err != nil {
		return entity.OCRResult{}, err
	}
	defer cleanup()

	// tesseract <file> stdout -l <lang> [--psm n] [--oem n] [--tessdata-dir d] [tsv]
	args := []string{path, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	if t.cfg.TSV {
		args = append(args, "tsv")
	}

	out, errb, err := t.runner.Run(ctx, t.cfg.Bin, t.logger, args...)
	if err != nil {
		return entity.OCRResult{}, fmt.Errorf("tesseract: %w (%s)", err, cmdrun.Truncate(string(errb), 512))
	}

	res := entity.OCRResult{Engine: t.Name()}
	if t.cfg.TSV {
		tokens, text, mean := parseTSV(out)
		res.Tokens = tokens
		res.Text = text
		res.Confidence = blendConfidence(mean, text)
	} else {
		res.Text = strings.TrimSpace(reBoxNoise.ReplaceAllString(string(out), ""))
		res.Confidence = heuristicConfidence(res.Text)
	}
	res.Duration = time.Since(start)

	t.logger.Debug("ocr.tesseract.ok",
		"page", img.PageIndex,
		"chars", len(res.Text),
		"tokens", len(res.Tokens),
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func writeTemp(img Image) (string, func(), error) {
	ext := img.Format
	if ext == "" {
		ext = "png"
	}
	f, err := os.CreateTemp("", "missingtext-ocr-*."+ext)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(img.Data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

// tsv columns: level page_num block_num par_num line_num word_num left top width height conf text
const (
	tsvLevel = iota
	tsvPage
	tsvBlock
	tsvPar
	tsvLine
	tsvWord
	tsvLeft
	tsvTop
	tsvWidth
	tsvHeight
	tsvConf
	tsvText
	tsvColumns
)

const tsvWordLevel = "5"

// parseTSV returns word tokens, the text rebuilt line by line (blank line
// between paragraphs) and the mean word confidence in 0..1.
func parseTSV(out []byte) ([]entity.Token, string, float64) {
	var (
		tokens   []entity.Token
		b        strings.Builder
		sum      float64
		n        int
		lastLine string
		lastPar  string
	)
	for i, ln := range strings.Split(string(out), "\n") {
		if i == 0 || len(ln) == 0 {
			continue
		} // skip header
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < tsvColumns || cols[tsvLevel] != tsvWordLevel {
			continue
		}
		word := strings.TrimSpace(cols[tsvText])
		if word == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[tsvConf], 64)
		if err != nil || conf < 0 {
			continue
		}

		par := cols[tsvPage] + "." + cols[tsvBlock] + "." + cols[tsvPar]
		line := par + "." + cols[tsvLine]
		switch {
		case b.Len() == 0:
		case par != lastPar:
			b.WriteString("\n\n")
		case line != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		lastPar, lastLine = par, line

		tokens = append(tokens, entity.Token{
			Text:       word,
			Confidence: conf / 100.0,
			Box: entity.BoundingBox{
				X:      atoi(cols[tsvLeft]),
				Y:      atoi(cols[tsvTop]),
				Width:  atoi(cols[tsvWidth]),
				Height: atoi(cols[tsvHeight]),
			},
		})
		sum += conf
		n++
	}
	if n == 0 {
		return nil, "", 0
	}
	return tokens, b.String(), sum / float64(n) / 100.0
}

func atoi(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}
