package decode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joseph-ayodele/missingtext/internal/cmdrun"
)

// Rasterizer renders single PDF pages to PNG with poppler's pdftoppm.
type Rasterizer struct {
	bin    string
	dpi    int
	runner cmdrun.Runner
	logger *slog.Logger

	once      sync.Once
	available bool
}

func NewRasterizer(bin string, dpi int, runner cmdrun.Runner, logger *slog.Logger) *Rasterizer {
	if bin == "" {
		bin = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 300
	}
	if runner == nil {
		runner = cmdrun.Exec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{bin: bin, dpi: dpi, runner: runner, logger: logger}
}

// Available reports whether the binary is installed. Runners other than
// cmdrun.Exec are assumed to be able to run it.
func (r *Rasterizer) Available() bool {
	r.once.Do(func() {
		if _, ok := r.runner.(cmdrun.Exec); !ok {
			r.available = true
			return
		}
		r.available = cmdrun.Available(r.bin)
		if !r.available {
			r.logger.Warn("decode.raster.unavailable", "bin", r.bin)
		}
	})
	return r.available
}

// Rasterize renders 1-based page num of the PDF at path.
func (r *Rasterizer) Rasterize(ctx context.Context, path string, num int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "missingtext-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("decode.raster.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	n := strconv.Itoa(num)
	// pdftoppm -r 300 -f n -l n -png -singlefile <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.bin, r.logger,
		"-r", strconv.Itoa(r.dpi), "-f", n, "-l", n, "-png", "-singlefile", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w (%s)", num, err, cmdrun.Truncate(string(errb), 512))
	}
	out, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image for page %d: %w", num, err)
	}
	return out, nil
}
