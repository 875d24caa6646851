package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/missingtext/constants"
	"github.com/joseph-ayodele/missingtext/internal/common"
)

// Guard confines path-based extraction to a base directory and a set of
// extensions. A disabled guard only resolves paths.
type Guard struct {
	enabled bool
	base    string
	exts    map[string]struct{}
}

// NewGuard resolves the base directory once. An empty base means the
// working directory.
func NewGuard(cfg common.SafeModeConfig) (*Guard, error) {
	base := cfg.BaseDirectory
	if strings.TrimSpace(base) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		base = wd
	}
	abs, err := resolve(base)
	if err != nil {
		return nil, fmt.Errorf("base directory: %w", err)
	}
	exts := map[string]struct{}{}
	for _, e := range cfg.AllowedExtensions {
		if e = constants.NormalizeExt(e); e != "" {
			exts[e] = struct{}{}
		}
	}
	if len(exts) == 0 {
		exts = constants.AllowedExtensions
	}
	return &Guard{enabled: cfg.Enabled, base: abs, exts: exts}, nil
}

// Enabled reports whether the guard enforces its rules.
func (g *Guard) Enabled() bool { return g.enabled }

// Base is the resolved base directory.
func (g *Guard) Base() string { return g.base }

// WithEnabled returns a copy of g switched on or off, for one call.
func (g *Guard) WithEnabled(on bool) *Guard {
	c := *g
	c.enabled = on
	return &c
}

// Allowed reports whether path has an allowed extension.
func (g *Guard) Allowed(path string) bool {
	_, ok := g.exts[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}

// Resolve returns the absolute, symlink-free form of path. With the guard
// enabled it fails with common.ErrForbidden when path leaves the base
// directory, or names a file whose extension is not allowed.
func (g *Guard) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: path is required", common.ErrInvalidInput)
	}
	abs, err := resolve(path)
	if err != nil {
		return "", err
	}
	if !g.enabled {
		return abs, nil
	}
	if !within(g.base, abs) {
		return "", fmt.Errorf("%w: %s is outside the allowed directory", common.ErrForbidden, path)
	}
	info, err := os.Stat(abs)
	if err == nil && info.IsDir() {
		return abs, nil
	}
	if !g.Allowed(abs) {
		return "", fmt.Errorf("%w: file type %q is not allowed", common.ErrForbidden, filepath.Ext(abs))
	}
	return abs, nil
}

func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	switch {
	case err == nil:
		return resolved, nil
	case errors.Is(err, fs.ErrNotExist):
		return abs, nil
	default:
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
