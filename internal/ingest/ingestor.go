// Package ingest feeds files from disk into the pipeline: single paths,
// directory walks and watched folders.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/missingtext/internal/async"
	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/export"
	"github.com/joseph-ayodele/missingtext/internal/pipeline"
)

// RecordStore is the part of the record repository ingest needs.
type RecordStore interface {
	Save(ctx context.Context, rec *entity.DocumentRecord) error
	FindByHash(ctx context.Context, hash string) (*entity.DocumentRecord, error)
}

// FileResult is the per-file outcome.
type FileResult struct {
	Path         string                 `json:"path"`
	Record       *entity.DocumentRecord `json:"record,omitempty"`
	Deduplicated bool                   `json:"deduplicated,omitempty"`
	OutputPath   string                 `json:"output_path,omitempty"`
	Err          string                 `json:"error,omitempty"`
}

// DirStats summarizes a directory extraction.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Ingestor reads files and runs them through a Processor.
type Ingestor struct {
	proc   *pipeline.Processor
	guard  *Guard
	store  RecordStore // optional
	outDir string      // optional, JSON files are written here
	logger *slog.Logger
}

type Option func(*Ingestor)

// WithStore saves every record and reuses stored ones for identical bytes.
func WithStore(s RecordStore) Option { return func(i *Ingestor) { i.store = s } }

// WithOutputDir writes <name>_extracted.json for every record.
func WithOutputDir(dir string) Option { return func(i *Ingestor) { i.outDir = dir } }

func New(proc *pipeline.Processor, guard *Guard, logger *slog.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingestor{proc: proc, guard: guard, logger: logger}
	for _, o := range opts {
		o(i)
	}
	return i
}

// WithGuard returns a copy of i that resolves paths with g.
func (i *Ingestor) WithGuard(g *Guard) *Ingestor {
	c := *i
	c.guard = g
	return &c
}

// Guard returns the safe mode guard in use.
func (i *Ingestor) Guard() *Guard { return i.guard }

// ExtractPath extracts one file. Unless force is set, a stored record for
// identical bytes is returned instead of processing again.
func (i *Ingestor) ExtractPath(ctx context.Context, path string, opts pipeline.Options, force bool) (FileResult, error) {
	abs, err := i.guard.Resolve(path)
	if err != nil {
		return FileResult{Path: path}, err
	}
	return i.extractResolved(ctx, abs, opts, force)
}

func (i *Ingestor) extractResolved(ctx context.Context, abs string, opts pipeline.Options, force bool) (FileResult, error) {
	out := FileResult{Path: abs}
	log := common.LoggerFromContext(ctx, i.logger).With("path", abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, fmt.Errorf("%w: %s", common.ErrNotFound, abs)
		}
		return out, fmt.Errorf("read %s: %w", abs, err)
	}

	if i.store != nil && !force {
		sum := sha256.Sum256(data)
		if rec, err := i.store.FindByHash(ctx, hex.EncodeToString(sum[:])); err == nil {
			log.Info("ingest.deduplicated", "document_id", rec.ID)
			out.Record, out.Deduplicated = rec, true
			return out, nil
		} else if !errors.Is(err, common.ErrNotFound) {
			log.Warn("ingest.lookup_failed", "error", err)
		}
	}

	rec, err := i.proc.Process(ctx, data, abs, opts)
	if err != nil {
		return out, err
	}
	out.Record = rec

	if i.store != nil {
		if err := i.store.Save(ctx, rec); err != nil {
			return out, err
		}
	}
	if i.outDir != "" {
		p, err := export.WriteJSON(rec, i.outDir)
		if err != nil {
			return out, err
		}
		out.OutputPath = p
	}
	return out, nil
}

// ExtractDirectory walks root and extracts every allowed file. Per-file
// errors land in the results; only a bad root or a cancelled ctx fails the
// whole walk.
func (i *Ingestor) ExtractDirectory(ctx context.Context, root string, opts pipeline.Options, skipHidden, force bool) ([]FileResult, DirStats, error) {
	var stats DirStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, fmt.Errorf("%w: root path is required", common.ErrInvalidInput)
	}
	abs, err := i.guard.Resolve(root)
	if err != nil {
		return nil, stats, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %s", common.ErrNotFound, root)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("%w: %s is not a directory", common.ErrInvalidInput, root)
	}

	var results []FileResult
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != abs && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !i.guard.Allowed(path) {
			return nil
		}
		stats.Matched++

		r, err := i.extractResolved(ctx, path, opts, force)
		if err != nil {
			if errors.Is(err, common.ErrCancelled) {
				return err
			}
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})
	i.logger.Info("ingest.directory.done",
		"root", abs,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// Handler adapts the ingestor to the batch queue.
func (i *Ingestor) Handler(opts pipeline.Options) async.Handler {
	return func(ctx context.Context, job async.Job) error {
		r, err := i.ExtractPath(ctx, job.Path, opts, job.Force)
		if err != nil {
			return err
		}
		if r.Record != nil {
			common.LoggerFromContext(ctx, i.logger).Info("ingest.job.extracted",
				"document_id", r.Record.ID,
				"pages", r.Record.Metadata.PageCount,
				"deduplicated", r.Deduplicated,
				"output", r.OutputPath,
			)
		}
		return nil
	}
}
