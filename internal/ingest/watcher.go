package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/missingtext/internal/async"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	Allowed     func(path string) bool
	InitialScan bool          // if true, walk roots and emit existing files
	SkipHidden  bool
	Debounce    time.Duration // quiet period before a touched path is emitted
	Logger      *slog.Logger
}

// StartWatcher emits the paths of created or modified files under the
// roots. Both channels close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowed := cfg.Allowed
	if allowed == nil {
		allowed = func(string) bool { return true }
	}
	keep := func(path string) bool {
		return allowed(path) && !(cfg.SkipHidden && IsHidden(path))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	// addDir watches root and every directory below it, returning the files
	// already there when collect is set.
	addDir := func(root string, collect bool) ([]string, error) {
		var files []string
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if cfg.SkipHidden && path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if collect && keep(path) {
				files = append(files, path)
			}
			return nil
		})
		return files, err
	}
	var initial []string
	for _, r := range cfg.Roots {
		files, err := addDir(r, cfg.InitialScan)
		initial = append(initial, files...)
		if err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("watcher close failed", "error", err)
			}
		}()

		emit := func(p string) bool {
			select {
			case evCh <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		// path -> time it was last touched
		pending := map[string]time.Time{}
		debounce := cfg.Debounce
		if debounce <= 0 {
			debounce = 10 * time.Millisecond
		}
		ticker := time.NewTicker(debounce / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
						files, err := addDir(e.Name, true)
						if err != nil {
							logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
						}
						for _, f := range files {
							pending[f] = time.Now()
						}
						continue
					}
				}
				if !keep(e.Name) || !(e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Rename)) {
					continue
				}
				pending[e.Name] = time.Now()
			case now := <-ticker.C:
				for p, at := range pending {
					if now.Sub(at) < debounce {
						continue
					}
					delete(pending, p)
					if _, err := os.Stat(p); err != nil {
						continue // renamed away or deleted
					}
					if !emit(p) {
						return
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// Watch enqueues every file StartWatcher reports until ctx is done.
func Watch(ctx context.Context, cfg WatchConfig, q async.Queue) error {
	events, errs, err := StartWatcher(ctx, cfg)
	if err != nil {
		return err
	}
	for {
		select {
		case p, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := q.Enqueue(ctx, async.NewJob(p)); err != nil {
				return err
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}
