// Command missingtext extracts page text from PDFs, images and text files.
//
//	missingtext extract [flags] <path>...
//	missingtext serve
//	missingtext mcp
//	missingtext watch [flags] <dir>...
//	missingtext version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/missingtext/internal/cmdrun"
	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/decode"
	"github.com/joseph-ayodele/missingtext/internal/ingest"
	"github.com/joseph-ayodele/missingtext/internal/ocr"
	"github.com/joseph-ayodele/missingtext/internal/ocrcache"
	"github.com/joseph-ayodele/missingtext/internal/pipeline"
	"github.com/joseph-ayodele/missingtext/internal/repository"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const usage = `usage: missingtext <command> [flags]

commands:
  extract   extract files or directories and print or write JSON records
  serve     run the HTTP and gRPC servers
  mcp       serve MCP tools over stdio
  watch     watch directories and extract new files
  schema    print the JSON Schema of a document record
  version   print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := common.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "extract":
		err = runExtract(ctx, cfg, logger, args)
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "mcp":
		err = runMCP(ctx, cfg, logger)
	case "watch":
		err = runWatch(ctx, cfg, logger, args)
	case "schema":
		err = runSchema()
	case "version":
		fmt.Println("missingtext", Version)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// app holds the wired pipeline shared by every command.
type app struct {
	proc     *pipeline.Processor
	guard    *ingest.Guard
	docs     repository.DocumentRepository
	db       *repository.DB
	closers  []func()
	logger   *slog.Logger
	defaults pipeline.Options
}

// newApp wires the pipeline. The record store is opened only when withStore is set.
func newApp(ctx context.Context, cfg *common.Config, logger *slog.Logger, withStore bool) (*app, error) {
	a := &app{logger: logger, defaults: pipeline.OptionsFromConfig(cfg.Pipeline)}

	runner := cmdrun.Exec{}
	raster := decode.NewRasterizer(cfg.Raster.Pdftoppm, cfg.Raster.DPI, runner, logger)
	if !raster.Available() {
		logger.Warn("pdftoppm not found; scanned PDF pages without embedded images will not be OCRed", "bin", cfg.Raster.Pdftoppm)
	}
	registry := decode.DefaultRegistry(raster, logger)

	pool, err := ocr.New(cfg.OCR, runner, logger)
	if err != nil {
		return nil, fmt.Errorf("ocr engine: %w", err)
	}
	var engine ocr.Engine = pool
	if len(cfg.Cache.RedisAddrs) > 0 {
		store, err := ocrcache.NewRedisStore(cfg.Cache)
		if err != nil {
			// the cache is optional; run without it
			logger.Warn("ocr cache unavailable", "addrs", cfg.Cache.RedisAddrs, "error", err)
		} else {
			engine = ocrcache.New(engine, store, cfg.Cache.TTL, logger)
			a.closers = append(a.closers, store.Close)
		}
	}
	a.proc = pipeline.NewProcessor(registry, engine, logger, a.defaults)

	a.guard, err = ingest.NewGuard(cfg.SafeMode)
	if err != nil {
		a.Close()
		return nil, err
	}

	if withStore && cfg.Database.DSN != "" {
		db, err := repository.Open(ctx, cfg.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.docs = repository.NewDocumentRepository(db, logger)
		a.closers = append(a.closers, func() { db.Close(logger) })
	}
	return a, nil
}

// ingestor builds an ingestor over the app's processor, guard and store.
func (a *app) ingestor(outputDir string) *ingest.Ingestor {
	var opts []ingest.Option
	if a.docs != nil {
		opts = append(opts, ingest.WithStore(a.docs))
	}
	if outputDir != "" {
		opts = append(opts, ingest.WithOutputDir(outputDir))
	}
	return ingest.New(a.proc, a.guard, a.logger, opts...)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
