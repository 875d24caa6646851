package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/grpc"

	"github.com/joseph-ayodele/missingtext/internal/async"
	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/ingest"
	"github.com/joseph-ayodele/missingtext/internal/schema"
	"github.com/joseph-ayodele/missingtext/internal/server"
)

func runExtract(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	outDir := fs.String("o", "", "write <name>_extracted.json files here instead of printing records")
	force := fs.Bool("force", false, "reprocess files whose bytes were already extracted")
	skipHidden := fs.Bool("skip-hidden", true, "skip hidden files and directories")
	store := fs.Bool("store", false, "save records in the configured database")
	safeMode := fs.Bool("safe-mode", cfg.SafeMode.Enabled, "restrict paths to the base directory and allowed extensions")
	rawOpts := fs.String("options", "", `processing option overrides as JSON, e.g. {"ocr_min_chars":20}`)
	text := fs.Bool("text", cfg.Pipeline.ExtractText, "extract page text")
	tables := fs.Bool("tables", cfg.Pipeline.ExtractTables, "detect tables on PDF pages")
	images := fs.Bool("images", cfg.Pipeline.ExtractImages, "OCR every image embedded in PDF pages")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("extract: at least one path is required")
	}

	a, err := newApp(ctx, cfg, logger, *store)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := a.defaults
	opts.ExtractText, opts.ExtractTables, opts.ExtractImages = *text, *tables, *images
	opts, err = opts.Merge([]byte(*rawOpts))
	if err != nil {
		return err
	}
	ing := a.ingestor(*outDir)
	ing = ing.WithGuard(ing.Guard().WithEnabled(*safeMode))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	emit := func(r ingest.FileResult) {
		if r.Record != nil {
			if err := schema.Validate(r.Record); err != nil {
				logger.Error("record does not match schema", "path", r.Path, "error", err)
			}
		}
		if *outDir == "" && r.Record != nil {
			_ = enc.Encode(r.Record)
			return
		}
		_ = enc.Encode(r)
	}

	failed := 0
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			results, stats, err := ing.ExtractDirectory(ctx, path, opts, *skipHidden, *force)
			for _, r := range results {
				emit(r)
			}
			failed += int(stats.Failed)
			if err != nil {
				return err
			}
			continue
		}
		r, err := ing.ExtractPath(ctx, path, opts, *force)
		if err != nil {
			logger.Error("extract failed", "path", path, "error", err)
			if errors.Is(err, common.ErrCancelled) {
				return err
			}
			failed++
			continue
		}
		emit(r)
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed", failed)
	}
	return nil
}

func runServe(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	svcOpts := []server.Option{server.WithMaxUpload(cfg.Server.MaxUploadBytes)}
	if a.docs != nil {
		svcOpts = append(svcOpts,
			server.WithDocuments(a.docs),
			server.WithHealthCheck(func(ctx context.Context) error { return a.db.HealthCheck(ctx, 2*time.Second) }),
		)
	}
	svc := server.NewService(a.proc, a.ingestor(""), logger, svcOpts...)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(svc.UnaryInterceptor()))
	healthServer := svc.RegisterGRPC(grpcServer)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		logger.Error("http shutdown", "error", serr)
	}
	grpcServer.GracefulStop()
	return err
}

func runMCP(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := server.NewService(a.proc, a.ingestor(""), logger)
	logger.Info("mcp serving on stdio", "safe_mode", cfg.SafeMode.Enabled)
	return svc.NewMCPServer(Version).Run(ctx, &mcp.StdioTransport{})
}

func runWatch(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	outDir := fs.String("o", "", "write <name>_extracted.json files here")
	initial := fs.Bool("initial-scan", true, "extract files already present")
	skipHidden := fs.Bool("skip-hidden", true, "ignore hidden files and directories")
	debounce := fs.Duration("debounce", 500*time.Millisecond, "quiet period before a changed file is extracted")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("watch: at least one directory is required")
	}

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ing := a.ingestor(*outDir)
	queue := async.NewProcessorQueue(ing.Handler(a.defaults), logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(time.Duration(cfg.Pipeline.DocumentTimeoutMS)*time.Millisecond+time.Minute),
	)
	defer queue.Shutdown(context.Background())

	roots := make([]string, 0, fs.NArg())
	for _, r := range fs.Args() {
		abs, err := a.guard.Resolve(r)
		if err != nil {
			return err
		}
		roots = append(roots, abs)
	}
	err = ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       roots,
		Allowed:     a.guard.Allowed,
		InitialScan: *initial,
		SkipHidden:  *skipHidden,
		Debounce:    *debounce,
		Logger:      logger,
	}, queue)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runSchema() error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(schema.RecordSchema())
}
