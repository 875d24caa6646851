// Package server exposes the pipeline over HTTP, gRPC and MCP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/export"
	"github.com/joseph-ayodele/missingtext/internal/ingest"
	"github.com/joseph-ayodele/missingtext/internal/pipeline"
	"github.com/joseph-ayodele/missingtext/internal/repository"
)

const defaultMaxUpload = 64 << 20

// Service is what every transport calls into.
type Service struct {
	proc      *pipeline.Processor
	ingestor  *ingest.Ingestor
	docs      repository.DocumentRepository // nil when no store is configured
	exporter  *export.Service
	maxUpload int64
	health    func(context.Context) error
	logger    *slog.Logger
}

type Option func(*Service)

// WithDocuments stores every record and enables document lookups.
func WithDocuments(docs repository.DocumentRepository) Option {
	return func(s *Service) { s.docs = docs }
}

// WithMaxUpload caps request bodies, in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithHealthCheck adds a dependency probe to /healthz and the gRPC health service.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(s *Service) { s.health = fn }
}

func NewService(proc *pipeline.Processor, ing *ingest.Ingestor, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		proc:      proc,
		ingestor:  ing,
		exporter:  export.NewService(logger),
		maxUpload: defaultMaxUpload,
		logger:    logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Extract processes in-memory bytes and stores the record when a store is set.
func (s *Service) Extract(ctx context.Context, data []byte, name string, opts pipeline.Options) (*entity.DocumentRecord, error) {
	rec, err := s.proc.Process(ctx, data, name, opts)
	if err != nil {
		return nil, err
	}
	if s.docs != nil {
		if err := s.docs.Save(ctx, rec); err != nil {
			// the caller still gets the record
			common.LoggerFromContext(ctx, s.logger).Error("server.save_failed", "document_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

// Options overlays a JSON object of overrides on the processor defaults.
func (s *Service) Options(raw []byte) (pipeline.Options, error) {
	return s.proc.Defaults().Merge(raw)
}

func (s *Service) document(ctx context.Context, id string) (*entity.DocumentRecord, error) {
	if s.docs == nil {
		return nil, fmt.Errorf("%w: document store is not configured", common.ErrNotFound)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: document id %q", common.ErrInvalidInput, id)
	}
	return s.docs.Get(ctx, uid)
}

func (s *Service) documents(ctx context.Context, limit int) ([]*entity.DocumentRecord, error) {
	if s.docs == nil {
		return nil, fmt.Errorf("%w: document store is not configured", common.ErrNotFound)
	}
	return s.docs.List(ctx, limit)
}

// httpStatus maps an error to an HTTP status code.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	switch {
	case errors.Is(err, common.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, common.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
