package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/metrics"
	"github.com/joseph-ayodele/missingtext/internal/pipeline"
	"github.com/joseph-ayodele/missingtext/internal/schema"
)

// Router builds the HTTP API.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s))
	r.Use(metrics.Middleware())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.handleExtractUpload)
		r.Post("/extract/bytes", s.handleExtractBytes)
		r.Post("/extract/path", s.handleExtractPath)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/documents/{id}/text", s.handleGetDocumentText)
		r.Get("/export.xlsx", s.handleExportXLSX)
		r.Get("/formats", s.handleFormats)
		r.Get("/schema", s.handleSchema)
	})
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// jsonRecoverer returns a JSON body instead of a plain text stack trace.
func jsonRecoverer(s *Service) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					s.logger.Error("http.panic", "panic", rvr, "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "internal", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one line per request and puts a request-scoped logger in the context.
func requestLogger(s *Service) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}
			log := s.logger.With("request_id", requestID)
			ctx := common.WithLogger(common.WithRequestID(r.Context(), requestID), log)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_in", r.ContentLength,
				"bytes_out", ww.BytesWritten(),
			)
		})
	}
}

func (s *Service) handleExtractUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.fail(w, r, bodyError(err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: multipart field \"file\" is required", common.ErrInvalidInput))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, bodyError(err))
		return
	}
	opts, err := s.requestOptions(r, r.FormValue("options"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.Extract(r.Context(), data, header.Filename, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleExtractBytes takes the document as the raw body. The name query
// parameter, or else the Content-Type, is the declared type.
func (s *Service) handleExtractBytes(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		s.fail(w, r, bodyError(err))
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = r.Header.Get("Content-Type")
	}
	opts, err := s.requestOptions(r, r.URL.Query().Get("options"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.Extract(r.Context(), data, name, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleExtractPath extracts a file or, for a directory, every allowed file
// under it. safe_mode may switch the guard on for one call but never off.
func (s *Service) handleExtractPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	force, err := queryBool(q.Get("force"), "force")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	skipHidden, err := queryBool(q.Get("skip_hidden"), "skip_hidden")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ing := s.ingestor
	if v := q.Get("safe_mode"); v != "" {
		on, err := queryBool(v, "safe_mode")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !on && ing.Guard().Enabled() {
			s.fail(w, r, fmt.Errorf("%w: safe mode cannot be disabled per request", common.ErrForbidden))
			return
		}
		ing = ing.WithGuard(ing.Guard().WithEnabled(on))
	}
	opts, err := s.requestOptions(r, q.Get("options"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	abs, err := ing.Guard().Resolve(path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		results, stats, err := ing.ExtractDirectory(r.Context(), abs, opts, skipHidden, force)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "stats": stats})
		return
	}
	res, err := ing.ExtractPath(r.Context(), abs, opts, force)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.documents(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": recs})
}

func (s *Service) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	rec, err := s.document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleGetDocumentText(w http.ResponseWriter, r *http.Request) {
	rec, err := s.document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rec.Text())
}

func (s *Service) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.documents(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := s.exporter.SummaryXLSX(recs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="documents.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Service) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats":    s.proc.Formats(),
		"ocr_engine": s.proc.EngineName(),
		"defaults":   s.proc.Defaults(),
		"safe_mode":  s.ingestor.Guard().Enabled(),
	})
}

func (s *Service) handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, schema.RecordSchema())
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			common.LoggerFromContext(r.Context(), s.logger).Warn("http.health_failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestOptions overlays the options JSON and then the individual query
// parameters on the processor defaults.
func (s *Service) requestOptions(r *http.Request, raw string) (pipeline.Options, error) {
	opts, err := s.Options([]byte(raw))
	if err != nil {
		return opts, err
	}
	q := r.URL.Query()
	overrides := map[string]any{}
	for _, key := range []string{"ocr_min_chars", "max_concurrency", "timeout_per_page_ms", "document_timeout_ms"} {
		if v := q.Get(key); v != "" {
			n, err := queryInt(v, key)
			if err != nil {
				return opts, err
			}
			overrides[key] = n
		}
	}
	for _, key := range []string{"text", "tables", "images"} {
		if v := q.Get(key); v != "" {
			on, err := queryBool(v, key)
			if err != nil {
				return opts, err
			}
			overrides[key] = on
		}
	}
	if v := q.Get("ocr_confidence_floor"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("%w: ocr_confidence_floor must be a number", common.ErrInvalidInput)
		}
		overrides["ocr_confidence_floor"] = f
	}
	if len(overrides) == 0 {
		return opts, nil
	}
	body, err := json.Marshal(overrides)
	if err != nil {
		return opts, err
	}
	return opts.Merge(body)
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	log := common.LoggerFromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		log.Error("http.failed", "path", r.URL.Path, "error", err)
		writeError(w, status, errorCode(status), "internal error")
		return
	}
	log.Warn("http.rejected", "path", r.URL.Path, "status", status, "error", err)
	writeError(w, status, errorCode(status), err.Error())
}

func errorCode(status int) string {
	switch status {
	case http.StatusUnsupportedMediaType:
		return "unsupported_format"
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusRequestTimeout:
		return "cancelled"
	default:
		return "internal"
	}
}

// bodyError tags oversized bodies so they map to 413.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &statusError{status: http.StatusRequestEntityTooLarge, err: err}
	}
	return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
}

type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func queryBool(v, name string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", common.ErrInvalidInput, name)
	}
	return b, nil
}

func queryInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", common.ErrInvalidInput, name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
