package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/missingtext/internal/common"
	"github.com/joseph-ayodele/missingtext/internal/decode"
	"github.com/joseph-ayodele/missingtext/internal/entity"
	"github.com/joseph-ayodele/missingtext/internal/ingest"
	"github.com/joseph-ayodele/missingtext/internal/pipeline"
	"github.com/joseph-ayodele/missingtext/internal/repository"
)

const notes = "The meeting notes were written by the secretary and read aloud."

// newTestService wires a real pipeline with OCR disabled, an in-memory
// store and a safe mode guard rooted at a temp directory.
func newTestService(t *testing.T, opts ...Option) (*Service, string) {
	t.Helper()
	base := t.TempDir()
	guard, err := ingest.NewGuard(common.SafeModeConfig{Enabled: true, BaseDirectory: base})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	db, err := repository.Open(context.Background(), common.DatabaseConfig{DSN: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("repository.Open: %v", err)
	}
	t.Cleanup(func() { db.Close(nil) })
	docs := repository.NewDocumentRepository(db, nil)

	proc := pipeline.NewProcessor(decode.DefaultRegistry(nil, nil), nil, nil)
	ing := ingest.New(proc, guard, nil, ingest.WithStore(docs))
	opts = append([]Option{WithDocuments(docs)}, opts...)
	return NewService(proc, ing, nil, opts...), base
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestExtractBytesThenFetch(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.Router()

	rr := do(t, h, http.MethodPost, "/v1/extract/bytes?name=notes.txt", strings.NewReader(notes), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	rec := decodeBody[entity.DocumentRecord](t, rr)
	if len(rec.Pages) != 1 || !strings.Contains(rec.Pages[0].Text, "meeting notes") {
		t.Fatalf("pages = %+v", rec.Pages)
	}

	rr = do(t, h, http.MethodGet, "/v1/documents/"+rec.ID.String(), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", rr.Code, rr.Body)
	}
	got := decodeBody[entity.DocumentRecord](t, rr)
	if got.ContentHash != rec.ContentHash {
		t.Fatalf("content hash = %q, want %q", got.ContentHash, rec.ContentHash)
	}

	rr = do(t, h, http.MethodGet, "/v1/documents/"+rec.ID.String()+"/text", nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "meeting notes") {
		t.Fatalf("text status = %d, body = %s", rr.Code, rr.Body)
	}

	rr = do(t, h, http.MethodGet, "/v1/documents?limit=10", nil, "")
	list := decodeBody[struct {
		Documents []entity.DocumentRecord `json:"documents"`
	}](t, rr)
	if len(list.Documents) != 1 {
		t.Fatalf("listed %d documents", len(list.Documents))
	}
}

func TestExtractUpload(t *testing.T) {
	svc, _ := newTestService(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "minutes.md")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.WriteString(fw, notes)
	_ = mw.WriteField("options", `{"ocr_min_chars": 3}`)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	rr := do(t, svc.Router(), http.MethodPost, "/v1/extract", &body, mw.FormDataContentType())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	rec := decodeBody[entity.DocumentRecord](t, rr)
	if rec.Source != "minutes.md" {
		t.Fatalf("source = %q", rec.Source)
	}
}

func TestExtractTextToggle(t *testing.T) {
	svc, _ := newTestService(t)
	rr := do(t, svc.Router(), http.MethodPost, "/v1/extract/bytes?name=notes.txt&text=false", strings.NewReader(notes), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	rec := decodeBody[entity.DocumentRecord](t, rr)
	if len(rec.Pages) != 1 || !rec.Pages[0].Skipped() || rec.Pages[0].Text != "" {
		t.Fatalf("pages = %+v, want one skipped page", rec.Pages)
	}
}

func TestExtractErrors(t *testing.T) {
	svc, _ := newTestService(t, WithMaxUpload(1024))
	h := svc.Router()

	cases := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"unsupported", "/v1/extract/bytes?name=blob.bin", "\x00\x01\x02\x03binary", http.StatusUnsupportedMediaType, "unsupported_format"},
		{"empty", "/v1/extract/bytes?name=notes.txt", "", http.StatusUnsupportedMediaType, "unsupported_format"},
		{"bad floor", "/v1/extract/bytes?name=notes.txt&ocr_confidence_floor=2", notes, http.StatusBadRequest, "invalid_input"},
		{"unknown option", "/v1/extract/bytes?name=notes.txt&options=" + url.QueryEscape(`{"bogus":1}`), notes, http.StatusBadRequest, "invalid_input"},
		{"not an int", "/v1/extract/bytes?name=notes.txt&max_concurrency=many", notes, http.StatusBadRequest, "invalid_input"},
		{"bad toggle", "/v1/extract/bytes?name=notes.txt&tables=maybe", notes, http.StatusBadRequest, "invalid_input"},
		{"nothing to extract", "/v1/extract/bytes?name=notes.txt&text=false&tables=false", notes, http.StatusBadRequest, "invalid_input"},
		{"too large", "/v1/extract/bytes?name=notes.txt", strings.Repeat("a", 2048), http.StatusRequestEntityTooLarge, "too_large"},
		{"missing file field", "/v1/extract", "", http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tc.target, strings.NewReader(tc.body), "")
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d, body = %s", rr.Code, tc.status, rr.Body)
			}
			got := decodeBody[map[string]string](t, rr)
			if got["code"] != tc.code {
				t.Fatalf("code = %q, want %q", got["code"], tc.code)
			}
		})
	}
}

func TestExtractPath(t *testing.T) {
	svc, base := newTestService(t)
	h := svc.Router()
	writeFile(t, filepath.Join(base, "a.txt"), notes)
	writeFile(t, filepath.Join(base, "docs", "b.md"), "Second document with enough words in it.")
	writeFile(t, filepath.Join(base, "docs", "skip.exe"), "MZ")
	outside := filepath.Join(t.TempDir(), "c.txt")
	writeFile(t, outside, notes)

	rr := do(t, h, http.MethodPost, "/v1/extract/path?path="+url.QueryEscape(filepath.Join(base, "a.txt")), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("file status = %d, body = %s", rr.Code, rr.Body)
	}
	res := decodeBody[ingest.FileResult](t, rr)
	if res.Record == nil || res.Deduplicated {
		t.Fatalf("result = %+v", res)
	}

	rr = do(t, h, http.MethodPost, "/v1/extract/path?path="+url.QueryEscape(base), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dir status = %d, body = %s", rr.Code, rr.Body)
	}
	batch := decodeBody[struct {
		Results []ingest.FileResult `json:"results"`
		Stats   ingest.DirStats     `json:"stats"`
	}](t, rr)
	if batch.Stats.Matched != 2 || batch.Stats.Succeeded != 2 || batch.Stats.Deduplicated != 1 {
		t.Fatalf("stats = %+v", batch.Stats)
	}

	for _, target := range []string{
		"/v1/extract/path?path=" + url.QueryEscape(outside),
		"/v1/extract/path?path=" + url.QueryEscape(filepath.Join(base, "a.txt")) + "&safe_mode=false",
	} {
		rr = do(t, h, http.MethodPost, target, nil, "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: status = %d, body = %s", target, rr.Code, rr.Body)
		}
	}

	rr = do(t, h, http.MethodPost, "/v1/extract/path", nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing path: status = %d", rr.Code)
	}
}

func TestGetDocumentErrors(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.Router()

	if rr := do(t, h, http.MethodGet, "/v1/documents/not-a-uuid", nil, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/documents/"+uuid.NewString(), nil, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d", rr.Code)
	}

	proc := pipeline.NewProcessor(decode.DefaultRegistry(nil, nil), nil, nil)
	guard, _ := ingest.NewGuard(common.SafeModeConfig{})
	bare := NewService(proc, ingest.New(proc, guard, nil), nil)
	if rr := do(t, bare.Router(), http.MethodGet, "/v1/documents", nil, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("no store: status = %d", rr.Code)
	}
}

func TestExportXLSX(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.Router()
	if rr := do(t, h, http.MethodPost, "/v1/extract/bytes?name=notes.txt", strings.NewReader(notes), ""); rr.Code != http.StatusOK {
		t.Fatalf("extract status = %d", rr.Code)
	}

	rr := do(t, h, http.MethodGet, "/v1/export.xlsx", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Documents")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "notes.txt" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestFormatsHealthAndMetrics(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.Router()

	rr := do(t, h, http.MethodGet, "/v1/formats", nil, "")
	got := decodeBody[struct {
		Formats   []string `json:"formats"`
		OCREngine string   `json:"ocr_engine"`
		SafeMode  bool     `json:"safe_mode"`
	}](t, rr)
	if len(got.Formats) != 3 || got.OCREngine != "none" || !got.SafeMode {
		t.Fatalf("formats = %+v", got)
	}

	if rr := do(t, h, http.MethodGet, "/healthz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/metrics", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rr.Code)
	}

	down, _ := newTestService(t, WithHealthCheck(func(context.Context) error { return errors.New("db down") }))
	if rr := do(t, down.Router(), http.MethodGet, "/healthz", nil, ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy healthz = %d", rr.Code)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&common.UnsupportedFormatError{}, http.StatusUnsupportedMediaType},
		{fmt.Errorf("x: %w", common.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", common.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("x: %w", common.ErrNotFound), http.StatusNotFound},
		{&common.ProcessingCancelled{Cause: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&common.ProcessingCancelled{Cause: context.Canceled}, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpStatus(tc.err); got != tc.want {
			t.Errorf("httpStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
