package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missingtext.yaml")
	yml := `
server:
  http_addr: ":7000"
pipeline:
  ocr_min_chars: 25
  timeout_per_page_ms: 2500
ocr:
  lang: deu
cache:
  redis_addrs: ["localhost:6379"]
  ttl: 1h
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MISSINGTEXT_CONFIG", path)
	t.Setenv("TESSERACT_LANG", "fra")
	t.Setenv("SAFE_MODE", "true")
	t.Setenv("BASE_DIRECTORY", dir)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Pipeline.OCRMinChars != 25 || cfg.Pipeline.PageTimeoutMS != 2500 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.DocumentTimeoutMS != 60000 {
		t.Errorf("default document timeout lost: %d", cfg.Pipeline.DocumentTimeoutMS)
	}
	if cfg.OCR.Lang != "fra" {
		t.Errorf("env should override file: lang = %q", cfg.OCR.Lang)
	}
	if cfg.Cache.TTL != time.Hour || len(cfg.Cache.RedisAddrs) != 1 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if !cfg.SafeMode.Enabled || cfg.SafeMode.BaseDirectory != dir {
		t.Errorf("safe mode = %+v", cfg.SafeMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.OCRConfidenceFloor = 1.5
	cfg.Pipeline.MaxConcurrency = 0
	cfg.OCR.Engine = "abbyy"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"ocr_confidence_floor", "max_concurrency", "ocr.engine"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestRedactDSN(t *testing.T) {
	got := redactDSN("postgres://user:secret@db:5432/mt")
	if got != "postgres://***@db:5432/mt" {
		t.Fatalf("redactDSN = %q", got)
	}
	if redactDSN("file:missingtext.db") != "file:missingtext.db" {
		t.Fatal("sqlite dsn should be unchanged")
	}
}
