package common

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	OCR      OCRConfig      `yaml:"ocr"`
	Raster   RasterConfig   `yaml:"raster"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	SafeMode SafeModeConfig `yaml:"safe_mode"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// PipelineConfig holds the default processing options.
type PipelineConfig struct {
	OCRMinChars        int     `yaml:"ocr_min_chars"`
	OCRConfidenceFloor float64 `yaml:"ocr_confidence_floor"`
	MaxConcurrency     int     `yaml:"max_concurrency"`
	PageTimeoutMS      int     `yaml:"timeout_per_page_ms"`
	DocumentTimeoutMS  int     `yaml:"document_timeout_ms"`
	ExtractText        bool    `yaml:"extract_text"`
	ExtractTables      bool    `yaml:"extract_tables"`
	ExtractImages      bool    `yaml:"extract_images"`
	Workers            int     `yaml:"workers"`
	QueueSize          int     `yaml:"queue_size"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Engine        string `yaml:"engine"` // tesseract | gosseract
	Tesseract     string `yaml:"tesseract"`
	Lang          string `yaml:"lang"`
	TessdataDir   string `yaml:"tessdata_dir"`
	PSM           int    `yaml:"psm"`
	OEM           int    `yaml:"oem"`
	PoolSize      int    `yaml:"pool_size"`
	TSVConfidence bool   `yaml:"tsv_confidence"`
}

// RasterConfig configures page rasterization for pages without a usable embedded image.
type RasterConfig struct {
	Pdftoppm string `yaml:"pdftoppm"`
	DPI      int    `yaml:"dpi"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// CacheConfig configures the optional OCR result cache.
type CacheConfig struct {
	RedisAddrs []string      `yaml:"redis_addrs"`
	Password   string        `yaml:"password"`
	TTL        time.Duration `yaml:"ttl"`
}

// SafeModeConfig restricts path-based extraction to a base directory.
type SafeModeConfig struct {
	Enabled           bool     `yaml:"enabled"`
	BaseDirectory     string   `yaml:"base_directory"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Pipeline: PipelineConfig{
			OCRMinChars:        10,
			OCRConfidenceFloor: 0.5,
			MaxConcurrency:     runtime.NumCPU(),
			PageTimeoutMS:      5000,
			DocumentTimeoutMS:  60000,
			ExtractText:        true,
			ExtractTables:      true,
			Workers:            2,
			QueueSize:          64,
		},
		OCR: OCRConfig{
			Engine:        "tesseract",
			Tesseract:     "tesseract",
			Lang:          "eng",
			PSM:           3,
			PoolSize:      runtime.NumCPU(),
			TSVConfidence: true,
		},
		Raster: RasterConfig{
			Pdftoppm: "pdftoppm",
			DPI:      300,
		},
		Database: DatabaseConfig{
			DSN:             "file:missingtext.db",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		SafeMode: SafeModeConfig{
			Enabled:       false,
			BaseDirectory: ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from .env, an optional YAML file named by
// MISSINGTEXT_CONFIG, then environment variables, later sources winning.
func LoadConfig() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path := os.Getenv("MISSINGTEXT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", "read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewAppError("CONFIG_ERROR", "parse config file "+path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxUploadBytes = getEnvAsInt64("MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)

	c.Pipeline.OCRMinChars = getEnvAsInt("OCR_MIN_CHARS", c.Pipeline.OCRMinChars)
	c.Pipeline.OCRConfidenceFloor = getEnvAsFloat64("OCR_CONFIDENCE_FLOOR", c.Pipeline.OCRConfidenceFloor)
	c.Pipeline.MaxConcurrency = getEnvAsInt("MAX_CONCURRENCY", c.Pipeline.MaxConcurrency)
	c.Pipeline.PageTimeoutMS = getEnvAsInt("TIMEOUT_PER_PAGE_MS", c.Pipeline.PageTimeoutMS)
	c.Pipeline.DocumentTimeoutMS = getEnvAsInt("DOCUMENT_TIMEOUT_MS", c.Pipeline.DocumentTimeoutMS)
	c.Pipeline.ExtractText = getEnvAsBool("EXTRACT_TEXT", c.Pipeline.ExtractText)
	c.Pipeline.ExtractTables = getEnvAsBool("EXTRACT_TABLES", c.Pipeline.ExtractTables)
	c.Pipeline.ExtractImages = getEnvAsBool("EXTRACT_IMAGES", c.Pipeline.ExtractImages)
	c.Pipeline.Workers = getEnvAsInt("QUEUE_WORKERS", c.Pipeline.Workers)
	c.Pipeline.QueueSize = getEnvAsInt("QUEUE_SIZE", c.Pipeline.QueueSize)

	c.OCR.Engine = getEnv("OCR_ENGINE", c.OCR.Engine)
	c.OCR.Tesseract = getEnv("TESSERACT_BIN", c.OCR.Tesseract)
	c.OCR.Lang = getEnv("TESSERACT_LANG", c.OCR.Lang)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)
	c.OCR.PSM = getEnvAsInt("TESSERACT_PSM", c.OCR.PSM)
	c.OCR.OEM = getEnvAsInt("TESSERACT_OEM", c.OCR.OEM)
	c.OCR.PoolSize = getEnvAsInt("OCR_POOL_SIZE", c.OCR.PoolSize)
	c.OCR.TSVConfidence = getEnvAsBool("OCR_TSV_CONFIDENCE", c.OCR.TSVConfidence)

	c.Raster.Pdftoppm = getEnv("PDFTOPPM_BIN", c.Raster.Pdftoppm)
	c.Raster.DPI = getEnvAsInt("RASTER_DPI", c.Raster.DPI)

	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Cache.RedisAddrs = getEnvAsList("REDIS_ADDRS", c.Cache.RedisAddrs)
	c.Cache.Password = getEnv("REDIS_PASSWORD", c.Cache.Password)
	c.Cache.TTL = getEnvAsDuration("OCR_CACHE_TTL", c.Cache.TTL)

	c.SafeMode.Enabled = getEnvAsBool("SAFE_MODE", c.SafeMode.Enabled)
	c.SafeMode.BaseDirectory = getEnv("BASE_DIRECTORY", c.SafeMode.BaseDirectory)
	c.SafeMode.AllowedExtensions = getEnvAsList("ALLOWED_EXTENSIONS", c.SafeMode.AllowedExtensions)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("server.http_addr", c.Server.HTTPAddr, Required)
	v.Field("server.grpc_addr", c.Server.GRPCAddr, Required)
	v.Field("pipeline.ocr_min_chars", c.Pipeline.OCRMinChars, NonNegative)
	v.Field("pipeline.max_concurrency", c.Pipeline.MaxConcurrency, Positive)
	v.Field("pipeline.timeout_per_page_ms", c.Pipeline.PageTimeoutMS, Positive)
	v.Field("pipeline.document_timeout_ms", c.Pipeline.DocumentTimeoutMS, Positive)
	v.Field("pipeline.ocr_confidence_floor", c.Pipeline.OCRConfidenceFloor, UnitInterval)
	v.Field("ocr.engine", c.OCR.Engine, OneOf("tesseract", "gosseract", "none"))
	v.Field("ocr.pool_size", c.OCR.PoolSize, Positive)
	v.Field("raster.dpi", c.Raster.DPI, Positive)
	v.Field("logging.format", c.Logging.Format, OneOf("json", "text"))
	if c.SafeMode.Enabled {
		v.Field("safe_mode.base_directory", c.SafeMode.BaseDirectory, Required)
	}
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// String renders the config without secrets, for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("http=%s grpc=%s ocr=%s lang=%s db=%s cache=%d safe_mode=%t",
		c.Server.HTTPAddr, c.Server.GRPCAddr, c.OCR.Engine, c.OCR.Lang,
		redactDSN(c.Database.DSN), len(c.Cache.RedisAddrs), c.SafeMode.Enabled)
}

func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
