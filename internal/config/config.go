package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// Key-value store
	StoreBackend   string `envconfig:"STORE_BACKEND" default:"sqlite"`
	StorePath      string `envconfig:"STORE_PATH" default:"dashboard.db"`
	StoreMaxBytes  int64  `envconfig:"STORE_MAX_BYTES" default:"5242880"` // 5 MiB, the usual browser storage quota
	StoreNamespace string `envconfig:"STORE_NAMESPACE"`

	// Widgets
	LayoutPath   string        `envconfig:"LAYOUT_PATH" default:"layout.yaml"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`

	// Retry
	RetryMaxRetries int           `envconfig:"RETRY_MAX_RETRIES" default:"3"`
	RetryBaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay   time.Duration `envconfig:"RETRY_MAX_DELAY" default:"0"`

	// Error log
	ErrorHistorySize int `envconfig:"ERROR_HISTORY_SIZE" default:"50"`

	// Tokens
	TokenSweepInterval time.Duration `envconfig:"TOKEN_SWEEP_INTERVAL" default:"0"`
	TokenDefaultTTL    time.Duration `envconfig:"TOKEN_DEFAULT_TTL" default:"1h"`

	// HTTP
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
}

// IsDevelopment reports whether the error log should mirror to the console.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendBolt, BackendBadger:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend != BackendMemory && c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required for the %s backend", c.StoreBackend)
	}
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must be >= 0, got %d", c.RetryMaxRetries)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive, got %s", c.RetryBaseDelay)
	}
	if c.ErrorHistorySize < 1 {
		return fmt.Errorf("ERROR_HISTORY_SIZE must be >= 1, got %d", c.ErrorHistorySize)
	}
	return nil
}

// CORSOriginList returns the parsed list of allowed origins, nil when unset.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
