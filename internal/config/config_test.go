package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithPrefix("DASHTEST")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, int64(5*1024*1024), cfg.StoreMaxBytes)
	assert.Equal(t, 3, cfg.RetryMaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Zero(t, cfg.RetryMaxDelay)
	assert.Equal(t, 50, cfg.ErrorHistorySize)
	assert.Zero(t, cfg.TokenSweepInterval)
	assert.Equal(t, time.Hour, cfg.TokenDefaultTTL)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Nil(t, cfg.CORSOriginList())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DASHTEST_ENVIRONMENT", "production")
	t.Setenv("DASHTEST_STORE_BACKEND", "bolt")
	t.Setenv("DASHTEST_STORE_PATH", "/var/lib/dashboard/bolt.db")
	t.Setenv("DASHTEST_RETRY_MAX_RETRIES", "5")
	t.Setenv("DASHTEST_RETRY_BASE_DELAY", "250ms")
	t.Setenv("DASHTEST_RETRY_MAX_DELAY", "30s")
	t.Setenv("DASHTEST_TOKEN_SWEEP_INTERVAL", "15m")
	t.Setenv("DASHTEST_CORS_ORIGINS", "http://localhost:3000, https://dash.example.com,")

	cfg, err := LoadWithPrefix("DASHTEST")
	require.NoError(t, err)

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, BackendBolt, cfg.StoreBackend)
	assert.Equal(t, 5, cfg.RetryMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 15*time.Minute, cfg.TokenSweepInterval)
	assert.Equal(t, []string{"http://localhost:3000", "https://dash.example.com"}, cfg.CORSOriginList())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"DASHTEST_STORE_BACKEND": "redis"}, "unknown STORE_BACKEND"},
		{"negative retries", map[string]string{"DASHTEST_RETRY_MAX_RETRIES": "-1"}, "RETRY_MAX_RETRIES"},
		{"zero base delay", map[string]string{"DASHTEST_RETRY_BASE_DELAY": "0s"}, "RETRY_BASE_DELAY"},
		{"empty history", map[string]string{"DASHTEST_ERROR_HISTORY_SIZE": "0"}, "ERROR_HISTORY_SIZE"},
		{"bad duration", map[string]string{"DASHTEST_FETCH_TIMEOUT": "soon"}, "FETCH_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadWithPrefix("DASHTEST")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_MemoryNeedsNoPath(t *testing.T) {
	cfg := &Config{StoreBackend: BackendMemory, RetryBaseDelay: time.Second, ErrorHistorySize: 1}
	assert.NoError(t, cfg.Validate())

	cfg.StoreBackend = BackendBadger
	assert.Error(t, cfg.Validate())
}

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout([]byte(`
title: Morning
widgets:
  - id: news
    title: Headlines
    url: https://feeds.example.com/news.json
    refresh: 10m
    limit: 5
  - id: calendar
    url: https://api.example.com/calendar
    service: google
    timeout: 3s
`))
	require.NoError(t, err)

	assert.Equal(t, "Morning", layout.Title)
	require.Len(t, layout.Widgets, 2)

	news := layout.Widgets[0]
	assert.Equal(t, "Headlines", news.Title)
	assert.Equal(t, 10*time.Minute, news.Refresh)
	assert.Equal(t, 5, news.Limit)
	assert.Empty(t, news.Service)

	cal := layout.Widgets[1]
	assert.Equal(t, "calendar", cal.Title, "title defaults to id")
	assert.Equal(t, "google", cal.Service)
	assert.Equal(t, DefaultRefreshInterval, cal.Refresh)
	assert.Equal(t, 3*time.Second, cal.Timeout)
}

func TestParseLayout_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "widgets:\n  - url: http://x\n", "id is required"},
		{"missing url", "widgets:\n  - id: a\n", "url is required"},
		{"duplicate", "widgets:\n  - id: a\n    url: http://x\n  - id: a\n    url: http://y\n", "duplicate id"},
		{"bad yaml", "widgets: [", "parsing layout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLayout([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadLayout_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("widgets:\n  - id: weather\n    url: http://localhost/w\n"), 0o600))

	layout, err := LoadLayout(path)
	require.NoError(t, err)
	assert.Equal(t, "Dashboard", layout.Title)
	assert.Equal(t, "weather", layout.Widgets[0].ID)

	_, err = LoadLayout(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadLayout_Example(t *testing.T) {
	layout, err := LoadLayout(filepath.Join("..", "..", "layout.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Home", layout.Title)
	require.Len(t, layout.Widgets, 2)
	assert.Equal(t, 10*time.Minute, layout.Widgets[0].Refresh)
	assert.Equal(t, 8, layout.Widgets[0].Limit)
	assert.Equal(t, "calendar", layout.Widgets[1].Service)
	assert.Equal(t, 5*time.Second, layout.Widgets[1].Timeout)
}
