package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/dashboard/internal/config"
	"github.com/p-blackswan/dashboard/internal/errlog"
	"github.com/p-blackswan/dashboard/internal/feed"
	"github.com/p-blackswan/dashboard/internal/health"
	"github.com/p-blackswan/dashboard/internal/kvstore"
	"github.com/p-blackswan/dashboard/internal/kvstore/badgerkv"
	"github.com/p-blackswan/dashboard/internal/kvstore/boltkv"
	"github.com/p-blackswan/dashboard/internal/metrics"
	"github.com/p-blackswan/dashboard/internal/retry"
	"github.com/p-blackswan/dashboard/internal/server"
	"github.com/p-blackswan/dashboard/internal/store"
	"github.com/p-blackswan/dashboard/internal/widget"
	"github.com/p-blackswan/dashboard/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	layout, err := config.LoadLayout(cfg.LayoutPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.LayoutPath).Msg("failed to load layout")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Str("store_backend", cfg.StoreBackend).
		Int("widgets", len(layout.Widgets)).
		Msg("starting dashboard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	// Error log, shared by every widget boundary
	errOpts := []errlog.Option{
		errlog.WithCapacity(cfg.ErrorHistorySize),
		errlog.WithCategoryHook(m.RecordError),
	}
	if cfg.IsDevelopment() {
		errOpts = append(errOpts, errlog.WithMirror(logger))
	}
	errs := errlog.New(errOpts...)
	errlog.SetDefault(errs)

	// Key-value store
	backend, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}
	kv := kvstore.New(backend,
		kvstore.WithNamespace(cfg.StoreNamespace),
		kvstore.WithLogger(logger),
		kvstore.WithObserver(m.RecordStoreOp),
	)
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error().Err(err).Msg("store close error")
		}
	}()

	tokens := tokenstore.New(kv,
		tokenstore.WithLogger(logger),
		tokenstore.WithSweepHook(m.RecordSwept),
	)

	// Widgets
	client := feed.NewClient(tokens, logger, feed.WithTimeout(cfg.FetchTimeout))
	retryCfg := retry.Config{
		MaxRetries: cfg.RetryMaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}

	builder := &widget.Builder{}
	for _, ws := range layout.Widgets {
		builder.Add(widget.Spec{
			ID:      ws.ID,
			Title:   ws.Title,
			Refresh: ws.Refresh,
			Limit:   ws.Limit,
		}, client.Source(ws.URL, ws.Service, ws.Timeout),
			widget.WithRetryConfig(retryCfg),
			widget.WithStore(kv),
			widget.WithReporter(errs),
			widget.WithLogger(logger),
			widget.WithRefreshHook(func(id, status string, d time.Duration) {
				m.RecordRefresh(id, status, d.Seconds())
			}),
			widget.WithRetryObserver(m.RetryObserver),
		)
	}

	dash, err := widget.NewDashboard(layout.Title, builder,
		widget.WithDashboardLogger(logger),
		widget.WithFailedHook(m.SetWidgetsFailed),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dashboard")
	}
	dash.WarmStart(ctx)

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", health.StoreCheck(backend))
	checker.Register("widgets", health.FailedCheck(dash.FailedCount))

	srv := server.NewServer(server.ServerConfig{
		ListenAddr: cfg.HTTPAddr,
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins:     cfg.CORSOriginList(),
		TokenDefaultTTL: cfg.TokenDefaultTTL,
	}, server.Deps{
		Dashboard: dash,
		Tokens:    tokens,
		Errors:    errs,
		Checker:   checker,
		Metrics:   m,
	}, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dash.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("dashboard stopped with error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens.RunSweeper(ctx, cfg.TokenSweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("dashboard stopped")
}

// openBackend opens the configured storage backend.
func openBackend(cfg *config.Config, logger zerolog.Logger) (kvstore.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return kvstore.NewMemoryBackend(cfg.StoreMaxBytes), nil
	case config.BackendSQLite:
		return store.New(cfg.StorePath, logger, store.WithMaxBytes(cfg.StoreMaxBytes))
	case config.BackendBolt:
		return boltkv.Open(cfg.StorePath,
			boltkv.WithLogger(logger),
			boltkv.WithMaxBytes(cfg.StoreMaxBytes),
		)
	case config.BackendBadger:
		bc := badgerkv.DefaultConfig()
		bc.Path = cfg.StorePath
		bc.MaxBytes = cfg.StoreMaxBytes
		bl := logger.With().Str("component", "badger").Logger()
		bc.Logger = &bl
		return badgerkv.Open(bc)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
