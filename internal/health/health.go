// Package health provides liveness and readiness endpoints for the dashboard.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/dashboard/internal/kvstore"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// DefaultCheckTimeout bounds a single check run by RunAll.
const DefaultCheckTimeout = 5 * time.Second

// Checker runs named dependency checks. Safe for concurrent use.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithCheckTimeout bounds each check. A check still running at the deadline
// sees its context cancelled.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger, opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: DefaultCheckTimeout,
		logger:  logger.With().Str("component", "health").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a named health check, replacing any check with that name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes all checks concurrently and returns each one's status.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var mu sync.Mutex
	var g errgroup.Group
	for name, fn := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			s := fn(checkCtx)
			mu.Lock()
			results[name] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := Summarize(results)
	ev := c.logger.Debug()
	if overall != StatusOK {
		ev = c.logger.Warn()
	}
	ev.Int("checks", len(results)).Str("status", string(overall)).Msg("health checks complete")
	return results
}

// Summarize folds check results into one status: Down if any check is down,
// otherwise Degraded if any is degraded, otherwise OK.
func Summarize(results map[string]Status) Status {
	overall := StatusOK
	for _, s := range results {
		switch s {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// IsReady reports whether no check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return Summarize(c.RunAll(ctx)) != StatusDown
}

// probeKey is read by StoreCheck; it is never written.
const probeKey = "__health_probe__"

// StoreCheck reports Down when the backend cannot serve a read.
func StoreCheck(backend kvstore.Backend) CheckFunc {
	return func(ctx context.Context) Status {
		_, err := backend.Get(ctx, probeKey)
		if err == nil || errors.Is(err, kvstore.ErrNotFound) {
			return StatusOK
		}
		return StatusDown
	}
}

// FailedCheck reports Degraded while failed() is positive. The dashboard
// stays ready with failed widgets since each one renders its own error.
func FailedCheck(failed func() int) CheckFunc {
	return func(context.Context) Status {
		if failed() > 0 {
			return StatusDegraded
		}
		return StatusOK
	}
}

// LivenessHandler returns an HTTP handler for /healthz (liveness).
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Readiness is the /readyz response body.
type Readiness struct {
	Status string            `json:"status"`
	Checks map[string]Status `json:"checks"`
}

// ReadinessHandler returns an HTTP handler for /readyz. A degraded
// dependency is reported but still ready; only a down one returns 503.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.RunAll(r.Context())
		resp := Readiness{Status: "ready", Checks: results}
		code := http.StatusOK
		switch Summarize(results) {
		case StatusDown:
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
		case StatusDegraded:
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
