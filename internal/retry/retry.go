// Package retry provides exponential backoff retry logic for calls to
// unreliable data providers.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/p-blackswan/dashboard/internal/errlog"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles on each retry.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultConfig returns the dashboard's retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Delay returns the wait before attempt+1, given that attempt just failed.
func (c Config) Delay(attempt int) time.Duration {
	delay := c.BaseDelay << uint(attempt)
	if attempt >= 63 || delay>>uint(attempt) != c.BaseDelay {
		delay = time.Duration(math.MaxInt64)
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

type options struct {
	reporter  errlog.Reporter
	operation string
	retryIf   func(error) bool
	wait      func(ctx context.Context, d time.Duration) error
	observe   func(outcome string)
}

// Attempt outcomes passed to the WithObserver callback.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeExhausted = "exhausted"
	OutcomeAborted   = "aborted"
)

// Option configures a single Do call.
type Option func(*options)

// WithReporter sends attempt failures to r instead of the default error log.
func WithReporter(r errlog.Reporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithOperation names the operation in failure reports.
func WithOperation(name string) Option {
	return func(o *options) {
		o.operation = name
	}
}

// WithRetryIf stops retrying as soon as fn returns false for an error.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) {
		o.retryIf = fn
	}
}

// WithWait replaces the timer-based wait. Intended for tests.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.wait = fn
	}
}

// WithObserver is called once per attempt with its outcome.
func WithObserver(fn func(outcome string)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op, retrying failures up to cfg.MaxRetries times with exponential
// backoff. Attempts are strictly sequential. When every attempt fails the
// last error is returned unwrapped. Cancelling ctx aborts the wait between
// attempts and returns ctx.Err().
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		reporter: errlog.Default(),
		wait:     sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	observe := func(string) {}
	if o.observe != nil {
		observe = o.observe
	}

	var zero T
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			observe(OutcomeSuccess)
			return result, nil
		}

		final := attempt >= cfg.MaxRetries || (o.retryIf != nil && !o.retryIf(err))
		report := map[string]any{
			"attempt":    attempt,
			"maxRetries": cfg.MaxRetries,
		}
		if o.operation != "" {
			report["operation"] = o.operation
		}
		var delay time.Duration
		if !final {
			delay = cfg.Delay(attempt)
			report["nextDelayMs"] = delay.Milliseconds()
		}
		o.reporter.Report(errlog.Report{
			Message: attemptMessage(final),
			Err:     err,
			Context: report,
		})

		if final {
			observe(OutcomeExhausted)
			return zero, err
		}
		if werr := o.wait(ctx, delay); werr != nil {
			observe(OutcomeAborted)
			return zero, werr
		}
		observe(OutcomeRetry)
	}
}

func attemptMessage(final bool) string {
	if final {
		return "retry attempts exhausted"
	}
	return "retry attempt failed"
}
