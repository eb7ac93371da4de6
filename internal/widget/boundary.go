// Package widget implements the dashboard's independently refreshing
// widgets. Each widget sits behind its own Boundary, which turns any
// failure in its data or render path into a contained, retryable error view.
package widget

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/p-blackswan/dashboard/internal/errlog"
	perrors "github.com/p-blackswan/dashboard/internal/errors"
	"github.com/p-blackswan/dashboard/internal/redact"
)

// State is a boundary's health.
type State int

const (
	Healthy State = iota
	Failed
)

func (s State) String() string {
	if s == Failed {
		return "failed"
	}
	return "healthy"
}

// MarshalText renders the state as "healthy" or "failed".
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses "healthy" or "failed".
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*s = Healthy
	case "failed":
		*s = Failed
	default:
		return fmt.Errorf("unknown widget state %q", b)
	}
	return nil
}

// RenderFunc produces a widget's normal view.
type RenderFunc func() (View, error)

// Boundary is the failure supervisor for one widget. The zero value is not
// usable; create one with NewBoundary. Safe for concurrent use.
type Boundary struct {
	id    string
	title string

	reporter errlog.Reporter
	onRetry  func()
	onChange func(State)

	mu    sync.Mutex
	state State
	err   error

	// failing is set while a failure is being logged, outside mu.
	failing bool
}

// BoundaryOption configures a Boundary.
type BoundaryOption func(*Boundary)

// WithRetryCallback is invoked once per successful Retry, after the reset.
func WithRetryCallback(fn func()) BoundaryOption {
	return func(b *Boundary) {
		b.onRetry = fn
	}
}

// WithBoundaryReporter sends failures to r instead of the default error log.
func WithBoundaryReporter(r errlog.Reporter) BoundaryOption {
	return func(b *Boundary) {
		b.reporter = r
	}
}

// WithStateHook is called after every state transition.
func WithStateHook(fn func(State)) BoundaryOption {
	return func(b *Boundary) {
		b.onChange = fn
	}
}

// NewBoundary creates a Healthy boundary for the widget id titled title.
func NewBoundary(id, title string, opts ...BoundaryOption) *Boundary {
	b := &Boundary{
		id:       id,
		title:    title,
		reporter: errlog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state.
func (b *Boundary) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the error that caused the Failed state, or nil.
func (b *Boundary) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Render calls child while Healthy. An error or panic from child moves the
// boundary to Failed. While Failed, child is not called and the fallback
// view is returned.
func (b *Boundary) Render(child RenderFunc) (view View) {
	if b.State() == Failed {
		return b.Fallback()
	}

	defer func() {
		if r := recover(); r != nil {
			b.fail(fmt.Errorf("widget %s panicked: %v", b.id, r), string(debug.Stack()))
			view = b.Fallback()
		}
	}()

	v, err := child()
	if err != nil {
		b.fail(err, "")
		return b.Fallback()
	}
	return v
}

// ReportError moves the boundary to Failed for a failure outside Render,
// such as a background refresh. It does nothing when already Failed.
func (b *Boundary) ReportError(err error) {
	if err == nil {
		return
	}
	b.fail(err, "")
}

// Retry resets a Failed boundary to Healthy and then invokes the retry
// callback exactly once. It returns false, without calling the callback,
// when the boundary was already Healthy.
func (b *Boundary) Retry() bool {
	if !b.reset() {
		return false
	}
	if b.onRetry != nil {
		b.onRetry()
	}
	return true
}

// Fallback returns the error view for the current failure.
func (b *Boundary) Fallback() View {
	b.mu.Lock()
	err := b.err
	b.mu.Unlock()

	v := View{
		ID:       b.id,
		Title:    b.title,
		State:    Failed,
		CanRetry: true,
	}
	if err != nil {
		v.Error = redact.String(err.Error())
		v.NeedsReauth = perrors.IsAuth(err)
	}
	return v
}

// fail logs err and transitions to Failed. The reporter runs without mu held
// and before the state changes; a boundary that is already Failed, or is
// mid-transition, logs nothing.
func (b *Boundary) fail(err error, stack string) {
	b.mu.Lock()
	if b.state == Failed || b.failing {
		b.mu.Unlock()
		return
	}
	b.failing = true
	b.mu.Unlock()

	b.reporter.Report(errlog.Report{
		Message: "widget failed",
		Err:     err,
		Context: map[string]any{
			"widgetId":    b.id,
			"widgetTitle": b.title,
		},
		Stack: stack,
	})

	b.mu.Lock()
	b.failing = false
	b.state = Failed
	b.err = err
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(Failed)
	}
}

func (b *Boundary) reset() bool {
	b.mu.Lock()
	if b.state == Healthy {
		b.mu.Unlock()
		return false
	}
	b.state = Healthy
	b.err = nil
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(Healthy)
	}
	return true
}
