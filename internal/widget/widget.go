package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/dashboard/internal/errlog"
	perrors "github.com/p-blackswan/dashboard/internal/errors"
	"github.com/p-blackswan/dashboard/internal/feed"
	"github.com/p-blackswan/dashboard/internal/kvstore"
	"github.com/p-blackswan/dashboard/internal/retry"
)

// CacheKeyPrefix namespaces cached widget items in the key-value store.
const CacheKeyPrefix = "widget_cache_"

// Refresh outcomes passed to the refresh hook.
const (
	RefreshOK     = "ok"
	RefreshFailed = "error"
)

// Source fetches a widget's items.
type Source interface {
	Fetch(ctx context.Context) ([]feed.Item, error)
}

// Spec describes a widget.
type Spec struct {
	ID      string
	Title   string
	Refresh time.Duration
	// Limit caps rendered items. Zero renders all.
	Limit int
}

// View is what a widget renders: either its items or, when Failed, the
// error with a retry affordance.
type View struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	State       State       `json:"state"`
	Items       []feed.Item `json:"items,omitempty"`
	Loading     bool        `json:"loading,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
	CanRetry    bool        `json:"canRetry,omitempty"`
	NeedsReauth bool        `json:"needsReauth,omitempty"`
}

// cached is the persisted form of a widget's last good fetch.
type cached struct {
	Items     []feed.Item `json:"items"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Widget pairs a data Source with the Boundary guarding it.
type Widget struct {
	spec     Spec
	source   Source
	boundary *Boundary
	kv       *kvstore.Store
	retryCfg retry.Config
	reporter errlog.Reporter
	logger   zerolog.Logger
	now      func() time.Time

	onRefresh     func(widget, status string, d time.Duration)
	retryObserver func(operation string) func(outcome string)

	// refreshMu serialises refreshes of this widget.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	items     []feed.Item
	updatedAt time.Time
	loaded    bool
}

// Option configures a Widget.
type Option func(*Widget)

// WithRetryConfig sets the fetch retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(w *Widget) {
		w.retryCfg = cfg
	}
}

// WithStore persists fetched items for warm starts.
func WithStore(kv *kvstore.Store) Option {
	return func(w *Widget) {
		w.kv = kv
	}
}

// WithReporter sends failures to r instead of the default error log.
func WithReporter(r errlog.Reporter) Option {
	return func(w *Widget) {
		w.reporter = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Widget) {
		w.logger = logger
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(w *Widget) {
		w.now = now
	}
}

// WithRefreshHook is called after every refresh with its outcome and duration.
func WithRefreshHook(fn func(widget, status string, d time.Duration)) Option {
	return func(w *Widget) {
		w.onRefresh = fn
	}
}

// WithRetryObserver supplies a per-operation retry outcome observer.
func WithRetryObserver(fn func(operation string) func(outcome string)) Option {
	return func(w *Widget) {
		w.retryObserver = fn
	}
}

// New creates a widget. boundaryOpts configure its private Boundary.
func New(spec Spec, source Source, opts []Option, boundaryOpts ...BoundaryOption) *Widget {
	w := &Widget{
		spec:     spec,
		source:   source,
		retryCfg: retry.DefaultConfig(),
		reporter: errlog.Default(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "widget").Str("widget", spec.ID).Logger()
	boundaryOpts = append([]BoundaryOption{WithBoundaryReporter(w.reporter)}, boundaryOpts...)
	w.boundary = NewBoundary(spec.ID, spec.Title, boundaryOpts...)
	return w
}

// ID returns the widget identifier.
func (w *Widget) ID() string { return w.spec.ID }

// Title returns the display title.
func (w *Widget) Title() string { return w.spec.Title }

// Boundary returns the widget's boundary.
func (w *Widget) Boundary() *Boundary { return w.boundary }

func (w *Widget) cacheKey() string {
	return CacheKeyPrefix + w.spec.ID
}

// WarmStart loads the last persisted items so the first render is not
// blank. An absent cache is not an error; a corrupt one fails the widget.
func (w *Widget) WarmStart(ctx context.Context) error {
	if w.kv == nil {
		return nil
	}
	var c cached
	found, err := w.kv.Load(ctx, w.cacheKey(), &c)
	if err != nil {
		w.boundary.ReportError(err)
		return err
	}
	if !found {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		w.items = c.Items
		w.updatedAt = c.UpdatedAt
		w.loaded = true
	}
	w.logger.Debug().Int("items", len(c.Items)).Msg("warm start from cache")
	return nil
}

// Refresh fetches fresh items through the retrier. A failure fails the
// boundary; a success stores and persists the items. A Failed boundary stays
// Failed until the user retries it, so fresh items only show after Retry.
// Cancellation of ctx is returned without failing the widget.
func (w *Widget) Refresh(ctx context.Context) error {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	start := w.now()
	opts := []retry.Option{
		retry.WithOperation("widget:" + w.spec.ID),
		retry.WithReporter(w.reporter),
		retry.WithRetryIf(func(err error) bool { return !perrors.IsAuth(err) }),
	}
	if w.retryObserver != nil {
		opts = append(opts, retry.WithObserver(w.retryObserver("widget:"+w.spec.ID)))
	}

	items, err := retry.Do(ctx, w.retryCfg, w.source.Fetch, opts...)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		w.boundary.ReportError(err)
		w.recordRefresh(RefreshFailed, start)
		return err
	}

	now := w.now()
	w.mu.Lock()
	w.items = items
	w.updatedAt = now
	w.loaded = true
	w.mu.Unlock()

	w.persist(ctx, cached{Items: items, UpdatedAt: now})
	if w.boundary.State() == Failed {
		w.logger.Debug().Msg("refreshed while failed; waiting for retry")
	}
	w.recordRefresh(RefreshOK, start)
	return nil
}

// persist writes the cache. A storage failure is reported but does not fail
// the widget; the fresh items are still shown.
func (w *Widget) persist(ctx context.Context, c cached) {
	if w.kv == nil {
		return
	}
	if err := w.kv.Save(ctx, w.cacheKey(), c); err != nil {
		w.reporter.Report(errlog.Report{
			Message: "widget cache write failed",
			Err:     err,
			Context: map[string]any{"widgetId": w.spec.ID, "widgetTitle": w.spec.Title},
		})
	}
}

func (w *Widget) recordRefresh(status string, start time.Time) {
	if w.onRefresh != nil {
		w.onRefresh(w.spec.ID, status, w.now().Sub(start))
	}
}

// Render returns the widget's view through its boundary.
func (w *Widget) Render() View {
	return w.boundary.Render(w.view)
}

func (w *Widget) view() (View, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	v := View{
		ID:        w.spec.ID,
		Title:     w.spec.Title,
		State:     Healthy,
		Loading:   !w.loaded,
		UpdatedAt: w.updatedAt,
	}
	items := w.items
	if w.spec.Limit > 0 && len(items) > w.spec.Limit {
		items = items[:w.spec.Limit]
	}
	v.Items = append([]feed.Item(nil), items...)
	return v, nil
}
