package widget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownWidget is returned for an id the dashboard does not own.
var ErrUnknownWidget = errors.New("unknown widget")

// Dashboard owns an ordered set of widgets. Every widget has its own
// Boundary, so one widget's failure never changes another's state.
type Dashboard struct {
	title   string
	widgets []*Widget
	byID    map[string]*entry
	logger  zerolog.Logger

	onFailedChange func(failed int)
}

type entry struct {
	widget   *Widget
	interval time.Duration
	// kick queues one refresh for the Run loop; it holds at most one.
	kick chan struct{}
}

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithDashboardLogger sets the logger.
func WithDashboardLogger(logger zerolog.Logger) DashboardOption {
	return func(d *Dashboard) {
		d.logger = logger
	}
}

// WithFailedHook is called with the number of failed widgets after any
// boundary changes state.
func WithFailedHook(fn func(failed int)) DashboardOption {
	return func(d *Dashboard) {
		d.onFailedChange = fn
	}
}

// Builder collects widgets for a Dashboard. Each Add creates a fresh
// Boundary; boundaries cannot be shared between widgets.
type Builder struct {
	specs   []Spec
	sources []Source
	opts    [][]Option
}

// Add appends a widget.
func (b *Builder) Add(spec Spec, source Source, opts ...Option) *Builder {
	b.specs = append(b.specs, spec)
	b.sources = append(b.sources, source)
	b.opts = append(b.opts, opts)
	return b
}

// NewDashboard builds the dashboard from b.
func NewDashboard(title string, b *Builder, opts ...DashboardOption) (*Dashboard, error) {
	d := &Dashboard{
		title:  title,
		byID:   make(map[string]*entry, len(b.specs)),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "dashboard").Logger()

	for i, spec := range b.specs {
		if _, dup := d.byID[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate widget id %q", spec.ID)
		}
		e := &entry{interval: spec.Refresh, kick: make(chan struct{}, 1)}
		e.widget = New(spec, b.sources[i], b.opts[i],
			WithRetryCallback(func() { e.queue() }),
			WithStateHook(func(State) { d.stateChanged() }),
		)
		d.widgets = append(d.widgets, e.widget)
		d.byID[spec.ID] = e
	}
	return d, nil
}

func (e *entry) queue() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (d *Dashboard) stateChanged() {
	if d.onFailedChange != nil {
		d.onFailedChange(d.FailedCount())
	}
}

// Title returns the dashboard title.
func (d *Dashboard) Title() string { return d.title }

// Widgets returns the widgets in layout order.
func (d *Dashboard) Widgets() []*Widget {
	return append([]*Widget(nil), d.widgets...)
}

// Widget returns the widget with id.
func (d *Dashboard) Widget(id string) (*Widget, bool) {
	e, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return e.widget, true
}

// FailedCount returns how many widgets are currently Failed.
func (d *Dashboard) FailedCount() int {
	n := 0
	for _, w := range d.widgets {
		if w.boundary.State() == Failed {
			n++
		}
	}
	return n
}

// WarmStart loads every widget's cached items. Failures are contained in
// the affected widget.
func (d *Dashboard) WarmStart(ctx context.Context) {
	for _, w := range d.widgets {
		if err := w.WarmStart(ctx); err != nil {
			d.logger.Warn().Err(err).Str("widget", w.ID()).Msg("discarding unreadable widget cache")
		}
	}
}

// RefreshAll refreshes every widget concurrently and waits for all of them.
// A widget's failure is held by its boundary and never fails the others.
func (d *Dashboard) RefreshAll(ctx context.Context) {
	var g errgroup.Group
	for _, w := range d.widgets {
		g.Go(func() error {
			_ = w.Refresh(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Refresh refreshes one widget now.
func (d *Dashboard) Refresh(ctx context.Context, id string) error {
	w, ok := d.Widget(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	return w.Refresh(ctx)
}

// Retry runs the retry action on a widget's boundary, which queues a
// refresh of that widget. It returns false when the widget was not Failed.
func (d *Dashboard) Retry(id string) (bool, error) {
	w, ok := d.Widget(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	return w.boundary.Retry(), nil
}

// Render returns every widget's view in layout order.
func (d *Dashboard) Render() []View {
	views := make([]View, 0, len(d.widgets))
	for _, w := range d.widgets {
		views = append(views, w.Render())
	}
	return views
}

// Run refreshes each widget immediately and then on its own interval, plus
// whenever its retry action queues a refresh. It blocks until ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range d.byID {
		g.Go(func() error {
			d.runWidget(ctx, e)
			return nil
		})
	}
	d.logger.Info().Int("widgets", len(d.widgets)).Msg("dashboard running")
	return g.Wait()
}

func (d *Dashboard) runWidget(ctx context.Context, e *entry) {
	interval := e.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = e.widget.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
			d.logger.Debug().Str("widget", e.widget.ID()).Msg("retry requested refresh")
		}
		_ = e.widget.Refresh(ctx)
	}
}
