// Package errlog is the shared error reporting facility. Every reported
// failure is classified, redacted and kept in a bounded in-memory history
// for developer inspection. Nothing is persisted or sent off the host.
package errlog

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
	"github.com/p-blackswan/dashboard/internal/redact"
	"github.com/p-blackswan/dashboard/internal/ring"
)

// DefaultCapacity is the number of entries kept before the oldest is dropped.
const DefaultCapacity = 50

// Entry is one retained error record. Message, Context and Stack are
// already redacted.
type Entry struct {
	ID        string           `json:"id"`
	Category  perrors.Category `json:"category"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Context   map[string]any   `json:"context,omitempty"`
	Stack     string           `json:"stack,omitempty"`
}

// Report is the structured input for a failure. Message defaults to
// Err.Error() when empty.
type Report struct {
	Message string
	Err     error
	Context map[string]any
	Stack   string
}

// Reporter is implemented by anything that accepts error reports.
type Reporter interface {
	Report(r Report)
}

// Sink receives a copy of every entry. It is the hook for shipping logs to
// an external collector.
type Sink interface {
	Ship(e Entry)
}

// Logger classifies, redacts and buffers error reports. Safe for concurrent use.
type Logger struct {
	buf        *ring.Buffer[Entry]
	capacity   int
	logger     zerolog.Logger
	mirror     bool
	onCategory func(perrors.Category)
	sink       Sink
	now        func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithCapacity sets the history size.
func WithCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithMirror mirrors every entry to logger at error level. Used in development.
func WithMirror(logger zerolog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger.With().Str("component", "errlog").Logger()
		l.mirror = true
	}
}

// WithCategoryHook registers a callback invoked with each entry's category.
func WithCategoryHook(fn func(perrors.Category)) Option {
	return func(l *Logger) {
		l.onCategory = fn
	}
}

// WithSink forwards entries to s.
func WithSink(s Sink) Option {
	return func(l *Logger) {
		l.sink = s
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New creates a Logger with an empty history.
func New(opts ...Option) *Logger {
	l := &Logger{
		capacity: DefaultCapacity,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.buf = ring.New[Entry](l.capacity)
	return l
}

// LogError records message with optional context.
func (l *Logger) LogError(message string, ctx map[string]any) {
	l.Report(Report{Message: message, Context: ctx})
}

// Report records r. It never panics.
func (l *Logger) Report(r Report) {
	defer func() {
		_ = recover()
	}()

	msg := r.Message
	ctx := make(map[string]any, len(r.Context)+1)
	for k, v := range r.Context {
		ctx[k] = v
	}
	if r.Err != nil {
		if msg == "" {
			msg = r.Err.Error()
		} else if _, ok := ctx["error"]; !ok {
			ctx["error"] = r.Err.Error()
		}
	}

	category := perrors.Classify(perrors.Signal{Message: msg, Context: ctx})
	if r.Err != nil {
		if c := perrors.ClassifyError(r.Err, ctx); c != perrors.CategoryUnknown && c != perrors.CategoryWidget {
			category = c
		}
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Category:  category,
		Message:   redact.String(msg),
		Timestamp: l.now(),
		Context:   redact.Map(ctx),
		Stack:     redact.String(r.Stack),
	}
	if len(entry.Context) == 0 {
		entry.Context = nil
	}

	l.buf.Push(entry)

	if l.onCategory != nil {
		l.onCategory(category)
	}
	if l.mirror {
		l.logger.Error().
			Str("error_id", entry.ID).
			Str("category", string(entry.Category)).
			Fields(entry.Context).
			Msg(entry.Message)
	}
	if l.sink != nil {
		l.sink.Ship(entry)
	}
}

// RecentErrors returns the retained entries, oldest first.
func (l *Logger) RecentErrors() []Entry {
	return l.buf.Items()
}

// ClearHistory drops every retained entry.
func (l *Logger) ClearHistory() {
	l.buf.Reset()
}

// Capacity returns the history size.
func (l *Logger) Capacity() int {
	return l.capacity
}
