package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/dashboard/internal/errlog"
	perrors "github.com/p-blackswan/dashboard/internal/errors"
	"github.com/p-blackswan/dashboard/internal/feed"
	"github.com/p-blackswan/dashboard/internal/kvstore"
	"github.com/p-blackswan/dashboard/internal/retry"
)

// scriptedSource returns queued results in order, repeating the last one.
type scriptedSource struct {
	mu      sync.Mutex
	calls   int
	results []result
}

type result struct {
	items []feed.Item
	err   error
}

func (s *scriptedSource) Fetch(context.Context) ([]feed.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r.items, r.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok(titles ...string) result {
	items := make([]feed.Item, len(titles))
	for i, t := range titles {
		items[i] = feed.Item{Title: t}
	}
	return result{items: items}
}

func fail(err error) result { return result{err: err} }

var fastRetry = retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond}

func newTestWidget(t *testing.T, src Source, opts ...Option) (*Widget, *errlog.Logger, *kvstore.Store) {
	t.Helper()
	log := errlog.New()
	kv := kvstore.New(kvstore.NewMemoryBackend(0))
	opts = append([]Option{WithRetryConfig(fastRetry), WithReporter(log), WithStore(kv)}, opts...)
	return New(Spec{ID: "news", Title: "News"}, src, opts), log, kv
}

func TestWidget_RenderBeforeFirstFetchIsLoading(t *testing.T) {
	w, _, _ := newTestWidget(t, &scriptedSource{results: []result{ok("a")}})
	v := w.Render()
	assert.Equal(t, Healthy, v.State)
	assert.True(t, v.Loading)
	assert.Empty(t, v.Items)
}

func TestWidget_RefreshSuccessPersists(t *testing.T) {
	ctx := context.Background()
	w, log, kv := newTestWidget(t, &scriptedSource{results: []result{ok("first", "second")}})

	require.NoError(t, w.Refresh(ctx))

	v := w.Render()
	assert.Equal(t, Healthy, v.State)
	assert.False(t, v.Loading)
	require.Len(t, v.Items, 2)
	assert.Equal(t, "first", v.Items[0].Title)
	assert.False(t, v.UpdatedAt.IsZero())
	assert.Empty(t, log.RecentErrors())

	c, found, err := kvstore.Get[cached](ctx, kv, "widget_cache_news")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, c.Items, 2)
}

func TestWidget_RefreshRetriesTransientFailures(t *testing.T) {
	src := &scriptedSource{results: []result{
		fail(fmt.Errorf("fetching: %w", perrors.ErrUnavailable)),
		ok("recovered"),
	}}
	w, log, _ := newTestWidget(t, src)

	require.NoError(t, w.Refresh(context.Background()))
	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, Healthy, w.Boundary().State())
	assert.Len(t, log.RecentErrors(), 1, "the failed attempt is still logged")
}

func TestWidget_RefreshFailureFailsBoundary(t *testing.T) {
	src := &scriptedSource{results: []result{fail(fmt.Errorf("fetching: %w", perrors.ErrUnavailable))}}
	var statuses []string
	w, _, _ := newTestWidget(t, src, WithRefreshHook(func(_, status string, _ time.Duration) {
		statuses = append(statuses, status)
	}))

	err := w.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, fastRetry.MaxRetries+1, src.Calls())

	v := w.Render()
	assert.Equal(t, Failed, v.State)
	assert.True(t, v.CanRetry)
	assert.False(t, v.NeedsReauth)
	assert.Equal(t, []string{RefreshFailed}, statuses)
}

func TestWidget_AuthFailureIsNotRetried(t *testing.T) {
	src := &scriptedSource{results: []result{fail(&perrors.APIError{
		Service: "google", StatusCode: 401, Message: "Unauthorized", Err: perrors.ErrAuthFailure,
	})}}
	w, log, _ := newTestWidget(t, src)

	require.Error(t, w.Refresh(context.Background()))
	assert.Equal(t, 1, src.Calls())

	v := w.Render()
	assert.Equal(t, Failed, v.State)
	assert.True(t, v.NeedsReauth)

	var auth int
	for _, e := range log.RecentErrors() {
		if e.Category == perrors.CategoryAuthentication {
			auth++
		}
	}
	assert.Equal(t, 2, auth, "retry report and boundary report are both authentication")
}

func TestWidget_SuccessfulRefreshStaysFailedUntilRetry(t *testing.T) {
	src := &scriptedSource{results: []result{fail(errors.New("boom")), ok("back")}}
	calls := 0
	kv := kvstore.New(kvstore.NewMemoryBackend(0))
	w := New(Spec{ID: "news", Title: "News"}, src, []Option{
		WithRetryConfig(retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond}),
		WithReporter(errlog.New()),
		WithStore(kv),
	}, WithRetryCallback(func() { calls++ }))

	require.Error(t, w.Refresh(context.Background()))
	require.Equal(t, Failed, w.Boundary().State())

	require.NoError(t, w.Refresh(context.Background()))
	assert.Equal(t, Failed, w.Boundary().State())
	assert.Equal(t, 0, calls)
	v := w.Render()
	assert.Equal(t, Failed, v.State)
	assert.Empty(t, v.Items)

	c, found, err := kvstore.Get[cached](context.Background(), kv, "widget_cache_news")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "back", c.Items[0].Title)

	require.True(t, w.Boundary().Retry())
	assert.Equal(t, 1, calls)
	v = w.Render()
	assert.Equal(t, Healthy, v.State)
	assert.Equal(t, "back", v.Items[0].Title)
}

func TestWidget_CancelledRefreshDoesNotFail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{results: []result{fail(errors.New("boom"))}}
	w, _, _ := newTestWidget(t, src, WithRetryConfig(retry.Config{MaxRetries: 3, BaseDelay: time.Hour}))

	done := make(chan error, 1)
	go func() { done <- w.Refresh(ctx) }()
	require.Eventually(t, func() bool { return src.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Healthy, w.Boundary().State())
}

func TestWidget_WarmStart(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.New(kvstore.NewMemoryBackend(0))
	updated := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, kv.Save(ctx, "widget_cache_news", cached{
		Items:     []feed.Item{{Title: "cached headline"}},
		UpdatedAt: updated,
	}))

	w := New(Spec{ID: "news", Title: "News"}, &scriptedSource{results: []result{ok()}},
		[]Option{WithStore(kv), WithReporter(errlog.New())})
	require.NoError(t, w.WarmStart(ctx))

	v := w.Render()
	assert.False(t, v.Loading)
	require.Len(t, v.Items, 1)
	assert.Equal(t, "cached headline", v.Items[0].Title)
	assert.True(t, updated.Equal(v.UpdatedAt))
}

func TestWidget_WarmStartCorruptCacheFails(t *testing.T) {
	ctx := context.Background()
	backend := kvstore.NewMemoryBackend(0)
	require.NoError(t, backend.Set(ctx, "widget_cache_news", []byte("{broken")))
	log := errlog.New()

	w := New(Spec{ID: "news", Title: "News"}, &scriptedSource{results: []result{ok("fresh")}},
		[]Option{WithStore(kvstore.New(backend)), WithReporter(log), WithRetryConfig(fastRetry)})

	err := w.WarmStart(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrDeserialization)
	assert.Equal(t, Failed, w.Boundary().State())
	require.Len(t, log.RecentErrors(), 1)
	assert.Equal(t, perrors.CategoryStorage, log.RecentErrors()[0].Category)

	require.NoError(t, w.Refresh(ctx))
	assert.Equal(t, Failed, w.Boundary().State())
	require.True(t, w.Boundary().Retry())
	assert.Equal(t, "fresh", w.Render().Items[0].Title)
}

func TestWidget_PersistFailureKeepsItems(t *testing.T) {
	ctx := context.Background()
	log := errlog.New()
	kv := kvstore.New(kvstore.NewMemoryBackend(8))
	w := New(Spec{ID: "news", Title: "News"}, &scriptedSource{results: []result{ok("too big to cache")}},
		[]Option{WithStore(kv), WithReporter(log), WithRetryConfig(fastRetry)})

	require.NoError(t, w.Refresh(ctx))
	v := w.Render()
	assert.Equal(t, Healthy, v.State)
	assert.Len(t, v.Items, 1)

	entries := log.RecentErrors()
	require.Len(t, entries, 1)
	assert.Equal(t, perrors.CategoryStorage, entries[0].Category)
}

func TestWidget_Limit(t *testing.T) {
	w := New(Spec{ID: "news", Title: "News", Limit: 2}, &scriptedSource{results: []result{ok("a", "b", "c")}},
		[]Option{WithReporter(errlog.New())})
	require.NoError(t, w.Refresh(context.Background()))
	assert.Len(t, w.Render().Items, 2)
}

func TestWidget_RetryObserver(t *testing.T) {
	var ops, outcomes []string
	src := &scriptedSource{results: []result{fail(errors.New("boom")), ok("a")}}
	w, _, _ := newTestWidget(t, src, WithRetryObserver(func(op string) func(string) {
		ops = append(ops, op)
		return func(o string) { outcomes = append(outcomes, o) }
	}))

	require.NoError(t, w.Refresh(context.Background()))
	assert.Equal(t, []string{"widget:news"}, ops)
	assert.Equal(t, []string{retry.OutcomeRetry, retry.OutcomeSuccess}, outcomes)
}
