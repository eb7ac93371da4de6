package retry

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
)

// recordedWait captures requested delays without sleeping.
type recordedWait struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *recordedWait) wait(_ context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, d)
	return nil
}

func failN(n int, result string) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= n {
			return "", fmt.Errorf("attempt %d: %w", calls, perrors.ErrTimeout)
		}
		return result, nil
	}, &calls
}

func TestDo_Success(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}, WithReporter(errlog.New()))
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestDo_EventualSuccess(t *testing.T) {
	w := &recordedWait{}
	op, calls := failN(2, "ok")

	got, err := Do(context.Background(), Config{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}, op,
		WithWait(w.wait), WithReporter(errlog.New()))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, w.delays)
}

func TestDo_DelayGrowth(t *testing.T) {
	for maxRetries := 1; maxRetries <= 5; maxRetries++ {
		for _, base := range []time.Duration{50 * time.Millisecond, 120 * time.Millisecond, 500 * time.Millisecond} {
			for k := 0; k <= maxRetries; k++ {
				w := &recordedWait{}
				op, calls := failN(k, "done")
				_, err := Do(context.Background(), Config{MaxRetries: maxRetries, BaseDelay: base}, op,
					WithWait(w.wait), WithReporter(errlog.New()))

				require.NoError(t, err)
				assert.Equal(t, k+1, *calls)
				require.Len(t, w.delays, k)
				for i, d := range w.delays {
					if i == 0 {
						assert.Equal(t, base, d)
						continue
					}
					assert.Equal(t, 2*w.delays[i-1], d)
				}
			}
		}
	}
}

func TestDo_AllFail(t *testing.T) {
	w := &recordedWait{}
	calls := 0
	var last error
	_, err := Do(context.Background(), Config{MaxRetries: 2, BaseDelay: time.Millisecond}, func(ctx context.Context) (struct{}, error) {
		calls++
		last = fmt.Errorf("failure %d", calls)
		return struct{}{}, last
	}, WithWait(w.wait), WithReporter(errlog.New()))

	assert.Equal(t, 3, calls)
	assert.Same(t, last, err)
	assert.Len(t, w.delays, 2)
}

func TestDo_ZeroRetries(t *testing.T) {
	w := &recordedWait{}
	calls := 0
	boom := errors.New("boom")
	_, err := Do(context.Background(), Config{MaxRetries: 0, BaseDelay: time.Second}, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	}, WithWait(w.wait), WithReporter(errlog.New()))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, w.delays)
}

func TestDo_ReportsEveryFailedAttempt(t *testing.T) {
	log := errlog.New()
	op, _ := failN(5, "never")
	_, err := Do(context.Background(), Config{MaxRetries: 2, BaseDelay: 10 * time.Millisecond}, op,
		WithWait((&recordedWait{}).wait), WithReporter(log), WithOperation("news.fetch"))
	require.Error(t, err)

	entries := log.RecentErrors()
	require.Len(t, entries, 3)
	assert.Equal(t, 0, entries[0].Context["attempt"])
	assert.Equal(t, int64(10), entries[0].Context["nextDelayMs"])
	assert.Equal(t, int64(20), entries[1].Context["nextDelayMs"])
	assert.NotContains(t, entries[2].Context, "nextDelayMs")
	assert.Equal(t, "retry attempts exhausted", entries[2].Message)
	assert.Equal(t, "news.fetch", entries[2].Context["operation"])
	assert.Equal(t, perrors.CategoryNetwork, entries[2].Category)
}

func TestDo_RetryIfStopsEarly(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{MaxRetries: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, perrors.ErrAuthFailure
	}, WithRetryIf(perrors.IsRetryable), WithWait((&recordedWait{}).wait), WithReporter(errlog.New()))

	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Config{MaxRetries: 3, BaseDelay: time.Hour}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, perrors.ErrTimeout
	}, WithReporter(errlog.New()))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_RealTimerDelays(t *testing.T) {
	var stamps []time.Time
	_, err := Do(context.Background(), Config{MaxRetries: 3, BaseDelay: 40 * time.Millisecond}, func(ctx context.Context) (int, error) {
		stamps = append(stamps, time.Now())
		if len(stamps) < 4 {
			return 0, perrors.ErrUnavailable
		}
		return 1, nil
	}, WithReporter(errlog.New()))
	require.NoError(t, err)
	require.Len(t, stamps, 4)

	first := stamps[1].Sub(stamps[0])
	assert.GreaterOrEqual(t, first, 40*time.Millisecond)
	for i := 2; i < len(stamps); i++ {
		prev := stamps[i-1].Sub(stamps[i-2])
		cur := stamps[i].Sub(stamps[i-1])
		ratio := float64(cur) / float64(prev)
		assert.InDelta(t, 2.0, ratio, 0.6, "delay ratio between attempts %d and %d", i-1, i)
	}
}

func TestDo_ConcurrentInvocationsAreIndependent(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op, _ := failN(i, "ok")
			_, results[i] = Do(context.Background(), Config{MaxRetries: 2, BaseDelay: time.Millisecond}, op,
				WithReporter(errlog.New()))
		}(i)
	}
	wg.Wait()

	assert.NoError(t, results[0])
	assert.NoError(t, results[1])
	assert.NoError(t, results[2])
	assert.ErrorIs(t, results[3], perrors.ErrTimeout)
}

func TestConfig_Delay(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 800*time.Millisecond, cfg.Delay(3))

	cfg.MaxDelay = 300 * time.Millisecond
	assert.Equal(t, 300*time.Millisecond, cfg.Delay(3))

	uncapped := Config{BaseDelay: time.Second}
	assert.Positive(t, uncapped.Delay(80))
}

func TestDo_ObserverOutcomes(t *testing.T) {
	w := &recordedWait{}
	var outcomes []string
	op, _ := failN(1, "ok")

	_, err := Do(context.Background(), Config{MaxRetries: 2, BaseDelay: time.Millisecond}, op,
		WithWait(w.wait), WithReporter(errlog.New()),
		WithObserver(func(o string) { outcomes = append(outcomes, o) }))
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeRetry, OutcomeSuccess}, outcomes)

	outcomes = nil
	op, _ = failN(10, "never")
	_, err = Do(context.Background(), Config{MaxRetries: 1, BaseDelay: time.Millisecond}, op,
		WithWait(w.wait), WithReporter(errlog.New()),
		WithObserver(func(o string) { outcomes = append(outcomes, o) }))
	require.Error(t, err)
	assert.Equal(t, []string{OutcomeRetry, OutcomeExhausted}, outcomes)
}
