package kvstore

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
)

type article struct {
	Title     string            `json:"title"`
	Tags      []string          `json:"tags"`
	Published time.Time         `json:"published"`
	Score     float64           `json:"score"`
	Meta      map[string]string `json:"meta,omitempty"`
	Pinned    bool              `json:"pinned"`
	Author    *string           `json:"author"`
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *MemoryBackend) {
	t.Helper()
	b := NewMemoryBackend(0)
	return New(b, opts...), b
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	author := "jane"
	in := []article{{
		Title:     "Go 1.26 released",
		Tags:      []string{"go", "release"},
		Published: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Score:     4.5,
		Meta:      map[string]string{"source": "blog"},
		Pinned:    true,
		Author:    &author,
	}, {Title: "empty"}}

	require.NoError(t, s.Save(ctx, "news", in))

	var out []article
	found, err := s.Load(ctx, "news", &out)
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, out, 2)
	assert.Equal(t, in[0].Title, out[0].Title)
	assert.True(t, in[0].Published.Equal(out[0].Published))
	assert.Equal(t, in[0].Tags, out[0].Tags)
	assert.Equal(t, *in[0].Author, *out[0].Author)
	assert.Nil(t, out[1].Author)
}

func TestStore_RoundTripScalars(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, "n", 42))
	require.NoError(t, s.Save(ctx, "s", "hello"))
	require.NoError(t, s.Save(ctx, "m", map[string]any{"a": 1.5, "b": []any{"x", true}}))

	n, found, err := Get[int](ctx, s, "n")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, n)

	str, _, err := Get[string](ctx, s, "s")
	require.NoError(t, err)
	assert.Equal(t, "hello", str)

	m, _, err := Get[map[string]any](ctx, s, "m")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.5, "b": []any{"x", true}}, m)
}

func TestStore_LoadAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	var v string
	found, err := s.Load(context.Background(), "never-written", &v)
	assert.NoError(t, err)
	assert.False(t, found)

	got, found, err := Get[[]int](context.Background(), s, "never-written")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestStore_LoadCorrupted(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t)
	require.NoError(t, b.Set(ctx, "news", []byte(`{"title": "broken`)))

	var out article
	found, err := s.Load(ctx, "news", &out)
	require.Error(t, err)
	assert.False(t, found)
	assert.ErrorIs(t, err, perrors.ErrDeserialization)
	assert.Contains(t, err.Error(), `"news"`)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "news", se.Key)
}

func TestStore_SaveSerializationFailure(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Save(context.Background(), "bad", math.NaN())
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrSerialization)
	assert.Contains(t, err.Error(), `"bad"`)

	err = s.Save(context.Background(), "chan", make(chan int))
	assert.ErrorIs(t, err, perrors.ErrSerialization)
}

func TestStore_SaveQuotaExceeded(t *testing.T) {
	s := New(NewMemoryBackend(32))
	err := s.Save(context.Background(), "huge", strings.Repeat("x", 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrQuotaExceeded)
	assert.NotErrorIs(t, err, perrors.ErrSerialization)
	assert.Contains(t, err.Error(), `"huge"`)
}

type failingBackend struct {
	*MemoryBackend
}

func (failingBackend) Set(context.Context, string, []byte) error {
	return errors.New("disk on fire")
}

func TestStore_SaveOtherWriteErrorIsSerialization(t *testing.T) {
	s := New(failingBackend{NewMemoryBackend(0)})
	err := s.Save(context.Background(), "k", 1)
	assert.ErrorIs(t, err, perrors.ErrSerialization)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestStore_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Remove(ctx, "absent"))
	require.NoError(t, s.Save(ctx, "a", 1))
	require.NoError(t, s.Save(ctx, "b", 2))
	require.NoError(t, s.Remove(ctx, "a"))

	_, found, err := Get[int](ctx, s, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	_, found, _ = Get[int](ctx, s, "b")
	assert.False(t, found)
}

func TestStore_EmptyKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Save(ctx, "", "root"))
	require.NoError(t, s.Save(ctx, "x", "other"))

	v, found, err := Get[string](ctx, s, "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "root", v)
}

func TestStore_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(0)
	a := New(b, WithNamespace("a:"))
	other := New(b, WithNamespace("b:"))

	require.NoError(t, a.Save(ctx, "k", 1))
	require.NoError(t, other.Save(ctx, "k", 2))
	require.NoError(t, a.Clear(ctx))

	_, found, _ := Get[int](ctx, a, "k")
	assert.False(t, found)
	v, found, _ := Get[int](ctx, other, "k")
	assert.True(t, found)
	assert.Equal(t, 2, v)

	keys, err := other.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestStore_Observer(t *testing.T) {
	var ops []string
	s, _ := newTestStore(t, WithObserver(func(op string, err error) {
		if err != nil {
			op += ":error"
		}
		ops = append(ops, op)
	}))
	ctx := context.Background()
	_ = s.Save(ctx, "k", 1)
	_, _ = s.Load(ctx, "k", new(int))
	_ = s.Save(ctx, "k", make(chan int))
	_ = s.Remove(ctx, "k")
	assert.Equal(t, []string{"save", "load", "save:error", "remove"}, ops)
}

func TestCheckQuota(t *testing.T) {
	assert.NoError(t, CheckQuota(0, 1000, 0, 1000))
	assert.NoError(t, CheckQuota(100, 50, 10, 60))
	err := CheckQuota(100, 50, 0, 60)
	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, int64(100), qe.Limit)
	assert.ErrorIs(t, err, perrors.ErrQuotaExceeded)
}
