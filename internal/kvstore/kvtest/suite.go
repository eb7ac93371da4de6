// Package kvtest holds a conformance suite every kvstore.Backend must pass.
package kvtest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
	"github.com/p-blackswan/dashboard/internal/kvstore"
)

// Factory opens a fresh, empty backend. maxBytes <= 0 means no quota.
// The factory registers its own cleanup.
type Factory func(t *testing.T, maxBytes int64) kvstore.Backend

// RunBackendSuite runs the backend conformance tests.
func RunBackendSuite(t *testing.T, newBackend Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetAbsent", func(t *testing.T) {
		b := newBackend(t, 0)
		_, err := b.Get(ctx, "missing")
		assert.ErrorIs(t, err, kvstore.ErrNotFound)
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		b := newBackend(t, 0)
		require.NoError(t, b.Set(ctx, "k", []byte("v1")))
		require.NoError(t, b.Set(ctx, "k", []byte("v2")))
		got, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		b := newBackend(t, 0)
		require.NoError(t, b.Set(ctx, "", []byte("empty")))
		require.NoError(t, b.Set(ctx, "a", []byte("a")))
		got, err := b.Get(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []byte("empty"), got)

		require.NoError(t, b.Delete(ctx, ""))
		_, err = b.Get(ctx, "")
		assert.ErrorIs(t, err, kvstore.ErrNotFound)
		got, err = b.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("a"), got)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		b := newBackend(t, 0)
		require.NoError(t, b.Delete(ctx, "never-written"))
		require.NoError(t, b.Set(ctx, "k", []byte("v")))
		require.NoError(t, b.Delete(ctx, "k"))
		require.NoError(t, b.Delete(ctx, "k"))
		_, err := b.Get(ctx, "k")
		assert.ErrorIs(t, err, kvstore.ErrNotFound)
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		b := newBackend(t, 0)
		for _, k := range []string{"auth_token_google", "auth_token_outlook", "widget_cache_news", ""} {
			require.NoError(t, b.Set(ctx, k, []byte("x")))
		}
		keys, err := b.Keys(ctx, "auth_token_")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"auth_token_google", "auth_token_outlook"}, keys)

		all, err := b.Keys(ctx, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"auth_token_google", "auth_token_outlook", "widget_cache_news", ""}, all)
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		b := newBackend(t, 0)
		in := []byte("original")
		require.NoError(t, b.Set(ctx, "k", in))
		in[0] = 'X'
		got, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "original", string(got))
	})

	t.Run("QuotaExceeded", func(t *testing.T) {
		b := newBackend(t, 64)
		require.NoError(t, b.Set(ctx, "small", []byte("ok")))

		err := b.Set(ctx, "big", []byte(strings.Repeat("x", 256)))
		require.Error(t, err)
		assert.ErrorIs(t, err, perrors.ErrQuotaExceeded)

		_, err = b.Get(ctx, "big")
		assert.ErrorIs(t, err, kvstore.ErrNotFound, "rejected write must not be stored")

		got, err := b.Get(ctx, "small")
		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), got)
	})

	t.Run("QuotaFreedByDelete", func(t *testing.T) {
		b := newBackend(t, 64)
		require.NoError(t, b.Set(ctx, "a", []byte(strings.Repeat("x", 40))))
		require.Error(t, b.Set(ctx, "b", []byte(strings.Repeat("y", 40))))
		require.NoError(t, b.Delete(ctx, "a"))
		require.NoError(t, b.Set(ctx, "b", []byte(strings.Repeat("y", 40))))
	})

	t.Run("QuotaOverwriteCountsOnce", func(t *testing.T) {
		b := newBackend(t, 64)
		for i := 0; i < 5; i++ {
			require.NoError(t, b.Set(ctx, "k", []byte(strings.Repeat("z", 40))))
		}
	})
}
