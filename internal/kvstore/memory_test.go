package kvstore_test

import (
	"testing"

	"github.com/p-blackswan/dashboard/internal/kvstore"
	"github.com/p-blackswan/dashboard/internal/kvstore/kvtest"
)

func TestMemoryBackend(t *testing.T) {
	kvtest.RunBackendSuite(t, func(t *testing.T, maxBytes int64) kvstore.Backend {
		return kvstore.NewMemoryBackend(maxBytes)
	})
}
