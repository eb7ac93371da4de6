// Package kvstore is the durable key-value persistence layer used by widgets
// and the token store. A Store encodes values as JSON on top of a Backend,
// which is any string-keyed byte store with atomic single-key operations.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
)

// ErrNotFound is returned by a Backend when a key is absent.
var ErrNotFound = errors.New("key not found")

// Backend is the host storage a Store writes to.
type Backend interface {
	// Get returns the bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A capacity rejection must match
	// errors.ErrQuotaExceeded.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases resources.
	Close() error
}

// QuotaError reports a write rejected for capacity. It matches
// errors.ErrQuotaExceeded.
type QuotaError struct {
	Used  int64
	Limit int64
	Need  int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%v: %d bytes used, %d requested, limit %d", perrors.ErrQuotaExceeded, e.Used, e.Need, e.Limit)
}

func (e *QuotaError) Unwrap() error { return perrors.ErrQuotaExceeded }

// CheckQuota returns a *QuotaError when replacing oldSize bytes with newSize
// bytes would push used past limit. A limit <= 0 disables the check.
func CheckQuota(limit, used, oldSize, newSize int64) error {
	if limit <= 0 {
		return nil
	}
	if used-oldSize+newSize > limit {
		return &QuotaError{Used: used, Limit: limit, Need: newSize}
	}
	return nil
}
