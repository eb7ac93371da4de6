package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
	"github.com/p-blackswan/dashboard/internal/kvstore"
)

var _ kvstore.Backend = (*Store)(nil)

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

// Set upserts key. The quota check and the write share one transaction.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newSize := int64(len(key) + len(value))
	if s.maxBytes > 0 {
		var used, oldSize int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM kv_entries`).Scan(&used); err != nil {
			return fmt.Errorf("failed to read usage: %w", err)
		}
		err := tx.QueryRowContext(ctx, `SELECT size FROM kv_entries WHERE key = ?`, key).Scan(&oldSize)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read entry size: %w", err)
		}
		if err := kvstore.CheckQuota(s.maxBytes, used, oldSize, newSize); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO kv_entries (key, value, size, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, size = excluded.size, updated_at = excluded.updated_at
	`, key, value, newSize, time.Now().UnixMilli())
	if err != nil {
		return mapWriteError(key, err)
	}

	if err := tx.Commit(); err != nil {
		return mapWriteError(key, err)
	}
	return nil
}

// Delete removes key; absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Keys lists keys beginning with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE substr(key, 1, length(?)) = ? ORDER BY key`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Usage returns the total key plus value bytes stored.
func (s *Store) Usage(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM kv_entries`).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return used, nil
}

// mapWriteError turns SQLITE_FULL into a quota error.
func mapWriteError(key string, err error) error {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) && sqErr.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("database full writing %q: %w", key, perrors.ErrQuotaExceeded)
	}
	return fmt.Errorf("failed to set %q: %w", key, err)
}
