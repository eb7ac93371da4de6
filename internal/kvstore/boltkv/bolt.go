// Package boltkv is a kvstore.Backend on a single bbolt file.
package boltkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/p-blackswan/dashboard/internal/kvstore"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")
	keyUsage      = []byte("usage")
)

// entryPrefix keeps the empty user key addressable; bbolt rejects zero-length keys.
const entryPrefix = "k/"

var _ kvstore.Backend = (*BoltDB)(nil)

// BoltDB implements kvstore.Backend using bbolt.
type BoltDB struct {
	db       *bbolt.DB
	logger   zerolog.Logger
	maxBytes int64
	noSync   bool
	timeout  time.Duration
}

// Option configures a BoltDB instance.
type Option func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithMaxBytes caps stored key plus value bytes. Zero disables the cap.
func WithMaxBytes(n int64) Option {
	return func(b *BoltDB) {
		b.maxBytes = n
	}
}

// WithNoSync disables fsync per transaction.
// Use only for testing, never in production.
func WithNoSync(noSync bool) Option {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// WithOpenTimeout bounds how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(b *BoltDB) {
		b.timeout = d
	}
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*BoltDB, error) {
	b := &BoltDB{
		logger:  zerolog.Nop(),
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("component", "boltkv").Logger()

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: b.timeout,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	b.logger.Debug().Str("path", path).Bool("no_sync", b.noSync).Msg("opened bolt store")
	return b, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug().Msg("closing bolt store")
	err := b.db.Close()
	b.db = nil
	return err
}

// DB returns the underlying bbolt database.
func (b *BoltDB) DB() *bbolt.DB {
	return b.db
}

func (b *BoltDB) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketEntries).Get(entryKey(key))
		if val == nil {
			return kvstore.ErrNotFound
		}
		data = make([]byte, len(val))
		copy(data, val)
		return nil
	})
	return data, err
}

func (b *BoltDB) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		meta := tx.Bucket(bucketMeta)
		k := entryKey(key)

		var oldSize int64
		if old := entries.Get(k); old != nil {
			oldSize = int64(len(key) + len(old))
		}
		newSize := int64(len(key) + len(value))
		used := readUsage(meta)
		if err := kvstore.CheckQuota(b.maxBytes, used, oldSize, newSize); err != nil {
			return err
		}

		// bbolt stores nil as a missing value.
		if value == nil {
			value = []byte{}
		}
		if err := entries.Put(k, value); err != nil {
			return fmt.Errorf("putting %q: %w", key, err)
		}
		return writeUsage(meta, used-oldSize+newSize)
	})
}

func (b *BoltDB) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		k := entryKey(key)
		old := entries.Get(k)
		if old == nil {
			return nil
		}
		size := int64(len(key) + len(old))
		if err := entries.Delete(k); err != nil {
			return fmt.Errorf("deleting %q: %w", key, err)
		}
		meta := tx.Bucket(bucketMeta)
		return writeUsage(meta, readUsage(meta)-size)
	})
}

func (b *BoltDB) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		p := entryKey(prefix)
		c := tx.Bucket(bucketEntries).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k[len(entryPrefix):]))
		}
		return nil
	})
	return keys, err
}

// Usage returns the stored key plus value bytes.
func (b *BoltDB) Usage() (int64, error) {
	var used int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		used = readUsage(tx.Bucket(bucketMeta))
		return nil
	})
	return used, err
}

func entryKey(key string) []byte {
	return []byte(entryPrefix + key)
}

func readUsage(meta *bbolt.Bucket) int64 {
	v := meta.Get(keyUsage)
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

func writeUsage(meta *bbolt.Bucket, used int64) error {
	if used < 0 {
		used = 0
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(used))
	return meta.Put(keyUsage, buf)
}
