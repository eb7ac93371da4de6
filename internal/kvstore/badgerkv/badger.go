// Package badgerkv is a kvstore.Backend on BadgerDB.
package badgerkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/dashboard/internal/kvstore"
)

const (
	entryPrefix = "k/"
	usageKey    = "m/usage"

	// maxConflictRetries bounds optimistic transaction retries on ErrConflict.
	maxConflictRetries = 5
)

// Config configures a BadgerDB backend.
type Config struct {
	// Path is the data directory. Required unless InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// MaxBytes caps stored key plus value bytes. Zero disables the cap.
	MaxBytes int64

	// GCInterval runs value log GC periodically. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64

	// Logger receives badger's internal logs. Nil silences them.
	Logger *zerolog.Logger
}

// DefaultConfig returns a durable configuration; Path must still be set.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

var _ kvstore.Backend = (*DB)(nil)

// DB implements kvstore.Backend.
type DB struct {
	db       *badger.DB
	maxBytes int64
	logger   zerolog.Logger

	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens the database described by cfg.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "badgerkv").Logger()
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	d := &DB{db: bdb, maxBytes: cfg.MaxBytes, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.stopGC = make(chan struct{})
		d.doneGC = make(chan struct{})
		go d.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return d, nil
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			err := d.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Warn().Err(err).Msg("badger value log GC error")
			}
		}
	}
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.stopGC != nil {
		close(d.stopGC)
		<-d.doneGC
		d.stopGC = nil
	}
	return d.db.Close()
}

func (d *DB) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return kvstore.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (d *DB) Set(_ context.Context, key string, value []byte) error {
	return d.update(key, func(txn *badger.Txn) error {
		k := entryKey(key)
		oldSize, _, err := entrySize(txn, key)
		if err != nil {
			return err
		}
		newSize := int64(len(key) + len(value))
		used, err := readUsage(txn)
		if err != nil {
			return err
		}
		if err := kvstore.CheckQuota(d.maxBytes, used, oldSize, newSize); err != nil {
			return err
		}

		v := make([]byte, len(value))
		copy(v, value)
		if err := txn.Set(k, v); err != nil {
			return err
		}
		return writeUsage(txn, used-oldSize+newSize)
	})
}

func (d *DB) Delete(_ context.Context, key string) error {
	return d.update(key, func(txn *badger.Txn) error {
		size, found, err := entrySize(txn, key)
		if err != nil || !found {
			return err
		}
		if err := txn.Delete(entryKey(key)); err != nil {
			return err
		}
		used, err := readUsage(txn)
		if err != nil {
			return err
		}
		return writeUsage(txn, used-size)
	})
}

func (d *DB) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := d.db.View(func(txn *badger.Txn) error {
		p := entryKey(prefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			k := it.Item().Key()
			keys = append(keys, string(bytes.TrimPrefix(k, []byte(entryPrefix))))
		}
		return nil
	})
	return keys, err
}

// Usage returns the stored key plus value bytes.
func (d *DB) Usage() (int64, error) {
	var used int64
	err := d.db.View(func(txn *badger.Txn) error {
		var err error
		used, err = readUsage(txn)
		return err
	})
	return used, err
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (d *DB) update(key string, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if errors.Is(err, badger.ErrTxnTooBig) {
		return &kvstore.QuotaError{Limit: d.maxBytes}
	}
	if err != nil {
		var qe *kvstore.QuotaError
		if errors.As(err, &qe) {
			return err
		}
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// entrySize returns key plus value bytes for key and whether it exists.
func entrySize(txn *badger.Txn, key string) (int64, bool, error) {
	item, err := txn.Get(entryKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int64(len(key)) + item.ValueSize(), true, nil
}

func entryKey(key string) []byte {
	return []byte(entryPrefix + key)
}

func readUsage(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(usageKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil || len(v) != 8 {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func writeUsage(txn *badger.Txn, used int64) error {
	if used < 0 {
		used = 0
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(used))
	return txn.Set([]byte(usageKey), buf)
}
