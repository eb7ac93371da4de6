package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
)

// Store saves and loads JSON-encoded values on a Backend. All keys are
// prefixed with the store's namespace, so Clear only touches keys this
// store could have written.
type Store struct {
	backend   Backend
	namespace string
	logger    zerolog.Logger
	observe   func(op string, err error)
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace prefixes every key with ns.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		s.namespace = ns
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "kvstore").Logger()
	}
}

// WithObserver registers a callback run after every operation.
func WithObserver(fn func(op string, err error)) Option {
	return func(s *Store) {
		s.observe = fn
	}
}

// New creates a Store on backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) done(op string, err error) error {
	if s.observe != nil {
		s.observe(op, err)
	}
	return err
}

// Save encodes value and writes it under key. Errors match
// errors.ErrQuotaExceeded or errors.ErrSerialization and name the key.
func (s *Store) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return s.done("save", serializationError(key, err))
	}

	if err := s.backend.Set(ctx, s.namespace+key, data); err != nil {
		if errors.Is(err, perrors.ErrQuotaExceeded) {
			s.logger.Warn().Str("key", key).Int("bytes", len(data)).Msg("storage quota exceeded")
			return s.done("save", quotaError(key, err))
		}
		return s.done("save", serializationError(key, err))
	}
	return s.done("save", nil)
}

// Load decodes the value under key into dest. It returns false with a nil
// error when key is absent. Bytes that cannot be decoded yield an error
// matching errors.ErrDeserialization.
func (s *Store) Load(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.backend.Get(ctx, s.namespace+key)
	if errors.Is(err, ErrNotFound) {
		return false, s.done("load", nil)
	}
	if err != nil {
		return false, s.done("load", fmt.Errorf("kvstore load %q: %w", key, err))
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("stored value is corrupted")
		return false, s.done("load", deserializationError(key, err))
	}
	return true, s.done("load", nil)
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.namespace+key); err != nil {
		return s.done("remove", fmt.Errorf("kvstore remove %q: %w", key, err))
	}
	return s.done("remove", nil)
}

// Keys lists the keys in this store's namespace that start with prefix.
// The namespace itself is stripped from the result.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	raw, err := s.backend.Keys(ctx, s.namespace+prefix)
	if err != nil {
		return nil, fmt.Errorf("kvstore keys %q: %w", prefix, err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, s.namespace))
	}
	return keys, nil
}

// Clear removes every key in this store's namespace.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.backend.Keys(ctx, s.namespace)
	if err != nil {
		return s.done("clear", fmt.Errorf("kvstore clear: %w", err))
	}
	for _, k := range keys {
		if err := s.backend.Delete(ctx, k); err != nil {
			return s.done("clear", fmt.Errorf("kvstore clear %q: %w", k, err))
		}
	}
	s.logger.Debug().Int("keys", len(keys)).Msg("store cleared")
	return s.done("clear", nil)
}

// Get loads the value under key as a T.
func Get[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var v T
	found, err := s.Load(ctx, key, &v)
	if err != nil || !found {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}
