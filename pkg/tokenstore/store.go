// Package tokenstore keeps third-party access tokens in the key-value store
// with an absolute expiry. Expired tokens are removed the first time they
// are read; a background sweep is optional.
package tokenstore

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/dashboard/internal/kvstore"
)

// KeyPrefix namespaces token records in the key-value store.
const KeyPrefix = "auth_token_"

// DefaultLifetime applies when the caller does not supply one.
const DefaultLifetime = time.Hour

// Token is the persisted record. ExpiresAt is unix milliseconds.
type Token struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Expired reports whether the token is no longer usable at now.
func (t *Token) Expired(now time.Time) bool {
	return now.UnixMilli() >= t.ExpiresAt
}

// Store saves and reads tokens keyed by service name.
type Store struct {
	kv      *kvstore.Store
	now     func() time.Time
	logger  zerolog.Logger
	onSwept func(n int)
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the clock. Tests use it to move past expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithSweepHook is called with the count removed by each sweep.
func WithSweepHook(fn func(n int)) Option {
	return func(s *Store) {
		s.onSwept = fn
	}
}

// New creates a token store on kv.
func New(kv *kvstore.Store, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "tokenstore").Logger()
	return s
}

func key(service string) string {
	return KeyPrefix + service
}

// SaveToken stores token for service, replacing any previous one. It
// expires lifetime from now; a non-positive lifetime stores an already
// expired token.
func (s *Store) SaveToken(ctx context.Context, service, token string, lifetime time.Duration) error {
	rec := Token{
		Token:     token,
		ExpiresAt: s.now().Add(lifetime).UnixMilli(),
	}
	return s.kv.Save(ctx, key(service), rec)
}

// GetToken returns the token for service. Missing and expired tokens report
// found=false; an expired record is deleted before returning.
func (s *Store) GetToken(ctx context.Context, service string) (string, bool, error) {
	var rec Token
	found, err := s.kv.Load(ctx, key(service), &rec)
	if err != nil || !found {
		return "", false, err
	}
	if rec.Expired(s.now()) {
		if err := s.kv.Remove(ctx, key(service)); err != nil {
			return "", false, err
		}
		s.logger.Debug().Str("service", service).Msg("expired token removed")
		return "", false, nil
	}
	return rec.Token, true, nil
}

// RemoveToken deletes the token for service. Removing an absent token is not an error.
func (s *Store) RemoveToken(ctx context.Context, service string) error {
	return s.kv.Remove(ctx, key(service))
}

// IsTokenValid reports whether an unexpired token exists for service.
func (s *Store) IsTokenValid(ctx context.Context, service string) (bool, error) {
	_, ok, err := s.GetToken(ctx, service)
	return ok, err
}

// Services lists services with a stored record, expired or not.
func (s *Store) Services(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	services := make([]string, 0, len(keys))
	for _, k := range keys {
		services = append(services, strings.TrimPrefix(k, KeyPrefix))
	}
	return services, nil
}
