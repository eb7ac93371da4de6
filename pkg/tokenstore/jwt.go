package tokenstore

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/p-blackswan/dashboard/internal/errors"
)

// SaveJWT stores a JWT access token, taking its lifetime from the exp claim.
// The signature is not verified; the issuing service does that. A token
// without exp gets DefaultLifetime.
func (s *Store) SaveJWT(ctx context.Context, service, raw string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return fmt.Errorf("parsing jwt for %s: %v: %w", service, err, perrors.ErrInvalidInput)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("reading exp claim for %s: %v: %w", service, err, perrors.ErrInvalidInput)
	}

	lifetime := DefaultLifetime
	if exp != nil {
		lifetime = exp.Time.Sub(s.now())
	}
	return s.SaveToken(ctx, service, raw, lifetime)
}
