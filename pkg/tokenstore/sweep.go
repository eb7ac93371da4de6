package tokenstore

import (
	"context"
	"time"
)

// Sweep deletes every expired token and returns how many were removed.
// Unreadable records are left alone.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	services, err := s.Services(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	count := 0
	for _, service := range services {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		var rec Token
		found, err := s.kv.Load(ctx, key(service), &rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("service", service).Msg("skipping unreadable token record")
			continue
		}
		if !found || !rec.Expired(now) {
			continue
		}
		if err := s.kv.Remove(ctx, key(service)); err != nil {
			return count, err
		}
		count++
	}

	if s.onSwept != nil {
		s.onSwept(count)
	}
	if count > 0 {
		s.logger.Info().Int("removed", count).Msg("swept expired tokens")
	}
	return count, nil
}

// RunSweeper calls Sweep every interval until ctx is done. A non-positive
// interval returns immediately.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("token sweep failed")
			}
		}
	}
}
