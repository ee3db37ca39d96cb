// Package profile serves the clinic profile row with a small in-process
// cache, so the dispatch loops do not hit the database for static branding
// on every tick.
package profile

import (
	"context"
	"sync"
	"time"

	"clinotify/internal/store"
)

type Store interface {
	ClinicProfile(ctx context.Context) (*store.Profile, error)
}

type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	cached    *store.Profile
	fetchedAt time.Time
}

// NewService caches profile reads for ttl; ttl <= 0 caches until Refresh.
func NewService(s Store, ttl time.Duration) *Service {
	return &Service{store: s, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the cached profile when fresh, otherwise fetches. A missing
// row returns (nil, nil) and is never cached, so the first configured
// profile is picked up on the next call.
func (s *Service) Get(ctx context.Context) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && (s.ttl <= 0 || s.now().Sub(s.fetchedAt) < s.ttl) {
		return s.cached, nil
	}
	return s.fetchLocked(ctx)
}

// Refresh drops the cache and fetches the current row.
func (s *Service) Refresh(ctx context.Context) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	return s.fetchLocked(ctx)
}

func (s *Service) fetchLocked(ctx context.Context) (*store.Profile, error) {
	p, err := s.store.ClinicProfile(ctx)
	if err != nil {
		// Serve the stale copy rather than stalling every loop on a
		// transient read failure.
		if s.cached != nil {
			return s.cached, nil
		}
		return nil, err
	}
	if p == nil {
		s.cached = nil
		return nil, nil
	}
	s.cached = p
	s.fetchedAt = s.now()
	return p, nil
}
