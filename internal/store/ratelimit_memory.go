package store

import (
	"context"
	"sync"
	"time"
)

// RateLimitMemoryStore is a per-process ratelimit.Store.
type RateLimitMemoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewRateLimitMemoryStore() *RateLimitMemoryStore {
	return &RateLimitMemoryStore{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

func (s *RateLimitMemoryStore) Record(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	hits := s.hits[key]

	// hits are appended in time order, so the live ones form a suffix.
	first := 0
	for first < len(hits) && !hits[first].After(cutoff) {
		first++
	}

	live := append(hits[first:len(hits):len(hits)], now)
	s.hits[key] = live

	return int64(len(live)), nil
}
