package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink-relay/internal/ratelimit"
	"github.com/serroba/shortlink-relay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Record(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

func TestLimiter_Allow(t *testing.T) {
	policy := ratelimit.Policy{
		ratelimit.ScopeShorten: {Max: 3, Window: time.Minute},
	}

	t.Run("allows hits under the limit", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), policy)

		for range 3 {
			exceeded, err := limiter.Allow(context.Background(), "client1", ratelimit.ScopeShorten)

			require.NoError(t, err)
			assert.Nil(t, exceeded)
		}
	})

	t.Run("rejects the hit over the limit", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), policy)

		for range 3 {
			_, _ = limiter.Allow(context.Background(), "client1", ratelimit.ScopeShorten)
		}

		exceeded, err := limiter.Allow(context.Background(), "client1", ratelimit.ScopeShorten)

		require.NoError(t, err)
		require.NotNil(t, exceeded)
		assert.Equal(t, ratelimit.ScopeShorten, exceeded.Scope)
		assert.Equal(t, int64(4), exceeded.Count)
		assert.Contains(t, exceeded.Error(), "4/3")
	})

	t.Run("clients are limited independently", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), policy)

		for range 3 {
			_, _ = limiter.Allow(context.Background(), "client1", ratelimit.ScopeShorten)
		}

		exceeded, err := limiter.Allow(context.Background(), "client2", ratelimit.ScopeShorten)

		require.NoError(t, err)
		assert.Nil(t, exceeded)
	})

	t.Run("scopes without a limit are never rejected", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(failingStore{}, policy)

		exceeded, err := limiter.Allow(context.Background(), "client1", ratelimit.ScopeRedirect)

		require.NoError(t, err)
		assert.Nil(t, exceeded)
	})

	t.Run("propagates store errors", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(failingStore{}, policy)

		_, err := limiter.Allow(context.Background(), "client1", ratelimit.ScopeShorten)

		assert.Error(t, err)
	})
}

func TestScopeOf(t *testing.T) {
	t.Run("reads scope from metadata", func(t *testing.T) {
		op := &huma.Operation{Metadata: map[string]any{ratelimit.MetadataKey: ratelimit.ScopeConfig}}

		scope, ok := ratelimit.ScopeOf(op)

		assert.True(t, ok)
		assert.Equal(t, ratelimit.ScopeConfig, scope)
	})

	t.Run("missing metadata", func(t *testing.T) {
		_, ok := ratelimit.ScopeOf(&huma.Operation{})
		assert.False(t, ok)

		_, ok = ratelimit.ScopeOf(nil)
		assert.False(t, ok)
	})
}
