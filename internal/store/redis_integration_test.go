//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"github.com/serroba/shortlink-relay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	return "localhost:6379"
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: getRedisAddr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	return client
}

// countingRepo counts Resolve calls that reach the wrapped repository.
type countingRepo struct {
	*store.MemoryStore
	resolves int
}

func (c *countingRepo) Resolve(ctx context.Context, token shortener.Token) (*shortener.Mapping, error) {
	c.resolves++

	return c.MemoryStore.Resolve(ctx, token)
}

// gatedRepo parks Resolve after it has read the mapping until release is closed.
type gatedRepo struct {
	*store.MemoryStore
	read    chan struct{}
	release chan struct{}
}

func (g *gatedRepo) Resolve(ctx context.Context, token shortener.Token) (*shortener.Mapping, error) {
	mapping, err := g.MemoryStore.Resolve(ctx, token)

	close(g.read)
	<-g.release

	return mapping, err
}

func TestRedisCacheRepositoryIntegration_DeleteDuringResolve(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)

	mem := store.NewMemoryStore()
	gated := &gatedRepo{MemoryStore: mem, read: make(chan struct{}), release: make(chan struct{})}
	cached := store.NewRedisCacheRepository(gated, client, time.Minute, zap.NewNop())

	token := shortener.Token("itrace" + time.Now().Format("150405.000000"))
	_, _, err := mem.SaveMapping(ctx, mappingFor(string(token), "https://race.example", 1, time.Now()))
	require.NoError(t, err)

	t.Cleanup(func() { client.Del(ctx, "link:"+string(token), "link:"+string(token)+":gone") })

	resolved := make(chan error, 1)

	go func() {
		_, err := cached.Resolve(ctx, token)
		resolved <- err
	}()

	<-gated.read
	require.NoError(t, cached.DeleteMapping(ctx, token))
	close(gated.release)
	require.NoError(t, <-resolved, "the in-flight resolve still sees the old mapping")

	exists, err := client.Exists(ctx, "link:"+string(token)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "the deleted mapping was cached again")

	_, err = store.NewRedisCacheRepository(mem, client, time.Minute, zap.NewNop()).Resolve(ctx, token)
	assert.ErrorIs(t, err, shortener.ErrNotFound)
}

func TestRedisCacheRepositoryIntegration(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)

	repo := &countingRepo{MemoryStore: store.NewMemoryStore()}
	cached := store.NewRedisCacheRepository(repo, client, time.Minute, zap.NewNop())

	token := "itcache" + time.Now().Format("150405.000000")
	_, _, err := cached.SaveMapping(ctx, mappingFor(token, "https://cached.example", 1, time.Now()))
	require.NoError(t, err)

	t.Run("second resolve is served from cache", func(t *testing.T) {
		first, err := cached.Resolve(ctx, shortener.Token(token))
		require.NoError(t, err)

		second, err := cached.Resolve(ctx, shortener.Token(token))
		require.NoError(t, err)

		assert.Equal(t, 1, repo.resolves)
		assert.Equal(t, first.LongURL, second.LongURL)
		assert.Equal(t, first.LinkID, second.LinkID)
	})

	t.Run("delete evicts the cached mapping", func(t *testing.T) {
		require.NoError(t, cached.DeleteMapping(ctx, shortener.Token(token)))

		_, err := cached.Resolve(ctx, shortener.Token(token))
		assert.ErrorIs(t, err, shortener.ErrNotFound)
	})
}

func TestRateLimitRedisStoreIntegration(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)

	s, err := store.NewRateLimitRedisStore(client)
	require.NoError(t, err)

	key := "it:" + time.Now().Format("150405.000000")

	for want := int64(1); want <= 3; want++ {
		count, err := s.Record(ctx, key, time.Minute)

		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	client.Del(ctx, "ratelimit:"+key)
}
