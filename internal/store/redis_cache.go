package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix  = "link:"
	tombstoneSuffix = ":gone"

	defaultTombstoneTTL = time.Minute
)

var errTombstoned = errors.New("token was deleted")

// RedisCacheRepository puts a read-through Redis cache in front of Resolve.
// Deletes and purges evict the affected tokens and leave a tombstone that
// stops a concurrent Resolve from caching the old mapping again. Cache
// failures are logged and fall through to the wrapped repository.
type RedisCacheRepository struct {
	shortener.Repository

	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCacheRepository(
	repo shortener.Repository, client *redis.Client, ttl time.Duration, logger *zap.Logger,
) *RedisCacheRepository {
	return &RedisCacheRepository{
		Repository: repo,
		client:     client,
		ttl:        ttl,
		logger:     logger.Named("cache"),
	}
}

func (r *RedisCacheRepository) Resolve(ctx context.Context, token shortener.Token) (*shortener.Mapping, error) {
	mapping, err := r.fromCache(ctx, token)
	if err == nil {
		return mapping, nil
	}

	if !errors.Is(err, redis.Nil) {
		r.logger.Warn("cache read failed", zap.String("token", string(token)), zap.Error(err))
	}

	mapping, err = r.Repository.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	r.store(ctx, mapping)

	return mapping, nil
}

func (r *RedisCacheRepository) DeleteMapping(ctx context.Context, token shortener.Token) error {
	if err := r.Repository.DeleteMapping(ctx, token); err != nil {
		return err
	}

	r.evict(ctx, token)

	return nil
}

func (r *RedisCacheRepository) PurgeExpired(ctx context.Context, ttl time.Duration) ([]shortener.Token, error) {
	purged, err := r.Repository.PurgeExpired(ctx, ttl)
	if err != nil {
		return nil, err
	}

	r.evict(ctx, purged...)

	return purged, nil
}

func (r *RedisCacheRepository) fromCache(ctx context.Context, token shortener.Token) (*shortener.Mapping, error) {
	fields, err := r.client.HGetAll(ctx, cacheKeyPrefix+string(token)).Result()
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return nil, redis.Nil
	}

	linkID, _ := strconv.ParseUint(fields["link_id"], 10, 64)
	nanos, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return &shortener.Mapping{
		Token:     token,
		LinkID:    linkID,
		LongURL:   fields["long_url"],
		URLHash:   shortener.URLHash(fields["url_hash"]),
		CreatedAt: time.Unix(0, nanos).UTC(),
	}, nil
}

// store caches mapping unless its token carries a tombstone. Watching the
// tombstone aborts the write when an eviction lands between check and exec.
func (r *RedisCacheRepository) store(ctx context.Context, mapping *shortener.Mapping) {
	key := cacheKeyPrefix + string(mapping.Token)
	gone := key + tombstoneSuffix

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, gone).Result()
		if err != nil {
			return err
		}

		if n > 0 {
			return errTombstoned
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"link_id":    strconv.FormatUint(mapping.LinkID, 10),
				"long_url":   mapping.LongURL,
				"url_hash":   string(mapping.URLHash),
				"created_at": strconv.FormatInt(mapping.CreatedAt.UnixNano(), 10),
			})

			if r.ttl > 0 {
				pipe.Expire(ctx, key, r.ttl)
			}

			return nil
		})

		return err
	}, gone)

	switch {
	case err == nil:
	case errors.Is(err, errTombstoned), errors.Is(err, redis.TxFailedErr):
		r.logger.Debug("skipped caching a deleted token", zap.String("token", string(mapping.Token)))
	default:
		r.logger.Warn("cache write failed", zap.String("token", string(mapping.Token)), zap.Error(err))
	}
}

func (r *RedisCacheRepository) tombstoneTTL() time.Duration {
	if r.ttl > 0 {
		return r.ttl
	}

	return defaultTombstoneTTL
}

func (r *RedisCacheRepository) evict(ctx context.Context, tokens ...shortener.Token) {
	if len(tokens) == 0 {
		return
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, token := range tokens {
			key := cacheKeyPrefix + string(token)

			pipe.Set(ctx, key+tombstoneSuffix, 1, r.tombstoneTTL())
			pipe.Del(ctx, key)
		}

		return nil
	})
	if err != nil {
		r.logger.Warn("cache eviction failed", zap.Int("tokens", len(tokens)), zap.Error(err))
	}
}

var _ shortener.Repository = (*RedisCacheRepository)(nil)
