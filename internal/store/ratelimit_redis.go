package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimitRedisStore shares sliding windows between instances using one
// sorted set per key, scored by hit time.
type RateLimitRedisStore struct {
	client *redis.Client
	member func() string
	now    func() time.Time
}

func NewRateLimitRedisStore(client *redis.Client) (*RateLimitRedisStore, error) {
	member, err := nanoid.Standard(21)
	if err != nil {
		return nil, err
	}

	return &RateLimitRedisStore{client: client, member: member, now: time.Now}, nil
}

func (s *RateLimitRedisStore) Record(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()
	redisKey := rateLimitKeyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var card *redis.IntCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: s.member()})
		card = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, window)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return card.Val(), nil
}
