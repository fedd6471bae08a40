package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/alertflow/internal/domain"
)

// redisRateLimitRepository keeps one sorted set per (client, endpoint).
// Members are unique ids scored by the request timestamp in seconds.
type redisRateLimitRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRateLimitRepository returns a RateLimitRepository backed by Redis.
// Keys expire ttl after their last write; ttl should be at least the window.
func NewRedisRateLimitRepository(client *redis.Client, ttl time.Duration) RateLimitRepository {
	return &redisRateLimitRepository{client: client, ttl: ttl}
}

func rateLimitKey(clientID, endpoint string) string {
	return "rl:" + clientID + ":" + endpoint
}

func (r *redisRateLimitRepository) CountSince(ctx context.Context, clientID, endpoint string, since int64) (int, int64, error) {
	key := rateLimitKey(clientID, endpoint)
	lo := strconv.FormatInt(since, 10)

	pipe := r.client.Pipeline()
	countCmd := pipe.ZCount(ctx, key, lo, "+inf")
	oldestCmd := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   lo,
		Max:   "+inf",
		Count: 1,
	})
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("count rate limit requests: %w", err)
	}

	var oldest int64
	if zs := oldestCmd.Val(); len(zs) > 0 {
		oldest = int64(zs[0].Score)
	}
	return int(countCmd.Val()), oldest, nil
}

func (r *redisRateLimitRepository) Record(ctx context.Context, req domain.RateLimitRequest) error {
	key := rateLimitKey(req.ClientID, req.Endpoint)

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(req.Timestamp), Member: uuid.NewString()})
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit request: %w", err)
	}
	return nil
}

// Prune walks every rate-limit key with SCAN.
func (r *redisRateLimitRepository) Prune(ctx context.Context, before int64) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	hi := "(" + strconv.FormatInt(before, 10)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "rl:*", 200).Result()
		if err != nil {
			return removed, fmt.Errorf("scan rate limit keys: %w", err)
		}
		for _, key := range keys {
			n, err := r.client.ZRemRangeByScore(ctx, key, "-inf", hi).Result()
			if err != nil {
				return removed, fmt.Errorf("prune %s: %w", key, err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
