package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter as a sliding window over a Redis sorted set
// per rule and key. A nil client allows everything.
type RedisLimiter struct {
	client *redis.Client
	logger *slog.Logger
	seq    atomic.Uint64
}

// NewRedisLimiter creates a RedisLimiter. The caller owns client.
func NewRedisLimiter(client *redis.Client, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{client: client, logger: logger}
}

// Allow records the request in the window of rule and key. Requests over the
// limit are removed again so they do not count against later ones.
func (l *RedisLimiter) Allow(ctx context.Context, rule Rule, key string) Result {
	if l.client == nil || !rule.Enabled() {
		return allowAll(rule)
	}

	now := time.Now()
	windowStart := now.Add(-rule.Window)
	redisKey := "recorridos:ratelimit:" + rule.Prefix + ":" + key
	member := strconv.FormatInt(now.UnixMicro(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("(%d", windowStart.UnixMicro()))
		p.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
		count = p.ZCard(ctx, redisKey)
		oldest = p.ZRangeWithScores(ctx, redisKey, 0, 0)
		p.PExpire(ctx, redisKey, rule.Window)
		return nil
	})
	if err != nil {
		l.logger.Warn("ratelimit: redis unavailable, allowing request", "key", redisKey, "error", err)
		return allowAll(rule)
	}

	resetAt := now.Add(rule.Window)
	if z := oldest.Val(); len(z) > 0 {
		resetAt = time.UnixMicro(int64(z[0].Score)).Add(rule.Window)
	}

	n := int(count.Val())
	if n > rule.Limit {
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			l.logger.Warn("ratelimit: remove rejected request", "key", redisKey, "error", err)
		}
		return Result{Allowed: false, Limit: rule.Limit, Remaining: 0, ResetAt: resetAt}
	}
	return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - n, ResetAt: resetAt}
}

// Close is a no-op; the client belongs to the caller.
func (l *RedisLimiter) Close() error { return nil }
