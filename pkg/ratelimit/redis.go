package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
)

// RedisLimiter implements Limiter on a shared Redis instance so budgets hold
// across engine replicas. The window is keyed INCR + EXPIRE: the first hit
// in a window sets the TTL, later hits ride it out.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter wraps an existing client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

var _ Limiter = (*RedisLimiter)(nil)

func (l *RedisLimiter) Allow(ctx context.Context, action, userID string, budget int, window time.Duration) (Result, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", action, userID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: rate limit incr: %v", apperrors.ErrDependency, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: rate limit expire: %v", apperrors.ErrDependency, err)
		}
	}

	if count > int64(budget) {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}

	return Result{Allowed: true, Remaining: budget - int(count)}, nil
}
