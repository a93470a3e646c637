package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis counts requests in fixed windows shared by every replica.
type Redis struct {
	rdb    redis.Cmdable
	rule   Rule
	prefix string
	now    func() time.Time
}

// NewRedis builds a limiter that stores counters under prefix.
func NewRedis(rdb redis.Cmdable, prefix string, rule Rule) *Redis {
	return &Redis{rdb: rdb, rule: rule, prefix: prefix, now: time.Now}
}

// WithClock overrides the time source.
func (l *Redis) WithClock(fn func() time.Time) *Redis {
	l.now = fn
	return l
}

func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	if l.rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	if key == "" {
		key = "unknown"
	}
	now := l.now()
	window := windowSize(l.rule.Window)
	slot := now.Unix() / int64(window/time.Second)
	counter := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, counter)
		pipe.Expire(ctx, counter, window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}
	if incr.Val() > int64(l.rule.Limit) {
		return Decision{RetryAfter: slotEnd(slot, window).Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}
