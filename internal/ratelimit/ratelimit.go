// Package ratelimit throttles join attempts per person, independent of
// ledger capacity. A throttled attempt is answered before any admission
// logic runs, so it never touches the ledger.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window burst limiter backed by Redis, so the limit
// holds across instances sharing the same Redis.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// New constructs a Limiter allowing at most limit attempts per key per
// window.
func New(rdb *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// Allow reports whether the keyed caller may proceed. On Redis failure it
// fails open with a logged warning: admission control keeps working when
// the throttle store is down.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("ratelimit:join:%s", key)

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		log.Printf("WARN: rate limiter unavailable, allowing %s: %v", key, err)
		return true
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			log.Printf("WARN: rate limiter expire for %s: %v", key, err)
		}
	}
	return count <= int64(l.limit)
}
