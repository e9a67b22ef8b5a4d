package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceCache remembers (consumer, nonce) pairs for the replay window.
// Remember returns true when the nonce is fresh and has now been
// recorded, false when it was already seen.
type NonceCache interface {
	Remember(ctx context.Context, consumerKey, nonce string, ts int64) (bool, error)
}

// RedisNonceCache backs NonceCache with redis SETNX plus a TTL, so a
// nonce cannot be replayed within the acceptance window across all
// instances of the service. A nil client disables replay protection
// rather than failing requests, matching how the rate limiter degrades
// when redis is unavailable.
type RedisNonceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisNonceCache builds a nonce cache. ttl bounds both the redis
// key lifetime and the timestamp window the engine enforces.
func NewRedisNonceCache(rdb *redis.Client, ttl time.Duration) *RedisNonceCache {
	return &RedisNonceCache{rdb: rdb, ttl: ttl}
}

func (c *RedisNonceCache) Remember(ctx context.Context, consumerKey, nonce string, ts int64) (bool, error) {
	if c == nil || c.rdb == nil {
		return true, nil
	}
	key := fmt.Sprintf("nonce:%s:%d:%s", consumerKey, ts, nonce)
	ok, err := c.rdb.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		// A redis outage disables replay protection instead of failing
		// every signed call.
		return true, nil
	}
	return ok, nil
}
