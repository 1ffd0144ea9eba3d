package tokencache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "carrier_token:"

// Redis is the shared storage backend for multi-instance deployments.
type Redis struct {
	rdb *redis.Client
}

// NewRedis builds a redis-backed storage backend.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.rdb.Get(ctx, redisPrefix+key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	r.rdb.Set(ctx, redisPrefix+key, value, ttl)
}
