package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper is the fast path in front of the durable processed_events record.
// Claim reports false when key was already claimed.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// NopDeduper claims everything; the durable record alone decides.
type NopDeduper struct{}

func (NopDeduper) Claim(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NopDeduper) Release(context.Context, string) error                      { return nil }

// RedisDeduper claims keys with SET NX.
type RedisDeduper struct {
	rdb *redis.Client
}

// NewRedisDeduper returns NopDeduper when rdb is nil.
func NewRedisDeduper(rdb *redis.Client) Deduper {
	if rdb == nil {
		return NopDeduper{}
	}
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.rdb.SetNX(ctx, key, 1, ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, key).Err()
}
