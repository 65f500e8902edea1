package idempotent

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

var _ Strategy = (*RedisStrategy)(nil)

// RedisStrategy 幂等策略的 redis 实现。
// 业务 key 经 xxhash 压缩为定长的 redis key。
type RedisStrategy struct {
	client  redis.Cmdable
	expires time.Duration
}

func (r *RedisStrategy) Exists(ctx context.Context, key string) (bool, error) {
	res, err := r.client.Exists(ctx, r.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

func (r *RedisStrategy) Record(ctx context.Context, key string) error {
	return r.client.Set(ctx, r.redisKey(key), 1, r.expires).Err()
}

func (r *RedisStrategy) redisKey(bizKey string) string {
	return "idempotent:" + strconv.FormatUint(xxhash.Sum64String(bizKey), 16)
}

func NewRedisStrategy(client redis.Cmdable, expires time.Duration) *RedisStrategy {
	return &RedisStrategy{
		client:  client,
		expires: expires,
	}
}
