package redis

import (
	"context"
	"fmt"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/pkg/idempotent"
	"github.com/JrMarcco/jremind/internal/repository/cache"
)

var _ cache.LedgerCache = (*LedgerRedisCache)(nil)

type LedgerRedisCache struct {
	strategy idempotent.Strategy
}

func (r *LedgerRedisCache) Exists(ctx context.Context, key domain.IdempotencyKey) (bool, error) {
	ok, err := r.strategy.Exists(ctx, cache.LedgerCacheKey(key))
	if err != nil {
		return false, fmt.Errorf("[jremind] check ledger key in redis error: %w", err)
	}
	return ok, nil
}

func (r *LedgerRedisCache) Record(ctx context.Context, key domain.IdempotencyKey) error {
	if err := r.strategy.Record(ctx, cache.LedgerCacheKey(key)); err != nil {
		return fmt.Errorf("[jremind] set ledger key to redis error: %w", err)
	}
	return nil
}

func NewLedgerRedisCache(strategy idempotent.Strategy) *LedgerRedisCache {
	return &LedgerRedisCache{
		strategy: strategy,
	}
}
