package local

import (
	"context"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/repository/cache"
	gcache "github.com/patrickmn/go-cache"
)

var _ cache.LedgerCache = (*LedgerLocalCache)(nil)

type LedgerLocalCache struct {
	c *gcache.Cache
}

func (lc *LedgerLocalCache) Exists(_ context.Context, key domain.IdempotencyKey) (bool, error) {
	_, ok := lc.c.Get(cache.LedgerCacheKey(key))
	return ok, nil
}

func (lc *LedgerLocalCache) Record(_ context.Context, key domain.IdempotencyKey) error {
	lc.c.SetDefault(cache.LedgerCacheKey(key), struct{}{})
	return nil
}

func NewLedgerLocalCache(c *gcache.Cache) *LedgerLocalCache {
	return &LedgerLocalCache{
		c: c,
	}
}
