package cache

import (
	"context"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
)

const (
	LedgerPrefix   = "ledger"
	DefaultExpires = 24 * time.Hour
)

// LedgerCache 幂等账本缓存，只缓存“已记录”，未命中不代表不存在
type LedgerCache interface {
	Exists(ctx context.Context, key domain.IdempotencyKey) (bool, error)
	Record(ctx context.Context, key domain.IdempotencyKey) error
}

func LedgerCacheKey(key domain.IdempotencyKey) string {
	return LedgerPrefix + ":" + key.String()
}
