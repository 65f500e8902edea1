package repository

import (
	"context"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/pkg/metrics"
	"github.com/JrMarcco/jremind/internal/repository/cache"
	"github.com/JrMarcco/jremind/internal/repository/dao"
	"go.uber.org/zap"
)

// LedgerRepo 幂等账本。
// 数据库为唯一可信来源，本地缓存与 redis 只缓存已记录的键。
type LedgerRepo interface {
	Exists(ctx context.Context, key domain.IdempotencyKey) (bool, error)
	Record(ctx context.Context, key domain.IdempotencyKey) error
}

var _ LedgerRepo = (*DefaultLedgerRepo)(nil)

type DefaultLedgerRepo struct {
	dao        dao.LedgerDAO
	localCache cache.LedgerCache
	redisCache cache.LedgerCache
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func (r *DefaultLedgerRepo) Exists(ctx context.Context, key domain.IdempotencyKey) (bool, error) {
	// 从本地缓存获取
	if ok, _ := r.localCache.Exists(ctx, key); ok {
		r.metrics.LedgerLookups.WithLabelValues("local").Inc()
		return true, nil
	}

	// 从 redis 获取，redis 出错不影响判断，继续查库
	ok, err := r.redisCache.Exists(ctx, key)
	if err != nil {
		r.logger.Warn("[jremind] failed to check ledger in redis", zap.String("key", key.String()), zap.Error(err))
	}
	if ok {
		r.metrics.LedgerLookups.WithLabelValues("redis").Inc()
		r.refreshLocal(ctx, key)
		return true, nil
	}

	ok, err = r.dao.Exists(ctx, r.toEntity(key))
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.LedgerLookups.WithLabelValues("miss").Inc()
		return false, nil
	}

	r.metrics.LedgerLookups.WithLabelValues("db").Inc()
	r.refreshLocal(ctx, key)
	r.refreshRedis(ctx, key)
	return true, nil
}

func (r *DefaultLedgerRepo) Record(ctx context.Context, key domain.IdempotencyKey) error {
	if err := r.dao.Insert(ctx, r.toEntity(key)); err != nil {
		return err
	}

	r.refreshLocal(ctx, key)
	r.refreshRedis(ctx, key)
	return nil
}

func (r *DefaultLedgerRepo) refreshLocal(ctx context.Context, key domain.IdempotencyKey) {
	if err := r.localCache.Record(ctx, key); err != nil {
		r.logger.Error("[jremind] failed to refresh ledger local cache", zap.String("key", key.String()), zap.Error(err))
	}
}

func (r *DefaultLedgerRepo) refreshRedis(ctx context.Context, key domain.IdempotencyKey) {
	if err := r.redisCache.Record(ctx, key); err != nil {
		r.logger.Error("[jremind] failed to refresh ledger redis cache", zap.String("key", key.String()), zap.Error(err))
	}
}

func (r *DefaultLedgerRepo) toEntity(key domain.IdempotencyKey) dao.IdempotencyRecord {
	return dao.IdempotencyRecord{
		OwnerId:          key.OwnerId,
		RecipientId:      key.RecipientId,
		NotificationType: key.NotificationType,
		CycleKey:         key.CycleKey,
	}
}

func NewDefaultLedgerRepo(
	dao dao.LedgerDAO,
	localCache cache.LedgerCache,
	redisCache cache.LedgerCache,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) *DefaultLedgerRepo {
	return &DefaultLedgerRepo{
		dao:        dao,
		localCache: localCache,
		redisCache: redisCache,
		metrics:    metrics,
		logger:     logger,
	}
}
