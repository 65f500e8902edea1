package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/metrics"
	"github.com/JrMarcco/jremind/internal/repository/cache/local"
	"github.com/JrMarcco/jremind/internal/repository/dao"
	"github.com/glebarez/sqlite"
	gcache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, dao.InitTables(db))
	return db
}

// brokenCache 模拟 redis 不可用
type brokenCache struct {
	records int
}

func (b *brokenCache) Exists(context.Context, domain.IdempotencyKey) (bool, error) {
	return false, errors.New("connection refused")
}

func (b *brokenCache) Record(context.Context, domain.IdempotencyKey) error {
	b.records++
	return errors.New("connection refused")
}

func TestDefaultLedgerRepo(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	db := newTestDB(t)
	ledgerDAO := dao.NewDefaultLedgerDAO(db)
	localCache := local.NewLedgerLocalCache(gcache.New(time.Minute, time.Minute))
	redisCache := &brokenCache{}

	repo := NewDefaultLedgerRepo(ledgerDAO, localCache, redisCache, metrics.NewMetrics(nil), zap.NewNop())

	key := domain.IdempotencyKey{OwnerId: "o", RecipientId: "r", NotificationType: "billing", CycleKey: "2026-10"}

	// redis 不可用时回落到数据库
	exists, err := repo.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Record(ctx, key))
	assert.Equal(t, 1, redisCache.records)

	exists, err = localCache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	// 本地缓存丢失后仍能从数据库得到结果
	freshLocal := local.NewLedgerLocalCache(gcache.New(time.Minute, time.Minute))
	repo = NewDefaultLedgerRepo(ledgerDAO, freshLocal, redisCache, metrics.NewMetrics(nil), zap.NewNop())
	exists, err = repo.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = freshLocal.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDefaultJobRepo(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	repo := NewDefaultJobRepo(dao.NewDefaultJobDAO(newTestDB(t)))

	job := domain.Job{
		Id:       "job-1",
		OwnerId:  "owner-1",
		Status:   domain.JobStatusProcessing,
		Interval: 1500 * time.Millisecond,
		Items: []domain.JobItem{
			{RecipientId: "r1", Address: "5511987654321", Body: "hi", NotificationType: "billing", CycleKey: "2026-10"},
			{RecipientId: "r2", Address: "5511987654322", Body: "hi", NotificationType: "billing", CycleKey: "2026-10"},
		},
	}
	require.NoError(t, repo.Create(ctx, job))

	dup := job
	dup.Id = "job-2"
	assert.ErrorIs(t, repo.Create(ctx, dup), errs.ErrJobConflict)

	got, err := repo.FindById(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.Items, got.Items)
	assert.Equal(t, job.Interval, got.Interval)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	got.Advance(true, "")
	require.NoError(t, repo.SaveProgress(ctx, got.Progress(0)))

	got.Advance(false, "rejected")
	require.NoError(t, repo.SaveProgress(ctx, got.Progress(1)))

	got, err = repo.FindById(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Cursor)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, "rejected", got.LastError)

	jobs, err := repo.ListProcessing(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDefaultCircuitRepo_Queue(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	db := newTestDB(t)
	repo := NewDefaultCircuitRepo(dao.NewDefaultCircuitDAO(db), dao.NewDefaultQueueDAO(db))

	key := &domain.IdempotencyKey{OwnerId: "o", RecipientId: "r", NotificationType: "billing", CycleKey: "2026-10"}
	ok, err := repo.Enqueue(ctx, domain.QueuedMessage{Id: "m1", Recipient: "5511987654321", Payload: "hi", Key: key, EnqueuedAt: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Enqueue(ctx, domain.QueuedMessage{Id: "m2", Recipient: "5511987654321", Payload: "hi", Key: key, EnqueuedAt: 2})
	require.NoError(t, err)
	assert.False(t, ok)

	msgs, err := repo.Oldest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Key)
	assert.Equal(t, *key, *msgs[0].Key)

	state := domain.CircuitState{Name: "gateway", Status: domain.CircuitOpen, FailureCount: 5, FailureThreshold: 5, SuccessThreshold: 2}
	require.NoError(t, repo.SaveState(ctx, state))

	got, found, err := repo.LoadState(ctx, "gateway")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.CircuitOpen, got.Status)
	assert.Equal(t, 5, got.FailureCount)
}
