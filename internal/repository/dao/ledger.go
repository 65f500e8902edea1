package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord 幂等账本记录，只在确认投递成功后写入，不删除
type IdempotencyRecord struct {
	Id               uint64 `gorm:"primaryKey;autoIncrement"`
	OwnerId          string `gorm:"type:varchar(64);uniqueIndex:uk_idempotency,priority:1"`
	RecipientId      string `gorm:"type:varchar(128);uniqueIndex:uk_idempotency,priority:2"`
	NotificationType string `gorm:"type:varchar(64);uniqueIndex:uk_idempotency,priority:3"`
	CycleKey         string `gorm:"type:varchar(128);uniqueIndex:uk_idempotency,priority:4"`
	CreatedAt        int64  `gorm:"autoCreateTime:milli"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_record"
}

type LedgerDAO interface {
	Exists(ctx context.Context, record IdempotencyRecord) (bool, error)
	// Insert 记录已存在时视为成功
	Insert(ctx context.Context, record IdempotencyRecord) error
}

var _ LedgerDAO = (*DefaultLedgerDAO)(nil)

type DefaultLedgerDAO struct {
	db *gorm.DB
}

func (d *DefaultLedgerDAO) Exists(ctx context.Context, record IdempotencyRecord) (bool, error) {
	var cnt int64
	err := d.db.WithContext(ctx).Model(&IdempotencyRecord{}).
		Where(
			"owner_id = ? AND recipient_id = ? AND notification_type = ? AND cycle_key = ?",
			record.OwnerId, record.RecipientId, record.NotificationType, record.CycleKey,
		).
		Limit(1).
		Count(&cnt).Error
	if err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (d *DefaultLedgerDAO) Insert(ctx context.Context, record IdempotencyRecord) error {
	record.Id = 0
	record.CreatedAt = time.Now().UnixMilli()

	err := d.db.WithContext(ctx).Create(&record).Error
	if IsUniqueConflict(err) {
		return nil
	}
	return err
}

func NewDefaultLedgerDAO(db *gorm.DB) *DefaultLedgerDAO {
	return &DefaultLedgerDAO{
		db: db,
	}
}
