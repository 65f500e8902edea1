package dao

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// QueuedMessage 熔断期间被转移的消息。
// 携带幂等键的消息按 IdemKey 去重，同一条任务消息只会入队一次。
type QueuedMessage struct {
	Id               string         `gorm:"primaryKey;type:varchar(36)"`
	Recipient        string         `gorm:"type:varchar(128)"`
	Payload          string         `gorm:"type:text"`
	MessageType      string         `gorm:"type:varchar(64)"`
	IdemKey          sql.NullString `gorm:"type:varchar(512);uniqueIndex:uk_idem_key"`
	OwnerId          string         `gorm:"type:varchar(64)"`
	RecipientId      string         `gorm:"type:varchar(128)"`
	NotificationType string         `gorm:"type:varchar(64)"`
	CycleKey         string         `gorm:"type:varchar(128)"`
	RetryCount       int
	EnqueuedAt       int64 `gorm:"index:idx_enqueued_at"`
}

func (QueuedMessage) TableName() string {
	return "queued_message"
}

type QueueDAO interface {
	// Enqueue 幂等键重复时返回 false
	Enqueue(ctx context.Context, msg QueuedMessage) (bool, error)
	// ListOldest 按入队先后返回
	ListOldest(ctx context.Context, limit int) ([]QueuedMessage, error)
	Delete(ctx context.Context, id string) error
	IncrRetry(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) (int64, error)
}

var _ QueueDAO = (*DefaultQueueDAO)(nil)

type DefaultQueueDAO struct {
	db *gorm.DB
}

func (d *DefaultQueueDAO) Enqueue(ctx context.Context, msg QueuedMessage) (bool, error) {
	err := d.db.WithContext(ctx).Create(&msg).Error
	if err != nil {
		if IsUniqueConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *DefaultQueueDAO) ListOldest(ctx context.Context, limit int) ([]QueuedMessage, error) {
	var msgs []QueuedMessage
	err := d.db.WithContext(ctx).
		Order("enqueued_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (d *DefaultQueueDAO) Delete(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Where("id = ?", id).Delete(&QueuedMessage{}).Error
}

func (d *DefaultQueueDAO) IncrRetry(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Model(&QueuedMessage{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (d *DefaultQueueDAO) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := d.db.WithContext(ctx).Model(&QueuedMessage{}).Count(&cnt).Error
	return cnt, err
}

func (d *DefaultQueueDAO) Clear(ctx context.Context) (int64, error) {
	res := d.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&QueuedMessage{})
	return res.RowsAffected, res.Error
}

func NewDefaultQueueDAO(db *gorm.DB) *DefaultQueueDAO {
	return &DefaultQueueDAO{
		db: db,
	}
}
