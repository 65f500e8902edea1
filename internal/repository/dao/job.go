package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"gorm.io/gorm"
)

// ReminderJob 批量提醒任务实体。
//
// ActiveOwner 在任务未终结时等于 OwnerId，终结后置为 NULL，
// 借助唯一索引保证同一 owner 同时只有一个未终结的任务。
type ReminderJob struct {
	Id           string         `gorm:"primaryKey;type:varchar(36)"`
	OwnerId      string         `gorm:"type:varchar(64);index:idx_owner_created,priority:1"`
	ActiveOwner  sql.NullString `gorm:"type:varchar(64);uniqueIndex:uk_active_owner"`
	Status       string         `gorm:"type:varchar(16);index:idx_status"`
	Items        string         `gorm:"type:longtext"`
	ItemCount    int
	Cursor       int `gorm:"column:item_cursor"`
	SuccessCount int
	ErrorCount   int
	IntervalMs   int64
	LastError    string `gorm:"type:text"`
	CreatedAt    int64  `gorm:"autoCreateTime:milli;index:idx_owner_created,priority:2"`
	UpdatedAt    int64  `gorm:"autoUpdateTime:milli"`
}

func (ReminderJob) TableName() string {
	return "reminder_job"
}

type JobDAO interface {
	Insert(ctx context.Context, job ReminderJob) error
	GetById(ctx context.Context, id string) (ReminderJob, error)
	ListByOwner(ctx context.Context, ownerId string, limit int) ([]ReminderJob, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]ReminderJob, error)

	// UpdateProgress 以游标做 CAS 更新进度，游标已被其他写入方推进时返回 errs.ErrCursorMoved。
	// 进度写满且任务仍处于 processing 时同时转为 completed。
	UpdateProgress(ctx context.Context, p domain.Progress) error
	// Transition 仅当当前状态在 from 中时才转为 to，返回是否发生变更
	Transition(ctx context.Context, id string, from []string, to string, lastError string) (bool, error)
}

var _ JobDAO = (*DefaultJobDAO)(nil)

type DefaultJobDAO struct {
	db *gorm.DB
}

func (d *DefaultJobDAO) Insert(ctx context.Context, job ReminderJob) error {
	now := time.Now().UnixMilli()
	job.CreatedAt = now
	job.UpdatedAt = now

	err := d.db.WithContext(ctx).Create(&job).Error
	if IsUniqueConflict(err) {
		return fmt.Errorf("%w: owner %s", errs.ErrJobConflict, job.OwnerId)
	}
	return err
}

func (d *DefaultJobDAO) GetById(ctx context.Context, id string) (ReminderJob, error) {
	var job ReminderJob
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ReminderJob{}, fmt.Errorf("%w: %s", errs.ErrJobNotFound, id)
		}
		return ReminderJob{}, err
	}
	return job, nil
}

func (d *DefaultJobDAO) ListByOwner(ctx context.Context, ownerId string, limit int) ([]ReminderJob, error) {
	var jobs []ReminderJob
	err := d.db.WithContext(ctx).
		Where("owner_id = ?", ownerId).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (d *DefaultJobDAO) ListByStatus(ctx context.Context, status string, limit int) ([]ReminderJob, error) {
	var jobs []ReminderJob
	err := d.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (d *DefaultJobDAO) UpdateProgress(ctx context.Context, p domain.Progress) error {
	now := time.Now().UnixMilli()

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ReminderJob{}).
			Where("id = ? AND item_cursor = ? AND status IN ?", p.JobId, p.PrevCursor, []string{
				domain.JobStatusProcessing.String(),
				domain.JobStatusPaused.String(),
			}).
			Updates(map[string]any{
				"item_cursor":   p.Cursor,
				"success_count": p.SuccessCount,
				"error_count":   p.ErrorCount,
				"last_error":    p.LastError,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: job %s at cursor %d", errs.ErrCursorMoved, p.JobId, p.PrevCursor)
		}

		if !p.Completed {
			return nil
		}
		// paused 的任务保持暂停，恢复后由引擎完成
		return tx.Model(&ReminderJob{}).
			Where("id = ? AND status = ?", p.JobId, domain.JobStatusProcessing.String()).
			Updates(map[string]any{
				"status":       domain.JobStatusCompleted.String(),
				"active_owner": gorm.Expr("NULL"),
				"updated_at":   now,
			}).Error
	})
}

func (d *DefaultJobDAO) Transition(ctx context.Context, id string, from []string, to string, lastError string) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": time.Now().UnixMilli(),
	}
	if domain.JobStatus(to).IsTerminal() {
		values["active_owner"] = gorm.Expr("NULL")
	}
	if lastError != "" {
		values["last_error"] = lastError
	}

	res := d.db.WithContext(ctx).Model(&ReminderJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func NewDefaultJobDAO(db *gorm.DB) *DefaultJobDAO {
	return &DefaultJobDAO{
		db: db,
	}
}
