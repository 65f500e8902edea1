package dao

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsUniqueConflict 判断是否唯一索引冲突。
//
// 开启 TranslateError 时 gorm 会转换为 gorm.ErrDuplicatedKey，
// 未开启时按 mysql / sqlite 的错误信息兜底判断。
func IsUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

// InitTables 自动建表
func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&ReminderJob{},
		&CircuitState{},
		&QueuedMessage{},
		&IdempotencyRecord{},
	)
}
