package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CircuitState 熔断器状态实体，每个熔断器一行
type CircuitState struct {
	Name             string `gorm:"primaryKey;type:varchar(64)"`
	Status           string `gorm:"type:varchar(16)"`
	FailureCount     int
	SuccessCount     int
	FailureThreshold int
	SuccessThreshold int
	LastFailureAt    int64
	LastError        string `gorm:"type:text"`
	UpdatedAt        int64  `gorm:"autoUpdateTime:milli"`
}

func (CircuitState) TableName() string {
	return "circuit_state"
}

type CircuitDAO interface {
	// Get 不存在时返回 false
	Get(ctx context.Context, name string) (CircuitState, bool, error)
	Save(ctx context.Context, state CircuitState) error
}

var _ CircuitDAO = (*DefaultCircuitDAO)(nil)

type DefaultCircuitDAO struct {
	db *gorm.DB
}

func (d *DefaultCircuitDAO) Get(ctx context.Context, name string) (CircuitState, bool, error) {
	var state CircuitState
	err := d.db.WithContext(ctx).Where("name = ?", name).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CircuitState{}, false, nil
		}
		return CircuitState{}, false, err
	}
	return state, true, nil
}

func (d *DefaultCircuitDAO) Save(ctx context.Context, state CircuitState) error {
	state.UpdatedAt = time.Now().UnixMilli()
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&state).Error
}

func NewDefaultCircuitDAO(db *gorm.DB) *DefaultCircuitDAO {
	return &DefaultCircuitDAO{
		db: db,
	}
}
