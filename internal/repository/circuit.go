package repository

import (
	"context"
	"database/sql"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/repository/dao"
)

// CircuitRepo 熔断器状态与转移队列的持久化
type CircuitRepo interface {
	LoadState(ctx context.Context, name string) (domain.CircuitState, bool, error)
	SaveState(ctx context.Context, state domain.CircuitState) error

	// Enqueue 带幂等键的消息重复入队时返回 false
	Enqueue(ctx context.Context, msg domain.QueuedMessage) (bool, error)
	Oldest(ctx context.Context, limit int) ([]domain.QueuedMessage, error)
	Remove(ctx context.Context, id string) error
	MarkRetried(ctx context.Context, id string) error
	QueueLength(ctx context.Context) (int64, error)
	ClearQueue(ctx context.Context) (int64, error)
}

var _ CircuitRepo = (*DefaultCircuitRepo)(nil)

type DefaultCircuitRepo struct {
	stateDAO dao.CircuitDAO
	queueDAO dao.QueueDAO
}

func (r *DefaultCircuitRepo) LoadState(ctx context.Context, name string) (domain.CircuitState, bool, error) {
	entity, found, err := r.stateDAO.Get(ctx, name)
	if err != nil || !found {
		return domain.CircuitState{}, found, err
	}
	return domain.CircuitState{
		Name:             entity.Name,
		Status:           domain.CircuitStatus(entity.Status),
		FailureCount:     entity.FailureCount,
		SuccessCount:     entity.SuccessCount,
		FailureThreshold: entity.FailureThreshold,
		SuccessThreshold: entity.SuccessThreshold,
		LastFailureAt:    entity.LastFailureAt,
		LastError:        entity.LastError,
		UpdatedAt:        entity.UpdatedAt,
	}, true, nil
}

func (r *DefaultCircuitRepo) SaveState(ctx context.Context, state domain.CircuitState) error {
	return r.stateDAO.Save(ctx, dao.CircuitState{
		Name:             state.Name,
		Status:           state.Status.String(),
		FailureCount:     state.FailureCount,
		SuccessCount:     state.SuccessCount,
		FailureThreshold: state.FailureThreshold,
		SuccessThreshold: state.SuccessThreshold,
		LastFailureAt:    state.LastFailureAt,
		LastError:        state.LastError,
	})
}

func (r *DefaultCircuitRepo) Enqueue(ctx context.Context, msg domain.QueuedMessage) (bool, error) {
	entity := dao.QueuedMessage{
		Id:          msg.Id,
		Recipient:   msg.Recipient,
		Payload:     msg.Payload,
		MessageType: msg.MessageType,
		RetryCount:  msg.RetryCount,
		EnqueuedAt:  msg.EnqueuedAt,
	}
	if msg.Key != nil {
		entity.IdemKey = sql.NullString{String: msg.Key.String(), Valid: true}
		entity.OwnerId = msg.Key.OwnerId
		entity.RecipientId = msg.Key.RecipientId
		entity.NotificationType = msg.Key.NotificationType
		entity.CycleKey = msg.Key.CycleKey
	}
	return r.queueDAO.Enqueue(ctx, entity)
}

func (r *DefaultCircuitRepo) Oldest(ctx context.Context, limit int) ([]domain.QueuedMessage, error) {
	entities, err := r.queueDAO.ListOldest(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := make([]domain.QueuedMessage, 0, len(entities))
	for _, entity := range entities {
		msg := domain.QueuedMessage{
			Id:          entity.Id,
			Recipient:   entity.Recipient,
			Payload:     entity.Payload,
			MessageType: entity.MessageType,
			RetryCount:  entity.RetryCount,
			EnqueuedAt:  entity.EnqueuedAt,
		}
		if entity.IdemKey.Valid {
			msg.Key = &domain.IdempotencyKey{
				OwnerId:          entity.OwnerId,
				RecipientId:      entity.RecipientId,
				NotificationType: entity.NotificationType,
				CycleKey:         entity.CycleKey,
			}
		}
		res = append(res, msg)
	}
	return res, nil
}

func (r *DefaultCircuitRepo) Remove(ctx context.Context, id string) error {
	return r.queueDAO.Delete(ctx, id)
}

func (r *DefaultCircuitRepo) MarkRetried(ctx context.Context, id string) error {
	return r.queueDAO.IncrRetry(ctx, id)
}

func (r *DefaultCircuitRepo) QueueLength(ctx context.Context) (int64, error) {
	return r.queueDAO.Count(ctx)
}

func (r *DefaultCircuitRepo) ClearQueue(ctx context.Context) (int64, error) {
	return r.queueDAO.Clear(ctx)
}

func NewDefaultCircuitRepo(stateDAO dao.CircuitDAO, queueDAO dao.QueueDAO) *DefaultCircuitRepo {
	return &DefaultCircuitRepo{
		stateDAO: stateDAO,
		queueDAO: queueDAO,
	}
}
