package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/repository/dao"
)

type JobRepo interface {
	// Create 同一 owner 已有未终结任务时返回 errs.ErrJobConflict
	Create(ctx context.Context, job domain.Job) error
	FindById(ctx context.Context, id string) (domain.Job, error)
	ListByOwner(ctx context.Context, ownerId string, limit int) ([]domain.Job, error)
	ListProcessing(ctx context.Context, limit int) ([]domain.Job, error)

	SaveProgress(ctx context.Context, p domain.Progress) error
	Transition(ctx context.Context, id string, from []domain.JobStatus, to domain.JobStatus, lastError string) (bool, error)
}

var _ JobRepo = (*DefaultJobRepo)(nil)

type DefaultJobRepo struct {
	dao dao.JobDAO
}

func (r *DefaultJobRepo) Create(ctx context.Context, job domain.Job) error {
	entity, err := r.toEntity(job)
	if err != nil {
		return err
	}
	return r.dao.Insert(ctx, entity)
}

func (r *DefaultJobRepo) FindById(ctx context.Context, id string) (domain.Job, error) {
	entity, err := r.dao.GetById(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	return r.toDomain(entity)
}

func (r *DefaultJobRepo) ListByOwner(ctx context.Context, ownerId string, limit int) ([]domain.Job, error) {
	entities, err := r.dao.ListByOwner(ctx, ownerId, limit)
	if err != nil {
		return nil, err
	}
	return r.toDomains(entities)
}

func (r *DefaultJobRepo) ListProcessing(ctx context.Context, limit int) ([]domain.Job, error) {
	entities, err := r.dao.ListByStatus(ctx, domain.JobStatusProcessing.String(), limit)
	if err != nil {
		return nil, err
	}
	return r.toDomains(entities)
}

func (r *DefaultJobRepo) SaveProgress(ctx context.Context, p domain.Progress) error {
	return r.dao.UpdateProgress(ctx, p)
}

func (r *DefaultJobRepo) Transition(
	ctx context.Context, id string, from []domain.JobStatus, to domain.JobStatus, lastError string,
) (bool, error) {
	fromStatus := make([]string, 0, len(from))
	for _, s := range from {
		fromStatus = append(fromStatus, s.String())
	}
	return r.dao.Transition(ctx, id, fromStatus, to.String(), lastError)
}

func (r *DefaultJobRepo) toDomains(entities []dao.ReminderJob) ([]domain.Job, error) {
	res := make([]domain.Job, 0, len(entities))
	for _, entity := range entities {
		job, err := r.toDomain(entity)
		if err != nil {
			return nil, err
		}
		res = append(res, job)
	}
	return res, nil
}

func (r *DefaultJobRepo) toDomain(entity dao.ReminderJob) (domain.Job, error) {
	var items []domain.JobItem
	if err := json.Unmarshal([]byte(entity.Items), &items); err != nil {
		return domain.Job{}, fmt.Errorf("[jremind] unmarshal items of job %s error: %w", entity.Id, err)
	}

	return domain.Job{
		Id:           entity.Id,
		OwnerId:      entity.OwnerId,
		Status:       domain.JobStatus(entity.Status),
		Items:        items,
		Cursor:       entity.Cursor,
		SuccessCount: entity.SuccessCount,
		ErrorCount:   entity.ErrorCount,
		Interval:     time.Duration(entity.IntervalMs) * time.Millisecond,
		LastError:    entity.LastError,
		CreatedAt:    entity.CreatedAt,
		UpdatedAt:    entity.UpdatedAt,
	}, nil
}

func (r *DefaultJobRepo) toEntity(job domain.Job) (dao.ReminderJob, error) {
	items, err := json.Marshal(job.Items)
	if err != nil {
		return dao.ReminderJob{}, fmt.Errorf("[jremind] marshal items of job %s error: %w", job.Id, err)
	}

	entity := dao.ReminderJob{
		Id:           job.Id,
		OwnerId:      job.OwnerId,
		Status:       job.Status.String(),
		Items:        string(items),
		ItemCount:    len(job.Items),
		Cursor:       job.Cursor,
		SuccessCount: job.SuccessCount,
		ErrorCount:   job.ErrorCount,
		IntervalMs:   job.Interval.Milliseconds(),
		LastError:    job.LastError,
	}
	if !job.Status.IsTerminal() {
		entity.ActiveOwner = sql.NullString{String: job.OwnerId, Valid: true}
	}
	return entity, nil
}

func NewDefaultJobRepo(dao dao.JobDAO) *DefaultJobRepo {
	return &DefaultJobRepo{
		dao: dao,
	}
}
