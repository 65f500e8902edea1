package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/lock"
	"github.com/JrMarcco/jremind/internal/pkg/metrics"
	"github.com/JrMarcco/jremind/internal/pkg/phone"
	"github.com/JrMarcco/jremind/internal/pkg/retry"
	"github.com/JrMarcco/jremind/internal/pkg/ringbuffer"
	"github.com/JrMarcco/jremind/internal/repository"
	"github.com/JrMarcco/jremind/internal/service/breaker"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var _ Engine = (*DefaultEngine)(nil)

type DefaultEngine struct {
	cfg Config

	repo    repository.JobRepo
	ledger  repository.LedgerRepo
	breaker breaker.Breaker
	locker  lock.Locker

	// mu 保护 running / rerun
	mu      sync.Mutex
	running map[string]struct{}
	// rerun 循环退出前收到了新的启动请求
	rerun map[string]struct{}

	// statusGroup 合并同一任务的并发状态查询
	statusGroup singleflight.Group
	events      *ringbuffer.RingBuffer[domain.JobEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *metrics.Metrics
	logger  *zap.Logger
}

func (e *DefaultEngine) Create(ctx context.Context, req CreateReq) (CreateResult, error) {
	if len(req.Items) > e.cfg.MaxItems {
		return CreateResult{}, fmt.Errorf("%w: too many items, got %d, max %d", errs.ErrInvalidParam, len(req.Items), e.cfg.MaxItems)
	}

	interval := e.cfg.DefaultInterval
	if req.Interval != nil {
		interval = *req.Interval
	}

	job := domain.Job{
		Id:       uuid.NewString(),
		OwnerId:  req.OwnerId,
		Status:   domain.JobStatusPending,
		Items:    make([]domain.JobItem, 0, len(req.Items)),
		Interval: interval,
	}

	var corrections []ItemCorrection
	for idx, item := range req.Items {
		if item.NotificationType == "" {
			item.NotificationType = req.NotificationType
		}
		if item.CycleKey == "" {
			item.CycleKey = req.CycleKey
		}

		normalized, err := phone.Normalize(item.Address)
		if err != nil {
			return CreateResult{}, fmt.Errorf("%w: item[%d]: %w", errs.ErrInvalidParam, idx, err)
		}
		if normalized.Corrected() {
			corrections = append(corrections, ItemCorrection{
				Index:       idx,
				Raw:         normalized.Raw,
				Canonical:   normalized.Canonical,
				Corrections: normalized.Corrections,
			})
		}
		item.Address = normalized.Canonical
		job.Items = append(job.Items, item)
	}

	if err := job.Validate(); err != nil {
		return CreateResult{}, err
	}

	if err := e.repo.Create(ctx, job); err != nil {
		return CreateResult{}, err
	}

	if _, err := e.repo.Transition(ctx, job.Id, []domain.JobStatus{domain.JobStatusPending}, domain.JobStatusProcessing, ""); err != nil {
		return CreateResult{}, err
	}
	job.Status = domain.JobStatusProcessing
	e.metrics.JobTransitions.WithLabelValues(domain.JobStatusProcessing.String()).Inc()

	e.logger.Info(
		"[jremind] job created",
		zap.String("job_id", job.Id),
		zap.String("owner_id", job.OwnerId),
		zap.Int("items", len(job.Items)),
		zap.Duration("interval", job.Interval),
		zap.Int("corrections", len(corrections)),
	)

	e.start(job.Id)
	return CreateResult{Job: job, Corrections: corrections}, nil
}

func (e *DefaultEngine) Pause(ctx context.Context, id string) (domain.Job, error) {
	return e.mutate(ctx, id, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusProcessing,
	}, domain.JobStatusPaused)
}

func (e *DefaultEngine) Resume(ctx context.Context, id string) (domain.Job, error) {
	job, err := e.mutate(ctx, id, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusPaused,
	}, domain.JobStatusProcessing)
	if err != nil {
		return domain.Job{}, err
	}

	// 已经是 processing 时同样尝试启动，用于恢复重启后没有循环的任务
	e.start(id)
	return job, nil
}

func (e *DefaultEngine) Cancel(ctx context.Context, id string) (domain.Job, error) {
	return e.mutate(ctx, id, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusProcessing,
		domain.JobStatusPaused,
	}, domain.JobStatusCancelled)
}

// mutate 条件状态变更。
// 已处于目标状态时视为成功；任务已终结（取消已取消的任务除外）返回 errs.ErrJobTerminated。
func (e *DefaultEngine) mutate(ctx context.Context, id string, from []domain.JobStatus, to domain.JobStatus) (domain.Job, error) {
	changed, err := e.repo.Transition(ctx, id, from, to, "")
	if err != nil {
		return domain.Job{}, err
	}

	job, err := e.repo.FindById(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}

	if changed {
		e.metrics.JobTransitions.WithLabelValues(to.String()).Inc()
		e.logger.Info("[jremind] job status changed", zap.String("job_id", id), zap.String("to", to.String()))
		return job, nil
	}

	if job.Status == to {
		return job, nil
	}
	if job.Status.IsTerminal() {
		return domain.Job{}, fmt.Errorf("%w: job %s is %s", errs.ErrJobTerminated, id, job.Status)
	}
	// 状态在两次读写之间被并发修改
	return domain.Job{}, fmt.Errorf("%w: job %s is %s, expected one of %v", errs.ErrCursorMoved, id, job.Status, from)
}

func (e *DefaultEngine) Status(ctx context.Context, id string) (domain.Job, error) {
	val, err, _ := e.statusGroup.Do(id, func() (any, error) {
		return e.repo.FindById(ctx, id)
	})
	if err != nil {
		return domain.Job{}, err
	}
	return val.(domain.Job), nil
}

func (e *DefaultEngine) List(ctx context.Context, ownerId string, limit int) ([]domain.Job, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("%w: owner id should not be empty", errs.ErrInvalidParam)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return e.repo.ListByOwner(ctx, ownerId, limit)
}

func (e *DefaultEngine) Recover(ctx context.Context) (int, error) {
	strategy, err := retry.NewRetryStrategy(e.cfg.Recover)
	if err != nil {
		return 0, err
	}

	var retried int32
	for {
		jobs, err := e.repo.ListProcessing(ctx, e.cfg.RecoverLimit)
		if err == nil {
			for _, job := range jobs {
				e.start(job.Id)
			}
			e.logger.Info("[jremind] processing jobs recovered", zap.Int("count", len(jobs)))
			return len(jobs), nil
		}

		interval, ok := strategy.NextWithRetried(retried)
		if !ok {
			return 0, fmt.Errorf("%w: recover jobs: %w", errs.ErrRetryExhausted, err)
		}
		retried++

		e.logger.Warn("[jremind] failed to list processing jobs, retrying", zap.Duration("interval", interval), zap.Error(err))
		if err := sleep(ctx, interval); err != nil {
			return 0, err
		}
	}
}

func (e *DefaultEngine) Events(limit int) []domain.JobEvent {
	return e.events.Latest(limit)
}

func (e *DefaultEngine) Close() {
	e.cancel()
	e.wg.Wait()
}

// start 启动任务循环，同一任务同一时刻只有一个循环
func (e *DefaultEngine) start(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.Err() != nil {
		return
	}
	if _, ok := e.running[id]; ok {
		e.rerun[id] = struct{}{}
		return
	}
	e.running[id] = struct{}{}

	e.wg.Add(1)
	go e.loop(id)
}

func (e *DefaultEngine) loop(id string) {
	defer e.wg.Done()

	e.metrics.JobsRunning.Inc()
	defer e.metrics.JobsRunning.Dec()

	for {
		e.run(e.ctx, id)

		e.mu.Lock()
		if _, ok := e.rerun[id]; ok && e.ctx.Err() == nil {
			delete(e.rerun, id)
			e.mu.Unlock()
			continue
		}
		delete(e.rerun, id)
		delete(e.running, id)
		e.mu.Unlock()
		return
	}
}

func (e *DefaultEngine) emit(jobId string, kind domain.JobEventKind, index int, msg string) {
	e.events.Add(domain.JobEvent{
		JobId:   jobId,
		Kind:    kind,
		Index:   index,
		Message: msg,
		At:      time.Now().UnixMilli(),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func NewDefaultEngine(
	cfg Config,
	repo repository.JobRepo,
	ledger repository.LedgerRepo,
	breaker breaker.Breaker,
	locker lock.Locker,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) (*DefaultEngine, error) {
	cfg = cfg.withDefaults()

	events, err := ringbuffer.NewRingBuffer[domain.JobEvent](cfg.EventBuffer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DefaultEngine{
		cfg:     cfg,
		repo:    repo,
		ledger:  ledger,
		breaker: breaker,
		locker:  locker,
		running: make(map[string]struct{}),
		rerun:   make(map[string]struct{}),
		events:  events,
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics,
		logger:  logger,
	}, nil
}
