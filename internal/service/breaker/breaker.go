package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/backoff"
	"github.com/JrMarcco/jremind/internal/pkg/lock"
	"github.com/JrMarcco/jremind/internal/pkg/metrics"
	"github.com/JrMarcco/jremind/internal/repository"
	"github.com/JrMarcco/jremind/internal/service/gateway"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ Breaker = (*DefaultBreaker)(nil)

type DefaultBreaker struct {
	mu sync.Mutex

	cfg   Config
	state domain.CircuitState
	// halfOpenInFlight half_open 状态下是否已有试探调用
	halfOpenInFlight bool

	// drainMu 同一时刻只允许一个队列重投
	drainMu sync.Mutex
	backoff *backoff.Manager

	client gateway.Client
	repo   repository.CircuitRepo
	ledger repository.LedgerRepo
	locker lock.Locker

	metrics *metrics.Metrics
	logger  *zap.Logger

	now func() time.Time
}

// Load 加载持久化的熔断状态，不存在时使用默认状态
func (b *DefaultBreaker) Load(ctx context.Context) error {
	persisted, found, err := b.repo.LoadState(ctx, b.cfg.Name)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if found {
		b.state.Status = persisted.Status
		b.state.FailureCount = persisted.FailureCount
		b.state.SuccessCount = persisted.SuccessCount
		b.state.LastFailureAt = persisted.LastFailureAt
		b.state.LastError = persisted.LastError
		b.state.UpdatedAt = persisted.UpdatedAt
		if persisted.FailureThreshold > 0 {
			b.state.FailureThreshold = persisted.FailureThreshold
		}
		if persisted.SuccessThreshold > 0 {
			b.state.SuccessThreshold = persisted.SuccessThreshold
		}
	}
	// 重启后不存在进行中的试探调用
	b.halfOpenInFlight = false
	b.metrics.BreakerState.Set(metrics.BreakerStateValue(b.state.Status.String()))

	b.logger.Info(
		"[jremind] circuit breaker state loaded",
		zap.String("name", b.cfg.Name),
		zap.String("status", b.state.Status.String()),
		zap.Int("failure_count", b.state.FailureCount),
	)
	return nil
}

func (b *DefaultBreaker) Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	if err := msg.Validate(); err != nil {
		return domain.DeliveryResult{}, err
	}

	res, err := b.forward(ctx, msg)
	if errors.Is(err, errs.ErrBreakerOpen) {
		b.enqueue(ctx, msg)
	}
	return res, err
}

// forward 根据熔断状态决定是否放行，不负责入队
func (b *DefaultBreaker) forward(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	trial, err := b.acquire(ctx)
	if err != nil {
		return domain.DeliveryResult{}, err
	}

	res, err := b.client.Send(ctx, msg)
	b.record(ctx, trial, err)
	return res, err
}

// acquire 判断当前调用是否可以放行，返回是否为 half_open 的试探调用
func (b *DefaultBreaker) acquire(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.Status {
	case domain.CircuitOpen:
		if remaining := b.coolDownRemaining(); remaining > 0 {
			return false, fmt.Errorf("%w: retry after %s", errs.ErrBreakerOpen, remaining)
		}
		b.transit(ctx, domain.CircuitHalfOpen)
		b.halfOpenInFlight = true
		return true, nil
	case domain.CircuitHalfOpen:
		if b.halfOpenInFlight {
			return false, fmt.Errorf("%w: half-open trial in flight", errs.ErrBreakerOpen)
		}
		b.halfOpenInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

// record 记录一次放行调用的结果
func (b *DefaultBreaker) record(ctx context.Context, trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.halfOpenInFlight = false
	}

	switch {
	case err == nil:
		b.onSuccess(ctx)
	case errors.Is(err, errs.ErrTransientDelivery):
		b.onFailure(ctx, err)
	}
}

func (b *DefaultBreaker) onSuccess(ctx context.Context) {
	switch b.state.Status {
	case domain.CircuitHalfOpen:
		b.state.SuccessCount++
		if b.state.SuccessCount >= b.state.SuccessThreshold {
			b.transit(ctx, domain.CircuitClosed)
			return
		}
		b.persist(ctx)
	case domain.CircuitClosed:
		if b.state.FailureCount > 0 {
			b.state.FailureCount = 0
			b.persist(ctx)
		}
	}
}

func (b *DefaultBreaker) onFailure(ctx context.Context, err error) {
	b.state.LastFailureAt = b.now().UnixMilli()
	b.state.LastError = err.Error()

	switch b.state.Status {
	case domain.CircuitHalfOpen:
		// 试探失败，计数回到阈值后重新打开
		b.state.FailureCount = b.state.FailureThreshold
		b.transit(ctx, domain.CircuitOpen)
	case domain.CircuitClosed:
		b.state.FailureCount++
		if b.state.FailureCount >= b.state.FailureThreshold {
			b.transit(ctx, domain.CircuitOpen)
			return
		}
		b.persist(ctx)
	default:
		b.persist(ctx)
	}
}

// transit 状态迁移，调用方需持有 mu
func (b *DefaultBreaker) transit(ctx context.Context, to domain.CircuitStatus) {
	from := b.state.Status
	b.state.Status = to

	switch to {
	case domain.CircuitClosed:
		b.state.FailureCount = 0
		b.state.SuccessCount = 0
	case domain.CircuitHalfOpen:
		b.state.SuccessCount = 0
	case domain.CircuitOpen:
		b.state.SuccessCount = 0
	}

	b.persist(ctx)
	b.metrics.BreakerState.Set(metrics.BreakerStateValue(to.String()))
	b.metrics.BreakerTransitions.WithLabelValues(to.String()).Inc()
	b.logger.Info(
		"[jremind] circuit breaker state changed",
		zap.String("name", b.cfg.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failure_count", b.state.FailureCount),
		zap.String("last_error", b.state.LastError),
	)
}

// persist 持久化失败只记录日志，不影响投递
func (b *DefaultBreaker) persist(ctx context.Context) {
	b.state.UpdatedAt = b.now().UnixMilli()
	if err := b.repo.SaveState(context.WithoutCancel(ctx), b.state); err != nil {
		b.logger.Error("[jremind] failed to persist circuit state", zap.String("name", b.cfg.Name), zap.Error(err))
	}
}

func (b *DefaultBreaker) coolDownRemaining() time.Duration {
	elapsed := b.now().Sub(time.UnixMilli(b.state.LastFailureAt))
	if elapsed >= b.cfg.CoolDown {
		return 0
	}
	return b.cfg.CoolDown - elapsed
}

func (b *DefaultBreaker) enqueue(ctx context.Context, msg domain.Message) {
	qm := domain.QueuedMessage{
		Id:          uuid.NewString(),
		Recipient:   msg.Recipient,
		Payload:     msg.Payload,
		MessageType: msg.MessageType,
		Key:         msg.Key,
		EnqueuedAt:  b.now().UnixMilli(),
	}

	inserted, err := b.repo.Enqueue(context.WithoutCancel(ctx), qm)
	if err != nil {
		b.logger.Error("[jremind] failed to enqueue deflected message", zap.String("recipient", msg.Recipient), zap.Error(err))
		return
	}
	if inserted {
		b.metrics.BreakerQueueSize.Inc()
	}
}

func (b *DefaultBreaker) Status(ctx context.Context) (domain.CircuitSnapshot, error) {
	b.mu.Lock()
	snapshot := domain.CircuitSnapshot{State: b.state}
	if b.state.Status == domain.CircuitOpen {
		snapshot.RetryAfterMillis = b.coolDownRemaining().Milliseconds()
	}
	b.mu.Unlock()

	length, err := b.repo.QueueLength(ctx)
	if err != nil {
		return domain.CircuitSnapshot{}, err
	}
	snapshot.QueueLength = length
	b.metrics.BreakerQueueSize.Set(float64(length))
	return snapshot, nil
}

func (b *DefaultBreaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halfOpenInFlight = false
	b.state.LastError = ""
	b.transit(ctx, domain.CircuitClosed)
	b.backoff.RecordSuccess()
	return nil
}

func (b *DefaultBreaker) UpdateThresholds(ctx context.Context, failure int, success int) error {
	if failure <= 0 || success <= 0 {
		return fmt.Errorf("%w: thresholds should be positive, got failure=%d success=%d", errs.ErrInvalidParam, failure, success)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.FailureThreshold = failure
	b.state.SuccessThreshold = success
	b.persist(ctx)

	b.logger.Info(
		"[jremind] circuit breaker thresholds updated",
		zap.String("name", b.cfg.Name),
		zap.Int("failure_threshold", failure),
		zap.Int("success_threshold", success),
	)
	return nil
}

func (b *DefaultBreaker) ClearQueue(ctx context.Context) (int64, error) {
	cleared, err := b.repo.ClearQueue(ctx)
	if err != nil {
		return 0, err
	}
	b.backoff.CancelRetry()
	b.metrics.BreakerQueueSize.Set(0)
	b.logger.Warn("[jremind] breaker queue cleared", zap.Int64("cleared", cleared))
	return cleared, nil
}

func NewDefaultBreaker(
	cfg Config,
	client gateway.Client,
	repo repository.CircuitRepo,
	ledger repository.LedgerRepo,
	locker lock.Locker,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) *DefaultBreaker {
	cfg = cfg.withDefaults()

	return &DefaultBreaker{
		cfg: cfg,
		state: domain.CircuitState{
			Name:             cfg.Name,
			Status:           domain.CircuitClosed,
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: cfg.SuccessThreshold,
		},
		backoff: backoff.NewManager(cfg.Backoff),
		client:  client,
		repo:    repo,
		ledger:  ledger,
		locker:  locker,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}
