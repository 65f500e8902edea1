package breaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"go.uber.org/zap"
)

func (b *DefaultBreaker) ProcessQueue(ctx context.Context) (domain.QueueReport, error) {
	if !b.drainMu.TryLock() {
		return domain.QueueReport{}, fmt.Errorf("%w: breaker queue drain already running", errs.ErrLocked)
	}
	defer b.drainMu.Unlock()

	b.mu.Lock()
	open := b.state.Status == domain.CircuitOpen && b.coolDownRemaining() > 0
	b.mu.Unlock()

	report := domain.QueueReport{}
	if open {
		length, err := b.repo.QueueLength(ctx)
		if err != nil {
			return report, err
		}
		report.Remaining = int(length)
		report.Stopped = true
		b.scheduleDrain(report)
		return report, nil
	}

	msgs, err := b.repo.Oldest(ctx, b.cfg.DrainBatch)
	if err != nil {
		return report, err
	}

	for _, qm := range msgs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		stop, err := b.redeliver(ctx, qm, &report)
		if err != nil {
			return report, err
		}
		if stop {
			report.Stopped = true
			break
		}
	}

	length, err := b.repo.QueueLength(ctx)
	if err != nil {
		return report, err
	}
	report.Remaining = int(length)
	b.metrics.BreakerQueueSize.Set(float64(length))
	b.scheduleDrain(report)

	b.logger.Info(
		"[jremind] breaker queue processed",
		zap.Int("delivered", report.Delivered),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("remaining", report.Remaining),
		zap.Bool("stopped", report.Stopped),
	)
	return report, nil
}

// redeliver 重投一条队列消息，返回是否应当停止本轮重投
func (b *DefaultBreaker) redeliver(ctx context.Context, qm domain.QueuedMessage, report *domain.QueueReport) (bool, error) {
	if qm.Key != nil {
		// 与任务引擎使用同一把锁，避免同一条消息被两处同时投递
		l, err := b.locker.TryLock(ctx, qm.Key.String())
		if err != nil {
			if errors.Is(err, errs.ErrLocked) {
				return false, nil
			}
			return false, err
		}
		defer func() {
			if uErr := l.Unlock(context.WithoutCancel(ctx)); uErr != nil {
				b.logger.Warn("[jremind] failed to release queue message lock", zap.String("key", qm.Key.String()), zap.Error(uErr))
			}
		}()

		delivered, err := b.ledger.Exists(ctx, *qm.Key)
		if err != nil {
			return false, err
		}
		if delivered {
			report.Skipped++
			return false, b.repo.Remove(ctx, qm.Id)
		}
	}

	_, err := b.forward(ctx, qm.Message())
	switch {
	case err == nil:
		if qm.Key != nil {
			if rErr := b.ledger.Record(ctx, *qm.Key); rErr != nil {
				// 已投递但未记账，保留在队列里会导致重复发送，这里只记录日志
				b.logger.Error("[jremind] failed to record redelivered message", zap.String("key", qm.Key.String()), zap.Error(rErr))
			}
		}
		report.Delivered++
		return false, b.repo.Remove(ctx, qm.Id)
	case errors.Is(err, errs.ErrBreakerOpen), errors.Is(err, errs.ErrTransientDelivery):
		if mErr := b.repo.MarkRetried(ctx, qm.Id); mErr != nil {
			b.logger.Warn("[jremind] failed to mark queue message retried", zap.String("id", qm.Id), zap.Error(mErr))
		}
		return true, nil
	case ctx.Err() != nil:
		return true, ctx.Err()
	default:
		// 地址被拒等与网关可用性无关的失败，重投没有意义
		report.Failed++
		b.logger.Warn(
			"[jremind] drop undeliverable queue message",
			zap.String("id", qm.Id),
			zap.String("recipient", qm.Recipient),
			zap.Error(err),
		)
		return false, b.repo.Remove(ctx, qm.Id)
	}
}

// scheduleDrain 本轮被中断且仍有积压时安排一次退避后的重投
func (b *DefaultBreaker) scheduleDrain(report domain.QueueReport) {
	if !report.Stopped || report.Remaining == 0 {
		b.backoff.RecordSuccess()
		return
	}

	b.backoff.RecordFailure()
	if !b.backoff.ShouldRetry() {
		b.logger.Warn("[jremind] breaker queue follow-up drains exhausted, waiting for scheduled drain")
		return
	}

	if b.backoff.ScheduleRetry(b.drainLater) {
		b.logger.Info("[jremind] breaker queue follow-up drain scheduled", zap.Duration("after", b.backoff.TimeUntilRetry()))
	}
}

func (b *DefaultBreaker) drainLater() {
	if _, err := b.ProcessQueue(context.Background()); err != nil && !errors.Is(err, errs.ErrLocked) {
		b.logger.Error("[jremind] follow-up breaker queue drain failed", zap.Error(err))
	}
}
