package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/backoff"
	"go.uber.org/zap"
)

// run 执行一个任务直到任务不再处于 processing、条目处理完或引擎关闭。
// panic 与非预期错误都会将任务强制取消。
func (e *DefaultEngine) run(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("[jremind] job loop panic", zap.String("job_id", id), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			e.fault(id, fmt.Errorf("%w: panic: %v", errs.ErrEngineFault, r))
		}
	}()

	e.emit(id, domain.JobEventStarted, -1, "")

	// 熔断期间的等待退避，每个任务循环独立，下一次放行调用后重置
	deferral := backoff.NewManager(e.cfg.Deferral)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := backoff.ExecuteWithBackoff(ctx, func(ctx context.Context) (domain.Job, error) {
			return e.repo.FindById(ctx, id)
		}, e.cfg.StoreRetry, nil)
		if err != nil {
			if ctx.Err() == nil {
				e.fault(id, fmt.Errorf("%w: load job: %w", errs.ErrEngineFault, err))
			}
			return
		}

		if job.Status == domain.JobStatusCompleted {
			e.emit(id, domain.JobEventCompleted, job.Cursor, "")
			e.logComplete(job)
			return
		}
		// 暂停与取消在这里生效
		if job.Status != domain.JobStatusProcessing {
			e.emit(id, domain.JobEventHalted, job.Cursor, job.Status.String())
			e.logger.Info("[jremind] job loop halted", zap.String("job_id", id), zap.String("status", job.Status.String()), zap.Int("cursor", job.Cursor))
			return
		}

		item, ok := job.Current()
		if !ok {
			// 条目已在暂停期间处理完，恢复后直接完成
			e.complete(ctx, job)
			return
		}

		prevCursor := job.Cursor
		outcome, err := e.process(ctx, &job, item, deferral)
		if err != nil {
			if ctx.Err() == nil {
				e.fault(id, fmt.Errorf("%w: item[%d]: %w", errs.ErrEngineFault, prevCursor, err))
			}
			return
		}

		switch outcome {
		case outcomeDeferred:
			wait := max(job.Interval, deferral.NextDelay())
			e.logger.Debug("[jremind] circuit open, item deferred", zap.String("job_id", id), zap.Int("cursor", prevCursor), zap.Duration("wait", wait))
			if sleep(ctx, wait) != nil {
				return
			}
			continue
		case outcomeLocked:
			if sleep(ctx, max(job.Interval, time.Second)) != nil {
				return
			}
			continue
		}

		progress := job.Progress(prevCursor)
		var moved error
		_, err = backoff.ExecuteWithBackoff(ctx, func(ctx context.Context) (struct{}, error) {
			err := e.repo.SaveProgress(ctx, progress)
			if errors.Is(err, errs.ErrCursorMoved) {
				// 游标冲突不需要重试
				moved = err
				return struct{}{}, nil
			}
			return struct{}{}, err
		}, e.cfg.StoreRetry, nil)
		if err != nil {
			if ctx.Err() == nil {
				e.fault(id, fmt.Errorf("%w: save progress: %w", errs.ErrEngineFault, err))
			}
			return
		}
		if moved != nil {
			e.emit(id, domain.JobEventHalted, prevCursor, moved.Error())
			e.logger.Warn("[jremind] job progress moved by another writer", zap.String("job_id", id), zap.Error(moved))
			return
		}

		if progress.Completed {
			// 回到循环开始确认最终状态，暂停中的任务保持暂停
			continue
		}

		// 发送间隔内不持有任何锁
		if sleep(ctx, job.Interval) != nil {
			return
		}
	}
}

// process 处理当前条目。
// 条目锁只在投递期间持有，返回前释放。
func (e *DefaultEngine) process(ctx context.Context, job *domain.Job, item domain.JobItem, deferral *backoff.Manager) (itemOutcome, error) {
	key := item.IdempotencyKey(job.OwnerId)

	// 与熔断队列重投使用同一把锁
	l, err := e.locker.TryLock(ctx, key.String())
	if err != nil {
		if errors.Is(err, errs.ErrLocked) {
			return outcomeLocked, nil
		}
		return outcomeAdvanced, err
	}
	defer func() {
		if uErr := l.Unlock(context.WithoutCancel(ctx)); uErr != nil {
			e.logger.Warn("[jremind] failed to release item lock", zap.String("key", key.String()), zap.Error(uErr))
		}
	}()

	delivered, err := backoff.ExecuteWithBackoff(ctx, func(ctx context.Context) (bool, error) {
		return e.ledger.Exists(ctx, key)
	}, e.cfg.StoreRetry, nil)
	if err != nil {
		return outcomeAdvanced, err
	}
	if delivered {
		job.Advance(true, "")
		e.metrics.JobItems.WithLabelValues("skipped").Inc()
		e.emit(job.Id, domain.JobEventItemSkipped, job.Cursor-1, "already delivered")
		return outcomeAdvanced, nil
	}

	res, err := e.breaker.Send(ctx, domain.Message{
		Recipient:   item.Address,
		Payload:     item.Body,
		MessageType: item.NotificationType,
		Key:         &key,
	})

	switch {
	case err == nil:
		deferral.RecordSuccess()
		_, rErr := backoff.ExecuteWithBackoff(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.ledger.Record(ctx, key)
		}, e.cfg.StoreRetry, nil)
		if rErr != nil {
			// 已投递但未记账，之后可能重复发送
			e.logger.Error("[jremind] failed to record delivered item", zap.String("job_id", job.Id), zap.String("key", key.String()), zap.Error(rErr))
		}
		job.Advance(true, "")
		e.metrics.JobItems.WithLabelValues("success").Inc()
		e.emit(job.Id, domain.JobEventItemSuccess, job.Cursor-1, res.MessageId)
		return outcomeAdvanced, nil
	case errors.Is(err, errs.ErrBreakerOpen):
		deferral.RecordFailure()
		e.metrics.JobItems.WithLabelValues("deferred").Inc()
		e.emit(job.Id, domain.JobEventBreakerOpen, job.Cursor, err.Error())
		return outcomeDeferred, nil
	case ctx.Err() != nil:
		return outcomeAdvanced, ctx.Err()
	case errors.Is(err, errs.ErrTransientDelivery),
		errors.Is(err, errs.ErrFormatRejected),
		errors.Is(err, errs.ErrInvalidParam):
		deferral.RecordSuccess()
		job.Advance(false, err.Error())
		e.metrics.JobItems.WithLabelValues("failure").Inc()
		e.emit(job.Id, domain.JobEventItemFailure, job.Cursor-1, err.Error())
		return outcomeAdvanced, nil
	default:
		return outcomeAdvanced, err
	}
}

// complete 条目处理完后将任务置为 completed
func (e *DefaultEngine) complete(ctx context.Context, job domain.Job) {
	changed, err := e.repo.Transition(ctx, job.Id, []domain.JobStatus{domain.JobStatusProcessing}, domain.JobStatusCompleted, "")
	if err != nil {
		if ctx.Err() == nil {
			e.fault(job.Id, fmt.Errorf("%w: complete job: %w", errs.ErrEngineFault, err))
		}
		return
	}
	if !changed {
		return
	}
	e.emit(job.Id, domain.JobEventCompleted, job.Cursor, "")
	e.logComplete(job)
}

func (e *DefaultEngine) logComplete(job domain.Job) {
	e.metrics.JobTransitions.WithLabelValues(domain.JobStatusCompleted.String()).Inc()
	e.logger.Info(
		"[jremind] job completed",
		zap.String("job_id", job.Id),
		zap.Int("success_count", job.SuccessCount),
		zap.Int("error_count", job.ErrorCount),
	)
}

// fault 引擎故障，任务强制取消并记录原因
func (e *DefaultEngine) fault(id string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.emit(id, domain.JobEventFault, -1, err.Error())
	e.logger.Error("[jremind] job loop fault, job cancelled", zap.String("job_id", id), zap.Error(err))

	changed, tErr := e.repo.Transition(ctx, id, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusProcessing,
		domain.JobStatusPaused,
	}, domain.JobStatusCancelled, err.Error())
	if tErr != nil {
		e.logger.Error("[jremind] failed to cancel faulted job", zap.String("job_id", id), zap.Error(tErr))
		return
	}
	if changed {
		e.metrics.JobTransitions.WithLabelValues(domain.JobStatusCancelled.String()).Inc()
	}
}
