package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/JrMarcco/jremind/internal/errs"
)

// OnRetry 每次等待前回调，attempt 为即将进行的尝试序号（从 1 开始计数的重试次数）
type OnRetry func(attempt int, delay time.Duration)

// ExecuteWithBackoff 无状态的重试执行器，与熔断器无关。
//
// 最多执行 fn MaxAttempts 次，两次之间按 CalculateDelay 等待；
// 全部失败时返回最后一次的错误（同时可用 errs.ErrRetryExhausted 判断）。
func ExecuteWithBackoff[T any](
	ctx context.Context, fn func(ctx context.Context) (T, error), cfg Config, onRetry OnRetry,
) (T, error) {
	cfg = cfg.WithDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := CalculateDelay(attempt, cfg)
		if onRetry != nil {
			onRetry(attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("%w: %w", errs.ErrRetryExhausted, lastErr)
}
