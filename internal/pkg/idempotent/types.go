package idempotent

import "context"

// Strategy 幂等记录策略。
//
// Exists 只读不写，Record 在确认投递成功后调用。
type Strategy interface {
	Exists(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
}
