package lock

import "context"

// Locker 非阻塞的互斥锁。
// 锁已被其他持有者占用时 TryLock 立即返回 errs.ErrLocked。
type Locker interface {
	TryLock(ctx context.Context, key string) (Lock, error)
}

type Lock interface {
	Unlock(ctx context.Context) error
}
