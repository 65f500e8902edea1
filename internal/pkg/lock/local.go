package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/JrMarcco/jremind/internal/errs"
)

var _ Locker = (*LocalLocker)(nil)

// LocalLocker 进程内实现，单实例部署或测试时使用
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrLocked, key)
	}
	l.held[key] = struct{}{}
	return &localLock{locker: l, key: key}, nil
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

type localLock struct {
	once   sync.Once
	locker *LocalLocker
	key    string
}

func (l *localLock) Unlock(_ context.Context) error {
	l.once.Do(func() {
		l.locker.release(l.key)
	})
	return nil
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]struct{}),
	}
}
