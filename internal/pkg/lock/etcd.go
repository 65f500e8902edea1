package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/JrMarcco/jremind/internal/errs"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

var _ Locker = (*EtcdLocker)(nil)

// EtcdLocker 基于 etcd concurrency.Mutex 的跨实例锁。
// 所有锁共享一个 session，实例宕机后租约过期锁自动释放。
type EtcdLocker struct {
	session *concurrency.Session
	prefix  string
}

func (l *EtcdLocker) TryLock(ctx context.Context, key string) (Lock, error) {
	mu := concurrency.NewMutex(l.session, l.prefix+key)
	if err := mu.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", errs.ErrLocked, key)
		}
		return nil, err
	}
	return &etcdLock{mu: mu}, nil
}

func (l *EtcdLocker) Close() error {
	return l.session.Close()
}

type etcdLock struct {
	mu *concurrency.Mutex
}

func (l *etcdLock) Unlock(ctx context.Context) error {
	return l.mu.Unlock(ctx)
}

// NewEtcdLocker ttl 单位为秒，决定实例宕机后锁的最长残留时间
func NewEtcdLocker(client *clientv3.Client, prefix string, ttl int) (*EtcdLocker, error) {
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		return nil, err
	}
	return &EtcdLocker{
		session: session,
		prefix:  prefix,
	}, nil
}
