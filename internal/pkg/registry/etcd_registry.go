package registry

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

var _ Registry = (*EtcdRegistry)(nil)

// EtcdRegistry 基于 etcd 租约的注册实现，进程退出后租约过期自动下线
type EtcdRegistry struct {
	client  *clientv3.Client
	session *concurrency.Session
}

func (r *EtcdRegistry) Register(ctx context.Context, si ServiceInstance) error {
	val, err := json.Marshal(si)
	if err != nil {
		return err
	}
	_, err = r.client.Put(ctx, r.siKey(si), string(val), clientv3.WithLease(r.session.Lease()))
	return err
}

func (r *EtcdRegistry) Unregister(ctx context.Context, si ServiceInstance) error {
	_, err := r.client.Delete(ctx, r.siKey(si))
	return err
}

func (r *EtcdRegistry) siKey(si ServiceInstance) string {
	return fmt.Sprintf("/jremind/services/%s/%s", si.Name, si.Addr)
}

func (r *EtcdRegistry) ListService(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.serviceKey(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	res := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var si ServiceInstance
		if err := json.Unmarshal(kv.Value, &si); err != nil {
			return nil, err
		}
		res = append(res, si)
	}
	return res, nil
}

func (r *EtcdRegistry) serviceKey(serviceName string) string {
	return fmt.Sprintf("/jremind/services/%s/", serviceName)
}

func (r *EtcdRegistry) Close() error {
	return r.session.Close()
}

// NewEtcdRegistry ttl 单位为秒，实例异常退出后最多 ttl 秒从列表中消失
func NewEtcdRegistry(client *clientv3.Client, ttl int) (*EtcdRegistry, error) {
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		session: session,
		client:  client,
	}, nil
}
