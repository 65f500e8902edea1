package registry

import (
	"context"
	"io"
)

// Registry 服务实例注册。
// 多个 jremind 实例共享同一份任务数据，注册信息用于运维查看存活实例。
type Registry interface {
	Register(ctx context.Context, si ServiceInstance) error
	Unregister(ctx context.Context, si ServiceInstance) error
	ListService(ctx context.Context, serviceName string) ([]ServiceInstance, error)

	io.Closer
}

type ServiceInstance struct {
	Name      string `json:"name"`
	Addr      string `json:"addr"`
	GrpcAddr  string `json:"grpc_addr"`
	StartedAt int64  `json:"started_at"`
}
