package ioc

import (
	"github.com/JrMarcco/jremind/internal/pkg/registry"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/fx"
)

var RegistryFxOpt = fx.Provide(
	fx.Annotate(
		InitRegistry,
		fx.As(new(registry.Registry)),
	),
)

// InitRegistry 注册信息挂在独立的租约上，与分布式锁的租约互不影响
func InitRegistry(client *clientv3.Client) *registry.EtcdRegistry {
	ttl := viper.GetInt("registry.ttl")
	if ttl <= 0 {
		ttl = 15
	}

	r, err := registry.NewEtcdRegistry(client, ttl)
	if err != nil {
		panic(err)
	}
	return r
}
