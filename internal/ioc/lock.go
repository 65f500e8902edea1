package ioc

import (
	"context"

	"github.com/JrMarcco/jremind/internal/pkg/lock"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/fx"
)

var LockFxOpt = fx.Provide(
	fx.Annotate(
		InitLocker,
		fx.As(new(lock.Locker)),
	),
)

func InitLocker(lc fx.Lifecycle, client *clientv3.Client) *lock.EtcdLocker {
	type config struct {
		Prefix string `mapstructure:"prefix"`
		// Ttl 会话租约秒数，进程异常退出后锁在租约到期后释放
		Ttl int `mapstructure:"ttl"`
	}
	cfg := &config{}
	if err := viper.UnmarshalKey("lock", cfg); err != nil {
		panic(err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/jremind/lock/"
	}
	if cfg.Ttl <= 0 {
		cfg.Ttl = 30
	}

	locker, err := lock.NewEtcdLocker(client, cfg.Prefix, cfg.Ttl)
	if err != nil {
		panic(err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return locker.Close()
		},
	})
	return locker
}
