package ioc

import (
	"context"
	"net/http"
	"time"

	"github.com/JrMarcco/jremind/internal/pkg/backoff"
	"github.com/JrMarcco/jremind/internal/pkg/lock"
	"github.com/JrMarcco/jremind/internal/pkg/metrics"
	"github.com/JrMarcco/jremind/internal/repository"
	"github.com/JrMarcco/jremind/internal/service/breaker"
	"github.com/JrMarcco/jremind/internal/service/gateway"
	"github.com/JrMarcco/jremind/internal/service/job"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ServiceFxOpt = fx.Options(
	fx.Provide(
		// delivery gateway client
		fx.Annotate(
			InitGatewayClient,
			fx.As(new(gateway.Client)),
		),
		// circuit breaker
		fx.Annotate(
			InitBreaker,
			fx.As(fx.Self(), new(breaker.Breaker)),
		),
		// job engine
		fx.Annotate(
			InitEngine,
			fx.As(fx.Self(), new(job.Engine)),
		),
	),
	fx.Invoke(
		GatewayLifecycle,
		BreakerLifecycle,
		EngineLifecycle,
	),
)

func InitGatewayClient(m *metrics.Metrics, logger *zap.Logger) *gateway.HttpClient {
	cfg := gateway.Config{}
	if err := viper.UnmarshalKey("gateway", &cfg); err != nil {
		panic(err)
	}

	// 单次请求超时由 gateway.Config.Timeout 控制
	client, err := gateway.NewHttpClient(&http.Client{}, cfg, m, logger)
	if err != nil {
		panic(err)
	}
	return client
}

// GatewayLifecycle 启动时检查网关实例连通性，网关不可用不阻止启动，由熔断器兜底
func GatewayLifecycle(lc fx.Lifecycle, client gateway.Client, logger *zap.Logger) {
	cfg := backoff.Config{}
	if err := viper.UnmarshalKey("gateway.ping_retry", &cfg); err != nil {
		panic(err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg = backoff.Config{BaseDelay: 500 * time.Millisecond, Factor: 2, MaxDelay: 5 * time.Second, MaxAttempts: 3}
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := backoff.ExecuteWithBackoff(ctx, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, client.Ping(ctx)
			}, cfg, func(attempt int, delay time.Duration) {
				logger.Warn("[jremind] gateway ping failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			})
			if err != nil {
				logger.Error("[jremind] gateway instance unreachable", zap.Error(err))
				return nil
			}
			logger.Info("[jremind] gateway instance reachable")
			return nil
		},
	})
}

func InitBreaker(
	client gateway.Client,
	repo repository.CircuitRepo,
	ledger repository.LedgerRepo,
	locker lock.Locker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *breaker.DefaultBreaker {
	cfg := breaker.Config{}
	if err := viper.UnmarshalKey("breaker", &cfg); err != nil {
		panic(err)
	}
	return breaker.NewDefaultBreaker(cfg, client, repo, ledger, locker, m, logger)
}

func BreakerLifecycle(lc fx.Lifecycle, b *breaker.DefaultBreaker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Load(ctx)
		},
	})
}

func InitEngine(
	repo repository.JobRepo,
	ledger repository.LedgerRepo,
	b breaker.Breaker,
	locker lock.Locker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *job.DefaultEngine {
	cfg := job.Config{}
	if err := viper.UnmarshalKey("job", &cfg); err != nil {
		panic(err)
	}

	engine, err := job.NewDefaultEngine(cfg, repo, ledger, b, locker, m, logger)
	if err != nil {
		panic(err)
	}
	return engine
}

// EngineLifecycle 启动时恢复 processing 状态的任务，退出时停止全部任务循环
func EngineLifecycle(lc fx.Lifecycle, engine *job.DefaultEngine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			recovered, err := engine.Recover(ctx)
			if err != nil {
				return err
			}
			logger.Info("[jremind] job engine started", zap.Int("recovered", recovered))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				engine.Close()
				close(done)
			}()

			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
