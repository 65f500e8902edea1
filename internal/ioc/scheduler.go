package ioc

import (
	"context"
	"errors"

	grpcapi "github.com/JrMarcco/jremind/internal/api/grpc"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/service/breaker"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var SchedulerFxOpt = fx.Options(
	fx.Provide(
		InitCron,
	),
	fx.Invoke(
		CronLifecycle,
		ThresholdWatchLifecycle,
	),
)

// cronLogger 将 cron 日志输出到 zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw("[jremind] cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw("[jremind] cron: "+msg, append(keysAndValues, "error", err)...)
}

func InitCron(b breaker.Breaker, hs *grpcapi.HealthServer, logger *zap.Logger) *cron.Cron {
	type config struct {
		// DrainSpec 定时重投熔断队列
		DrainSpec string `mapstructure:"drain_spec"`
		// HealthSpec 定时刷新 grpc 健康状态
		HealthSpec string `mapstructure:"health_spec"`
	}
	cfg := &config{}
	if err := viper.UnmarshalKey("scheduler", cfg); err != nil {
		panic(err)
	}
	if cfg.DrainSpec == "" {
		cfg.DrainSpec = "@every 1m"
	}
	if cfg.HealthSpec == "" {
		cfg.HealthSpec = "@every 15s"
	}

	cl := cronLogger{sugar: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(cfg.DrainSpec, func() {
		report, err := b.ProcessQueue(context.Background())
		if err != nil {
			// 其他实例或手动触发的重投正在进行
			if errors.Is(err, errs.ErrLocked) {
				return
			}
			logger.Error("[jremind] scheduled queue drain failed", zap.Error(err))
			return
		}
		if report.Delivered+report.Skipped+report.Failed > 0 {
			logger.Info(
				"[jremind] scheduled queue drain finished",
				zap.Int("delivered", report.Delivered),
				zap.Int("skipped", report.Skipped),
				zap.Int("failed", report.Failed),
				zap.Int("remaining", report.Remaining),
			)
		}
	}); err != nil {
		panic(err)
	}

	if _, err := c.AddFunc(cfg.HealthSpec, func() {
		hs.Refresh(context.Background())
	}); err != nil {
		panic(err)
	}
	return c
}

func CronLifecycle(lc fx.Lifecycle, c *cron.Cron) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// 等待正在执行的任务结束
			select {
			case <-c.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

// ThresholdWatchLifecycle 监听配置中心的熔断阈值
func ThresholdWatchLifecycle(lc fx.Lifecycle, client *clientv3.Client, b breaker.Breaker, logger *zap.Logger) {
	key := viper.GetString("breaker.thresholds_key")
	if key == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				breaker.WatchThresholds(ctx, client, key, b, logger)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
