package ioc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	grpcapi "github.com/JrMarcco/jremind/internal/api/grpc"
	"github.com/JrMarcco/jremind/internal/pkg/registry"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var AppFxOpt = fx.Provide(
	InitApp,
)

var AppFxInvoke = fx.Invoke(
	AppLifecycle,
)

type App struct {
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *grpcapi.HealthServer

	timeout  time.Duration
	registry registry.Registry
	si       registry.ServiceInstance

	logger *zap.Logger
}

func InitApp(
	httpServer *http.Server,
	grpcServer *grpc.Server,
	healthServer *grpcapi.HealthServer,
	r registry.Registry,
	zLogger *zap.Logger,
) *App {
	type config struct {
		Name     string `mapstructure:"name"`
		GrpcAddr string `mapstructure:"grpc_addr"`
		Timeout  int    `mapstructure:"timeout"`
	}
	cfg := &config{}
	if err := viper.UnmarshalKey("app", cfg); err != nil {
		panic(err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3000
	}

	si := registry.ServiceInstance{
		Name:     cfg.Name,
		Addr:     httpServer.Addr,
		GrpcAddr: cfg.GrpcAddr,
	}

	return &App{
		httpServer:   httpServer,
		grpcServer:   grpcServer,
		healthServer: healthServer,
		timeout:      time.Duration(cfg.Timeout) * time.Millisecond,
		registry:     r,
		si:           si,
		logger:       zLogger,
	}
}

func AppLifecycle(lc fx.Lifecycle, app *App) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			grpcLn, err := net.Listen("tcp", app.si.GrpcAddr)
			if err != nil {
				return err
			}
			httpLn, err := net.Listen("tcp", app.si.Addr)
			if err != nil {
				_ = grpcLn.Close()
				return err
			}

			app.healthServer.Refresh(ctx)

			// 启动 gRPC 服务器
			go func() {
				if serveErr := app.grpcServer.Serve(grpcLn); serveErr != nil {
					app.logger.Error("[jremind] grpc server stopped", zap.Error(serveErr))
				}
			}()
			// 启动 HTTP 服务器
			go func() {
				if serveErr := app.httpServer.Serve(httpLn); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					app.logger.Error("[jremind] http server stopped", zap.Error(serveErr))
				}
			}()

			// 注册服务到注册中心
			si := app.si
			si.StartedAt = time.Now().UnixMilli()
			registerCtx, cancel := context.WithTimeout(context.Background(), app.timeout)
			regErr := app.registry.Register(registerCtx, si)
			cancel()
			if regErr != nil {
				return regErr
			}
			app.si = si

			app.logger.Info("[jremind] app started", zap.String("http_addr", si.Addr), zap.String("grpc_addr", si.GrpcAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// 从注册中心注销服务
			unregisterCtx, cancel := context.WithTimeout(context.Background(), app.timeout)
			defer cancel()

			if err := app.registry.Unregister(unregisterCtx, app.si); err != nil {
				// 记录错误但不返回，确保服务器能够正常关闭
				app.logger.Error("[jremind] unregister service failed", zap.Error(err))
			}

			// 优雅退出
			app.healthServer.Shutdown()
			if err := app.httpServer.Shutdown(ctx); err != nil {
				app.logger.Error("[jremind] http server shutdown failed", zap.Error(err))
			}
			app.grpcServer.GracefulStop()

			return app.registry.Close()
		},
	})
}
