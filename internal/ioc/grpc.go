package ioc

import (
	grpcapi "github.com/JrMarcco/jremind/internal/api/grpc"
	"github.com/JrMarcco/jremind/internal/api/grpc/interceptor"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthv1 "google.golang.org/grpc/health/grpc_health_v1"
)

var GrpcFxOpt = fx.Provide(
	InitGrpcServer,
	grpcapi.NewHealthServer,
)

func InitGrpcServer(hs *grpcapi.HealthServer, logger *zap.Logger) *grpc.Server {
	grpcSvr := grpc.NewServer(
		// 注册拦截器
		grpc.UnaryInterceptor(interceptor.Chain(
			interceptor.Recovery(logger),
			interceptor.AccessLog(logger),
		)),
	)
	healthv1.RegisterHealthServer(grpcSvr, hs)
	return grpcSvr
}
