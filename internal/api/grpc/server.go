package grpc

import (
	"context"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/service/breaker"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthv1 "google.golang.org/grpc/health/grpc_health_v1"
)

// GatewayService 网关健康状态对应的服务名，熔断器打开时为 NOT_SERVING
const GatewayService = "jremind.gateway"

// HealthServer grpc.health.v1 服务。
// 整体状态取决于存储是否可读，网关状态取决于熔断器是否放行。
type HealthServer struct {
	*health.Server

	breaker breaker.Breaker
	logger  *zap.Logger
}

// Refresh 重新计算并设置服务状态
func (s *HealthServer) Refresh(ctx context.Context) {
	snapshot, err := s.breaker.Status(ctx)
	if err != nil {
		s.logger.Warn("[jremind] health check failed to read breaker status", zap.Error(err))
		s.SetServingStatus("", healthv1.HealthCheckResponse_NOT_SERVING)
		s.SetServingStatus(GatewayService, healthv1.HealthCheckResponse_UNKNOWN)
		return
	}

	s.SetServingStatus("", healthv1.HealthCheckResponse_SERVING)
	if snapshot.State.Status == domain.CircuitOpen {
		s.SetServingStatus(GatewayService, healthv1.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.SetServingStatus(GatewayService, healthv1.HealthCheckResponse_SERVING)
}

func NewHealthServer(breaker breaker.Breaker, logger *zap.Logger) *HealthServer {
	return &HealthServer{
		Server:  health.NewServer(),
		breaker: breaker,
		logger:  logger,
	}
}
