package interceptor

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Chain 自定义拦截器链，grpc 官方只允许一次 grpc.UnaryInterceptor 调用
func Chain(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		// 顺序嵌套调用
		chainedHandler := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			thisInterceptor := interceptors[i]
			next := chainedHandler
			chainedHandler = func(ctx context.Context, req any) (any, error) {
				return thisInterceptor(ctx, req, info, next)
			}
		}
		return chainedHandler(ctx, req)
	}
}

// Recovery 将 handler 中的 panic 转为 codes.Internal
func Recovery(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(
					"[jremind] grpc handler panic",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "[jremind] internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func AccessLog(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		logger.Debug(
			"[jremind] grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
