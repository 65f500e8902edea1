package ioc

import (
	"net/http"
	"time"

	"github.com/JrMarcco/jremind/internal/api/web"
	"github.com/JrMarcco/jremind/internal/pkg/registry"
	"github.com/JrMarcco/jremind/internal/service/breaker"
	"github.com/JrMarcco/jremind/internal/service/job"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var WebFxOpt = fx.Provide(
	InitWebHandler,
	InitRouter,
	InitHttpServer,
)

func InitWebHandler(engine job.Engine, b breaker.Breaker, r registry.Registry, logger *zap.Logger) *web.Handler {
	return web.NewHandler(engine, b, r, viper.GetString("app.name"), logger)
}

func InitRouter(h *web.Handler, reg *prometheus.Registry, logger *zap.Logger) *gin.Engine {
	if viper.GetString("profile.env") == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	return web.NewRouter(h, reg, logger)
}

func InitHttpServer(router *gin.Engine) *http.Server {
	type config struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	}
	cfg := &config{}
	if err := viper.UnmarshalKey("http", cfg); err != nil {
		panic(err)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
