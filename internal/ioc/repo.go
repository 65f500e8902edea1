package ioc

import (
	"time"

	"github.com/JrMarcco/jremind/internal/pkg/idempotent"
	"github.com/JrMarcco/jremind/internal/repository"
	"github.com/JrMarcco/jremind/internal/repository/cache"
	"github.com/JrMarcco/jremind/internal/repository/cache/local"
	rediscache "github.com/JrMarcco/jremind/internal/repository/cache/redis"
	gcache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var RepoFxOpt = fx.Options(
	// cache
	fx.Provide(
		fx.Annotate(
			InitLedgerLocalCache,
			fx.As(new(cache.LedgerCache)),
			fx.ResultTags(`name:"ledger_local_cache"`),
		),
		fx.Annotate(
			InitLedgerRedisCache,
			fx.As(new(cache.LedgerCache)),
			fx.ResultTags(`name:"ledger_redis_cache"`),
		),
	),

	// repository
	fx.Provide(
		// idempotency ledger repository
		fx.Annotate(
			repository.NewDefaultLedgerRepo,
			fx.As(new(repository.LedgerRepo)),
			fx.ParamTags(``, `name:"ledger_local_cache"`, `name:"ledger_redis_cache"`),
		),
		// job repository
		fx.Annotate(
			repository.NewDefaultJobRepo,
			fx.As(new(repository.JobRepo)),
		),
		// circuit repository
		fx.Annotate(
			repository.NewDefaultCircuitRepo,
			fx.As(new(repository.CircuitRepo)),
		),
	),
)

type ledgerCacheConfig struct {
	LocalExpires  time.Duration `mapstructure:"local_expires"`
	CleanInterval time.Duration `mapstructure:"clean_interval"`
	RedisExpires  time.Duration `mapstructure:"redis_expires"`
}

func loadLedgerCacheConfig() ledgerCacheConfig {
	cfg := ledgerCacheConfig{}
	if err := viper.UnmarshalKey("ledger", &cfg); err != nil {
		panic(err)
	}
	if cfg.LocalExpires <= 0 {
		cfg.LocalExpires = time.Hour
	}
	if cfg.CleanInterval <= 0 {
		cfg.CleanInterval = 10 * time.Minute
	}
	if cfg.RedisExpires <= 0 {
		cfg.RedisExpires = cache.DefaultExpires
	}
	return cfg
}

func InitLedgerLocalCache() *local.LedgerLocalCache {
	cfg := loadLedgerCacheConfig()
	return local.NewLedgerLocalCache(gcache.New(cfg.LocalExpires, cfg.CleanInterval))
}

func InitLedgerRedisCache(rc redis.Cmdable) *rediscache.LedgerRedisCache {
	cfg := loadLedgerCacheConfig()
	return rediscache.NewLedgerRedisCache(idempotent.NewRedisStrategy(rc, cfg.RedisExpires))
}
