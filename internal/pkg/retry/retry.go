package retry

import (
	"fmt"
	"time"

	"github.com/JrMarcco/easy-kit/retry"
)

type Config struct {
	Type               string                    `mapstructure:"type"`
	FixedInterval      *FixedIntervalConfig      `mapstructure:"fixed_interval"`
	ExponentialBackoff *ExponentialBackoffConfig `mapstructure:"exponential_backoff"`
}

type ExponentialBackoffConfig struct {
	InitInterval time.Duration `mapstructure:"init_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`
	MaxTimes     int32         `mapstructure:"max_times"`
}

type FixedIntervalConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxTimes int32         `mapstructure:"max_times"`
}

func NewRetryStrategy(cfg Config) (retry.Strategy, error) {
	switch cfg.Type {
	case "fixed_interval":
		if cfg.FixedInterval == nil {
			return nil, fmt.Errorf("[jremind] missing fixed interval retry config")
		}
		return retry.NewFixedIntervalStrategy(cfg.FixedInterval.Interval, cfg.FixedInterval.MaxTimes)
	case "exponential_backoff":
		if cfg.ExponentialBackoff == nil {
			return nil, fmt.Errorf("[jremind] missing exponential backoff retry config")
		}
		return retry.NewExponentialBackoffStrategy(
			cfg.ExponentialBackoff.InitInterval,
			cfg.ExponentialBackoff.MaxInterval,
			cfg.ExponentialBackoff.MaxTimes,
		)
	default:
		return nil, fmt.Errorf("[jremind] unknown retry strategy type: %s", cfg.Type)
	}
}

// DefaultConfig 启动恢复使用的默认重试策略
func DefaultConfig() Config {
	return Config{
		Type: "exponential_backoff",
		ExponentialBackoff: &ExponentialBackoffConfig{
			InitInterval: 500 * time.Millisecond,
			MaxInterval:  10 * time.Second,
			MaxTimes:     5,
		},
	}
}
