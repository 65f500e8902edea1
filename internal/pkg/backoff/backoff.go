package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// MinDelay 延迟下限，保证重试总能向前推进
const MinDelay = 100 * time.Millisecond

// Config 指数退避配置
type Config struct {
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	Factor       float64       `mapstructure:"factor"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:    time.Second,
		Factor:       2,
		MaxDelay:     time.Minute,
		JitterFactor: 0.3,
		MaxAttempts:  5,
	}
}

// WithDefaults 未设置（零值）的字段使用默认值。
// JitterFactor 例外：0 表示不加抖动，需要抖动时显式设置（DefaultConfig 为 0.3）。
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.Factor <= 0 {
		c.Factor = def.Factor
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// CalculateDelay 计算第 attempt 次（从 0 开始）重试前的等待时间。
//
// delay = min(base * factor^attempt, max)，再叠加 ±delay*jitter 的随机抖动，
// 结果落在 [MinDelay, max] 区间内。
func CalculateDelay(attempt int, cfg Config) time.Duration {
	return calculateDelay(attempt, cfg, rand.Float64)
}

// ExpectedDelay 不含抖动的期望延迟
func ExpectedDelay(attempt int, cfg Config) time.Duration {
	cfg = cfg.WithDefaults()
	if attempt < 0 {
		attempt = 0
	}

	raw := float64(cfg.BaseDelay) * math.Pow(cfg.Factor, float64(attempt))
	// 溢出或超过上限都按上限处理
	if math.IsInf(raw, 0) || math.IsNaN(raw) || raw > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(raw)
}

func calculateDelay(attempt int, cfg Config, randFloat func() float64) time.Duration {
	cfg = cfg.WithDefaults()
	delay := float64(ExpectedDelay(attempt, cfg))

	// randFloat 返回 [0, 1)，映射到 [-1, 1)
	jitter := delay * cfg.JitterFactor * (randFloat()*2 - 1)
	delay += jitter

	delay = math.Min(delay, float64(cfg.MaxDelay))
	delay = math.Max(delay, float64(MinDelay))
	return time.Duration(delay)
}
