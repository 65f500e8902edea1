package breaker

import (
	"context"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/pkg/backoff"
)

const (
	DefaultName             = "gateway"
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultCoolDown         = 60 * time.Second
	DefaultDrainBatch       = 500
)

// Breaker 包裹网关客户端的熔断器。
//
// closed 时直接转发；open 时消息转入持久化队列并返回 errs.ErrBreakerOpen；
// half_open 时同一时刻只放行一次试探调用，其余同样入队。
// 只有 errs.ErrTransientDelivery 计为失败，地址被拒与网关健康无关，不计数。
type Breaker interface {
	Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error)
	Status(ctx context.Context) (domain.CircuitSnapshot, error)
	// Reset 强制回到 closed 并清零计数
	Reset(ctx context.Context) error
	// ProcessQueue 按入队顺序重投队列中的消息，遇到第一次网关失败即停止
	ProcessQueue(ctx context.Context) (domain.QueueReport, error)
	// ClearQueue 丢弃队列中的全部消息，返回丢弃数量
	ClearQueue(ctx context.Context) (int64, error)
	UpdateThresholds(ctx context.Context, failure int, success int) error
}

type Config struct {
	Name             string         `mapstructure:"name"`
	FailureThreshold int            `mapstructure:"failure_threshold"`
	SuccessThreshold int            `mapstructure:"success_threshold"`
	CoolDown         time.Duration  `mapstructure:"cool_down"`
	DrainBatch       int            `mapstructure:"drain_batch"`
	Backoff          backoff.Config `mapstructure:"backoff"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.CoolDown <= 0 {
		c.CoolDown = DefaultCoolDown
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = DefaultDrainBatch
	}
	return c
}
