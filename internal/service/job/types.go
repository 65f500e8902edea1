package job

import (
	"context"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/pkg/backoff"
	"github.com/JrMarcco/jremind/internal/pkg/retry"
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultMaxItems     = 10000
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultEventBuffer  = 1024
	DefaultRecoverLimit = 1000
)

// Engine 可恢复的批量提醒任务引擎。
//
// 每个任务在后台以独立的循环执行，Pause / Resume / Cancel 只修改持久化状态，
// 循环在下一轮开始时感知。暂停或取消的生效延迟不超过一个发送间隔加一次进行中的网关调用。
type Engine interface {
	// Create 同一 owner 已有未终结任务时返回 errs.ErrJobConflict
	Create(ctx context.Context, req CreateReq) (CreateResult, error)
	Pause(ctx context.Context, id string) (domain.Job, error)
	Resume(ctx context.Context, id string) (domain.Job, error)
	Cancel(ctx context.Context, id string) (domain.Job, error)
	Status(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, ownerId string, limit int) ([]domain.Job, error)

	// Recover 重启后恢复所有处于 processing 的任务，返回恢复数量
	Recover(ctx context.Context) (int, error)
	// Events 最近的运行事件，最新的在最后
	Events(limit int) []domain.JobEvent
	// Close 停止全部任务循环，任务状态保持不变
	Close()
}

type CreateReq struct {
	OwnerId string
	// NotificationType / CycleKey 作为条目的默认值
	NotificationType string
	CycleKey         string
	// Interval 为 nil 时使用默认发送间隔，0 表示不等待
	Interval *time.Duration
	Items    []domain.JobItem
}

// CreateResult 新建任务及对收件地址做出的修正
type CreateResult struct {
	Job         domain.Job
	Corrections []ItemCorrection
}

type ItemCorrection struct {
	Index       int      `json:"index"`
	Raw         string   `json:"raw"`
	Canonical   string   `json:"canonical"`
	Corrections []string `json:"corrections"`
}

type Config struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	MaxItems        int           `mapstructure:"max_items"`
	EventBuffer     int           `mapstructure:"event_buffer"`
	RecoverLimit    int           `mapstructure:"recover_limit"`
	// StoreRetry 读写存储失败时的重试
	StoreRetry backoff.Config `mapstructure:"store_retry"`
	// Deferral 熔断期间条目的等待退避
	Deferral backoff.Config `mapstructure:"deferral"`
	Recover  retry.Config   `mapstructure:"recover"`
}

func (c Config) withDefaults() Config {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = DefaultInterval
	}
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.RecoverLimit <= 0 {
		c.RecoverLimit = DefaultRecoverLimit
	}
	if c.StoreRetry.MaxAttempts <= 0 {
		c.StoreRetry = backoff.Config{
			BaseDelay:    200 * time.Millisecond,
			Factor:       2,
			MaxDelay:     2 * time.Second,
			JitterFactor: 0.3,
			MaxAttempts:  3,
		}
	}
	if c.Recover.Type == "" {
		c.Recover = retry.DefaultConfig()
	}
	return c
}

type itemOutcome int

const (
	// outcomeAdvanced 条目已处理，游标后移
	outcomeAdvanced itemOutcome = iota
	// outcomeDeferred 熔断器打开，条目未处理，游标不动
	outcomeDeferred
	// outcomeLocked 条目正被其他实例处理
	outcomeLocked
)
