package gateway

import (
	"context"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
)

const (
	DefaultTimeout = 15 * time.Second
	DefaultRate    = 10
)

// Client 消息网关客户端
type Client interface {
	// Send 依次尝试收件人的各个地址格式，直到网关确认接收。
	//
	// 返回的错误可用 errors.Is 区分：
	// errs.ErrTransientDelivery 网关或网络暂时不可用；
	// errs.ErrFormatRejected 地址被网关拒绝，与网关可用性无关。
	Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error)
	// Ping 检查网关实例是否可达
	Ping(ctx context.Context) error
}

type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	Instance string        `mapstructure:"instance"`
	ApiKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Rate 每秒最大请求数
	Rate  int `mapstructure:"rate"`
	Burst int `mapstructure:"burst"`
}

type outcome int

const (
	outcomeAccepted outcome = iota
	// outcomeTransient 网络错误、超时、5xx、429、2xx 但没有回执 id
	outcomeTransient
	// outcomeRejected 400，当前地址格式被拒，继续尝试下一个
	outcomeRejected
	// outcomeTerminal 其他 4xx，不再尝试
	outcomeTerminal
)

func (o outcome) String() string {
	switch o {
	case outcomeAccepted:
		return "accepted"
	case outcomeTransient:
		return "transient"
	case outcomeRejected:
		return "rejected"
	case outcomeTerminal:
		return "terminal"
	}
	return "unknown"
}

type sendReq struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type attemptResult struct {
	outcome    outcome
	statusCode int
	messageId  string
	err        error
}
