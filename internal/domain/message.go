package domain

import (
	"fmt"

	"github.com/JrMarcco/jremind/internal/errs"
)

// Message 一次出站投递请求
type Message struct {
	Recipient   string `json:"recipient"`
	Payload     string `json:"payload"`
	MessageType string `json:"message_type"`
	// Key 可选，引擎发出的消息携带幂等键，以便重投成功后写入幂等账本
	Key *IdempotencyKey `json:"key,omitempty"`
}

func (m Message) Validate() error {
	if m.Recipient == "" {
		return fmt.Errorf("%w: recipient should not be empty", errs.ErrInvalidParam)
	}
	if m.Payload == "" {
		return fmt.Errorf("%w: payload should not be empty", errs.ErrInvalidParam)
	}
	return nil
}

// QueuedMessage 熔断期间被转移到本地队列的消息
type QueuedMessage struct {
	Id          string          `json:"id"`
	Recipient   string          `json:"recipient"`
	Payload     string          `json:"payload"`
	MessageType string          `json:"message_type"`
	Key         *IdempotencyKey `json:"key,omitempty"`
	RetryCount  int             `json:"retry_count"`
	EnqueuedAt  int64           `json:"enqueued_at"`
}

func (qm QueuedMessage) Message() Message {
	return Message{
		Recipient:   qm.Recipient,
		Payload:     qm.Payload,
		MessageType: qm.MessageType,
		Key:         qm.Key,
	}
}

// DeliveryResult 网关投递结果
type DeliveryResult struct {
	MessageId  string `json:"message_id"`
	Address    string `json:"address"`
	StatusCode int    `json:"status_code"`
	Attempts   int    `json:"attempts"`
}

// IdempotencyKey 幂等账本唯一键。
//
// 同一收件人在不同周期（CycleKey）视为新的通知。
type IdempotencyKey struct {
	OwnerId          string `json:"owner_id"`
	RecipientId      string `json:"recipient_id"`
	NotificationType string `json:"notification_type"`
	CycleKey         string `json:"cycle_key"`
}

func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.OwnerId, k.RecipientId, k.NotificationType, k.CycleKey)
}
