package domain

import (
	"fmt"
	"time"

	"github.com/JrMarcco/jremind/internal/errs"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal 终态（completed / cancelled）的任务不可再变更
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

func (s JobStatus) Validate() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusPaused, JobStatusCompleted, JobStatusCancelled:
		return true
	}
	return false
}

// JobItem 批量发送任务中的单条消息
type JobItem struct {
	RecipientId      string `json:"recipient_id"`
	Address          string `json:"address"`
	Body             string `json:"body"`
	NotificationType string `json:"notification_type"`
	CycleKey         string `json:"cycle_key"`
}

func (i JobItem) Validate() error {
	if i.RecipientId == "" {
		return fmt.Errorf("%w: recipient id should not be empty", errs.ErrInvalidParam)
	}
	if i.Address == "" {
		return fmt.Errorf("%w: address should not be empty", errs.ErrInvalidParam)
	}
	if i.Body == "" {
		return fmt.Errorf("%w: body should not be empty", errs.ErrInvalidParam)
	}
	if i.NotificationType == "" {
		return fmt.Errorf("%w: notification type should not be empty", errs.ErrInvalidParam)
	}
	if i.CycleKey == "" {
		return fmt.Errorf("%w: cycle key should not be empty", errs.ErrInvalidParam)
	}
	return nil
}

// IdempotencyKey 由 owner 与消息条目得到幂等键
func (i JobItem) IdempotencyKey(ownerId string) IdempotencyKey {
	return IdempotencyKey{
		OwnerId:          ownerId,
		RecipientId:      i.RecipientId,
		NotificationType: i.NotificationType,
		CycleKey:         i.CycleKey,
	}
}

// Job 可恢复的批量发送任务领域对象。
//
// Cursor 指向下一条未处理的消息，只增不减。
// 每处理完一条消息后 SuccessCount + ErrorCount == Cursor。
type Job struct {
	Id           string        `json:"id"`
	OwnerId      string        `json:"owner_id"`
	Status       JobStatus     `json:"status"`
	Items        []JobItem     `json:"items"`
	Cursor       int           `json:"cursor"`
	SuccessCount int           `json:"success_count"`
	ErrorCount   int           `json:"error_count"`
	Interval     time.Duration `json:"interval"`
	LastError    string        `json:"last_error"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

func (j *Job) Validate() error {
	if j.OwnerId == "" {
		return fmt.Errorf("%w: owner id should not be empty", errs.ErrInvalidParam)
	}
	if len(j.Items) == 0 {
		return fmt.Errorf("%w: items should not be empty", errs.ErrInvalidParam)
	}
	if j.Interval < 0 {
		return fmt.Errorf("%w: interval should not be negative", errs.ErrInvalidParam)
	}
	for idx, item := range j.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item[%d]: %w", idx, err)
		}
	}
	return nil
}

// Exhausted 全部消息是否已处理完
func (j *Job) Exhausted() bool {
	return j.Cursor >= len(j.Items)
}

// Current 当前游标指向的消息
func (j *Job) Current() (JobItem, bool) {
	if j.Exhausted() {
		return JobItem{}, false
	}
	return j.Items[j.Cursor], true
}

// Advance 记录当前消息的处理结果并将游标后移一位
func (j *Job) Advance(success bool, lastErr string) {
	if success {
		j.SuccessCount++
	} else {
		j.ErrorCount++
		j.LastError = lastErr
	}
	j.Cursor++
}

// Progress 任务进度（供存储层做 CAS 更新）
type Progress struct {
	JobId        string
	PrevCursor   int
	Cursor       int
	SuccessCount int
	ErrorCount   int
	LastError    string
	Completed    bool
}

func (j *Job) Progress(prevCursor int) Progress {
	return Progress{
		JobId:        j.Id,
		PrevCursor:   prevCursor,
		Cursor:       j.Cursor,
		SuccessCount: j.SuccessCount,
		ErrorCount:   j.ErrorCount,
		LastError:    j.LastError,
		Completed:    j.Exhausted(),
	}
}

type JobEventKind string

const (
	JobEventStarted     JobEventKind = "started"
	JobEventItemSuccess JobEventKind = "item_success"
	JobEventItemFailure JobEventKind = "item_failure"
	JobEventItemSkipped JobEventKind = "item_skipped"
	JobEventBreakerOpen JobEventKind = "breaker_open"
	JobEventHalted      JobEventKind = "halted"
	JobEventCompleted   JobEventKind = "completed"
	JobEventFault       JobEventKind = "fault"
)

// JobEvent 引擎运行事件，保存在有界环形缓冲中
type JobEvent struct {
	JobId   string       `json:"job_id"`
	Kind    JobEventKind `json:"kind"`
	Index   int          `json:"index"`
	Message string       `json:"message,omitempty"`
	At      int64        `json:"at"`
}
