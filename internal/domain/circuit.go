package domain

type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)

func (s CircuitStatus) String() string {
	return string(s)
}

// CircuitState 熔断器状态领域对象。
//
// 进入 closed 时 FailureCount 归零；只有 closed 或 half_open 可以转为 open。
type CircuitState struct {
	Name             string        `json:"name"`
	Status           CircuitStatus `json:"status"`
	FailureCount     int           `json:"failure_count"`
	SuccessCount     int           `json:"success_count"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	LastFailureAt    int64         `json:"last_failure_at"`
	LastError        string        `json:"last_error"`
	UpdatedAt        int64         `json:"updated_at"`
}

// CircuitSnapshot 熔断器对外只读视图
type CircuitSnapshot struct {
	State       CircuitState `json:"state"`
	QueueLength int64        `json:"queue_length"`
	// RetryAfterMillis open 状态下距离进入 half_open 的剩余时间
	RetryAfterMillis int64 `json:"retry_after_millis"`
}

// QueueReport 一次队列重投的结果
type QueueReport struct {
	Delivered int  `json:"delivered"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Remaining int  `json:"remaining"`
	Stopped   bool `json:"stopped"`
}
