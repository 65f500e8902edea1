package backoff

import (
	"sync"
	"time"
)

// State 退避状态快照
type State struct {
	Attempt              int       `json:"attempt"`
	LastAttemptAt        time.Time `json:"last_attempt_at"`
	NextRetryAt          time.Time `json:"next_retry_at"`
	IsRetrying           bool      `json:"is_retrying"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
}

// Manager 有状态的退避管理器。
//
// 同一时刻最多只有一个待执行的重试，避免重试相互重叠。
type Manager struct {
	mu sync.Mutex

	cfg   Config
	state State
	timer *time.Timer

	// now 便于测试替换
	now func() time.Time
}

// RecordSuccess 成功后重置尝试次数与连续失败计数
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Attempt = 0
	m.state.ConsecutiveFailures = 0
	m.state.ConsecutiveSuccesses++
	m.state.LastAttemptAt = m.now()
}

// RecordFailure 失败后递增尝试次数与连续失败计数
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Attempt++
	m.state.ConsecutiveFailures++
	m.state.ConsecutiveSuccesses = 0
	m.state.LastAttemptAt = m.now()
}

// ShouldRetry 尝试次数未达上限
func (m *Manager) ShouldRetry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Attempt < m.cfg.MaxAttempts
}

// NextDelay 按当前尝试次数计算下一次等待时间
func (m *Manager) NextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextDelay()
}

func (m *Manager) nextDelay() time.Duration {
	attempt := m.state.Attempt - 1
	if attempt < 0 {
		attempt = 0
	}
	return CalculateDelay(attempt, m.cfg)
}

// ScheduleRetry 安排一次延迟执行的重试。
// 已有待执行的重试时直接返回 false，不会重复安排。
func (m *Manager) ScheduleRetry(callback func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		return false
	}

	delay := m.nextDelay()
	m.state.IsRetrying = true
	m.state.NextRetryAt = m.now().Add(delay)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		// CancelRetry 之后重新安排的 timer 不能被旧回调清掉
		if m.timer != timer {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.state.IsRetrying = false
		m.state.NextRetryAt = time.Time{}
		m.mu.Unlock()

		callback()
	})
	m.timer = timer
	return true
}

// CancelRetry 取消待执行的重试
func (m *Manager) CancelRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state.IsRetrying = false
	m.state.NextRetryAt = time.Time{}
}

// TimeUntilRetry 距离待执行重试的剩余时间，没有待执行重试时返回 0
func (m *Manager) TimeUntilRetry() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsRetrying {
		return 0
	}
	remaining := m.state.NextRetryAt.Sub(m.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg: cfg.WithDefaults(),
		now: time.Now,
	}
}
