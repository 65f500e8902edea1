package ringbuffer

import (
	"sync"

	"github.com/JrMarcco/jremind/internal/errs"
)

// RingBuffer 一个固定大小、线程安全的泛型环形 buffer 实现。
// 写满后新元素覆盖最旧的元素。
type RingBuffer[T any] struct {
	mu sync.RWMutex

	buffer []T

	size     int
	count    int
	writePos int
}

func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count < rb.size {
		rb.count++
	}

	rb.buffer[rb.writePos] = item
	rb.writePos = (rb.writePos + 1) % rb.size
}

// Latest 返回最近的 n 个元素，按写入顺序排列（最新的在最后）。
// n <= 0 或超过已有数量时返回全部。
func (rb *RingBuffer[T]) Latest(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}

	res := make([]T, 0, n)
	start := (rb.writePos - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		res = append(res, rb.buffer[(start+i)%rb.size])
	}
	return res
}

func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := 0; i < rb.size; i++ {
		rb.buffer[i] = zero
	}
	rb.count = 0
	rb.writePos = 0
}

func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

func (rb *RingBuffer[T]) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

func NewRingBuffer[T any](size int) (*RingBuffer[T], error) {
	if size <= 0 {
		return nil, errs.ErrInvalidBufferSize
	}

	return &RingBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}, nil
}
