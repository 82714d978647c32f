package migrate

import (
	"context"
	"sync"
	"time"
)

// Queue is the FIFO of pending keys shared by the workers. One mutex
// guards every operation. The orchestrator fills it completely before any
// worker starts, so IsEmpty is a reliable termination signal.
type Queue struct {
	mu     sync.Mutex
	items  []string
	head   int
	notify chan struct{}
}

// NewQueue creates an empty queue sized for capacity keys.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:  make([]string, 0, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Put appends key and wakes one waiting consumer.
func (q *Queue) Put(key string) {
	q.mu.Lock()
	q.items = append(q.items, key)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryGet removes the oldest key, waiting up to timeout for one to arrive.
// It returns false on timeout or when ctx is done.
func (q *Queue) TryGet(ctx context.Context, timeout time.Duration) (string, bool) {
	if key, ok := q.pop(); ok {
		return key, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if key, ok := q.pop(); ok {
				return key, true
			}
		case <-timer.C:
			return q.pop()
		case <-ctx.Done():
			return "", false
		}
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return "", false
	}
	key := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return key, true
}

// IsEmpty reports whether no keys are left.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of keys left.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
