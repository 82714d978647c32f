package migrate

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(3)
	q.Put("a")
	q.Put("b")
	q.Put("c")
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.TryGet(context.Background(), time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.True(t, q.IsEmpty())
}

func TestQueue_TryGetTimeout(t *testing.T) {
	q := NewQueue(0)

	start := time.Now()
	_, ok := q.TryGet(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_TryGetWakesOnPut(t *testing.T) {
	q := NewQueue(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Put("late")
	}()

	got, ok := q.TryGet(context.Background(), 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, "late", got)
}

func TestQueue_TryGetCancelled(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.TryGet(ctx, 5*time.Second)
	assert.False(t, ok)
}

func TestQueue_ConcurrentDrain(t *testing.T) {
	const n = 5000
	q := NewQueue(n)
	for i := 0; i < n; i++ {
		q.Put("key:" + strconv.Itoa(i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !q.IsEmpty() {
				k, ok := q.TryGet(context.Background(), time.Millisecond)
				if !ok {
					continue
				}
				mu.Lock()
				seen[k]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for k, c := range seen {
		assert.Equal(t, 1, c, "key %s dequeued %d times", k, c)
	}
}
