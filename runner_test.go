package m2mencoder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestTaskRunner_RunsInOrder(t *testing.T) {
	r := newTaskRunner("test")
	defer r.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, r.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestTaskRunner_StopFromTask(t *testing.T) {
	r := newTaskRunner("test")

	ran := make(chan struct{}, 2)
	release := make(chan struct{})
	r.Post(func() { <-release })
	r.Post(r.Stop)
	r.Post(func() { ran <- struct{}{} })
	close(release)

	waitClosed(t, r.Done())
	assert.Len(t, ran, 0, "tasks queued behind Stop must be dropped")
	assert.False(t, r.Post(func() {}), "Post after stop must fail")
}

func TestTaskRunner_StopAfterPending(t *testing.T) {
	r := newTaskRunner("test")

	count := 0
	for i := 0; i < 10; i++ {
		r.Post(func() { count++ })
	}
	r.StopAfterPending()
	waitClosed(t, r.Done())
	assert.Equal(t, 10, count)
}

func TestTaskRunner_StopIsIdempotent(t *testing.T) {
	r := newTaskRunner("test")
	r.Stop()
	r.Stop()
	waitClosed(t, r.Done())
}
