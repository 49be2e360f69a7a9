package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestLockMetrics_Exclusive(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0

	t.Run("group", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			t.Run("worker", func(t *testing.T) {
				t.Parallel()
				LockMetrics(t)
				mu.Lock()
				active++
				maxActive = max(maxActive, active)
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			})
		}
	})

	if maxActive != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxActive)
	}
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	WaitFor(t, 2*time.Second, "clock to advance", func() bool {
		return time.Since(start) > 150*time.Millisecond
	})
	WaitFor(t, time.Second, "immediate condition", func() bool { return true })
}
