package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition every 100ms until it returns true, failing the
// test after timeout.
//
// Usage:
//
//	testutil.WaitFor(t, 5*time.Second, "notification queue to drain", func() bool {
//	    return queue.Len() == 0
//	})
func WaitFor(t testing.TB, timeout time.Duration, message string, condition func() bool) {
	t.Helper()

	start := time.Now()
	if condition() {
		return
	}

	const interval = 100 * time.Millisecond
	deadline := start.Add(max(timeout, interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 1
	for range ticker.C {
		attempts++
		if condition() {
			t.Logf("Condition met after %v (%d attempts): %s", time.Since(start).Round(time.Millisecond), attempts, message)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s (waited %v, %d attempts)", message, timeout, attempts)
		}
	}
}
