package testutil

import (
	"sync"
	"testing"
)

var metricsTestMutex sync.Mutex

// LockMetrics serializes tests that assert on the global Prometheus
// collectors in util/metrics. The lock is released when the test ends.
func LockMetrics(t *testing.T) {
	t.Helper()
	metricsTestMutex.Lock()
	t.Cleanup(metricsTestMutex.Unlock)
}
