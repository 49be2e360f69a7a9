package testutil

import (
	"fmt"
	"net"
	"sync"
)

const maxTrackedPorts = 1000

var (
	// recentPorts remembers handed-out ports so rapid callers do not get the
	// same port before the first one is bound.
	recentPorts     = make(map[int]struct{})
	recentPortOrder []int
	recentPortsMu   sync.Mutex
)

// GetFreePort returns a TCP port on localhost that was free when checked.
// It panics if no unused port can be found.
func GetFreePort() int {
	recentPortsMu.Lock()
	defer recentPortsMu.Unlock()

	for attempt := 0; attempt < 100; attempt++ {
		listener, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(fmt.Sprintf("failed to get free port: %v", err))
		}
		port := listener.Addr().(*net.TCPAddr).Port
		listener.Close()

		if _, seen := recentPorts[port]; seen {
			continue
		}
		recentPorts[port] = struct{}{}
		recentPortOrder = append(recentPortOrder, port)
		if len(recentPortOrder) > maxTrackedPorts {
			delete(recentPorts, recentPortOrder[0])
			recentPortOrder = recentPortOrder[1:]
		}
		return port
	}
	panic("failed to get unique free port after 100 attempts")
}

// GetFreeAddress returns "localhost:<port>" for a port from GetFreePort.
func GetFreeAddress() string {
	return fmt.Sprintf("localhost:%d", GetFreePort())
}
