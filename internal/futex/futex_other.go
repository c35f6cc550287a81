//go:build !linux

package futex

import (
	"sync/atomic"
	"time"
)

// Wait sleeps for timeout unless *addr already differs from val.
func Wait(addr *uint32, val uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	time.Sleep(timeout)
	return nil
}

// Wake is a no-op; waiters observe changes on their next poll.
func Wake(addr *uint32) {}
