// Package futex blocks goroutines on 32-bit words that may live in memory
// shared with another process. On Linux waits are futex syscalls without
// the private flag, so a wake from either process reaches the waiter. On
// other platforms Wait degrades to a bounded sleep-poll.
//
// Every wait is bounded: callers pass the poll interval as the timeout and
// re-check their own condition, cancellation, and teardown flags after each
// return. Spurious returns are allowed.
package futex

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultPollInterval bounds a single wait. Shorter intervals notice
// shutdown and peer activity sooner at the cost of more wake-ups when idle.
const DefaultPollInterval = time.Millisecond

// Until blocks until ready reports true. seq is the word a peer bumps (and
// wakes) after changing the state ready inspects. Between waits Until
// returns ctx.Err() once ctx is done and the first non-nil error from alive,
// if alive is set.
func Until(ctx context.Context, seq *uint32, interval time.Duration, ready func() bool, alive func() error) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		if ready() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if alive != nil {
			if err := alive(); err != nil {
				return err
			}
		}
		s := atomic.LoadUint32(seq)
		// The peer bumps seq after publishing, so a change between this
		// re-check and the wait makes Wait return immediately.
		if ready() {
			return nil
		}
		if err := Wait(seq, s, interval); err != nil {
			return err
		}
	}
}

// Signal bumps seq and wakes every waiter on it.
func Signal(seq *uint32) {
	atomic.AddUint32(seq, 1)
	Wake(seq)
}
