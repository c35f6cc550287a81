package layout

import (
	"runtime"
	"sync/atomic"
	"time"
)

// SpinLock is a mutual-exclusion lock whose state is a single 32-bit word,
// so it can live inside a shared mapping and be taken from either process.
// A sync.Mutex cannot be placed in shared memory.
type SpinLock struct {
	word *uint32
}

// NewSpinLock returns a lock backed by the word at off in r.
func NewSpinLock(r Region, off int) SpinLock {
	return SpinLock{word: r.Word(off)}
}

const spinBeforeSleep = 128

// Lock spins briefly, yielding to the scheduler, then falls back to short
// sleeps until the word can be moved from 0 to 1.
func (l SpinLock) Lock() {
	for i := 0; ; i++ {
		if atomic.CompareAndSwapUint32(l.word, 0, 1) {
			return
		}
		if i < spinBeforeSleep {
			runtime.Gosched()
			continue
		}
		time.Sleep(20 * time.Microsecond)
	}
}

// TryLock acquires the lock if it is free.
func (l SpinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32(l.word, 0, 1)
}

// Unlock releases the lock.
func (l SpinLock) Unlock() {
	atomic.StoreUint32(l.word, 0)
}
