// Package sync provides the synchronization primitives used by the memory
// subsystem: a busy-wait spinlock and an interrupt-masking reader/writer
// mutex.
package sync

import (
	"runtime"
	"sync/atomic"
)

var (
	// yieldFn is invoked after a bounded number of failed acquisition
	// attempts to give other tasks a chance to release the lock.
	yieldFn = runtime.Gosched

	// spinAttemptsBeforeYielding defines the number of CAS attempts made
	// before the current task yields.
	spinAttemptsBeforeYielding = uint32(64)
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for {
		for attempt := uint32(0); attempt < spinAttemptsBeforeYielding; attempt++ {
			if atomic.CompareAndSwapUint32(&l.state, 0, 1) {
				return
			}
		}

		yieldFn()
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
