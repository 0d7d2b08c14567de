// Package sync provides the spinlock used to guard kernel structures that are
// shared between environments.
package sync

import (
	"runtime"
	"sync/atomic"
)

var (
	// yieldFn is invoked by a task that failed to acquire a lock after
	// spinning for a while. Tests replace it to observe contention.
	yieldFn = runtime.Gosched
)

// attemptsBeforeYielding is the number of failed acquisition attempts a task
// makes before giving up its time slice.
const attemptsBeforeYielding = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); !atomic.CompareAndSwapUint32(&l.state, 0, 1); attempt++ {
		if attempt%attemptsBeforeYielding == 0 {
			yieldFn()
		}
	}
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
