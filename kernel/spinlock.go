package kernel

import (
	"runtime"
	"sync/atomic"
)

// Mutual exclusion spin locks.
//
// A spinlock guards short in-memory critical sections only. Never block
// (device I/O, sleeplock waits) while holding one.
type Spinlock struct {
	locked atomic.Uint32
	name   string
}

func initlock(lk *Spinlock, name string) {
	lk.locked.Store(0)
	lk.name = name
}

// Acquire spins until the lock is taken.
func (lk *Spinlock) Acquire() {
	for !lk.locked.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// Release drops the lock. Releasing a lock nobody holds is fatal.
func (lk *Spinlock) Release() {
	if lk.locked.Swap(0) != 1 {
		Panic("release %s", lk.name)
	}
}

// Holding reports whether the lock is currently held.
func (lk *Spinlock) Holding() bool {
	return lk.locked.Load() == 1
}

// Lock and Unlock let a spinlock serve as the lock of a sync.Cond, the way
// sleep(chan, lk) hands its spinlock to the scheduler in xv6.
func (lk *Spinlock) Lock()   { lk.Acquire() }
func (lk *Spinlock) Unlock() { lk.Release() }
