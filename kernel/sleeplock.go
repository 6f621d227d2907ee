package kernel

import (
	"sync"
	"sync/atomic"
)

// Long-term locks for buffers.
//
// A sleeplock may be held across blocking operations. Waiters sleep on a
// condition variable instead of spinning.
type Sleeplock struct {
	locked bool
	lk     Spinlock // protects locked and holder
	cond   *sync.Cond
	name   string
	holder Holder // who holds the lock
}

// Holder names whoever holds a sleeplock, the way xv6 records the pid.
// Goroutines carry no identity of their own, so each goroutine that takes
// sleeplocks gets one from NewHolder and passes it along.
type Holder int64

var nextHolder atomic.Int64

// NewHolder returns a Holder no other caller has. The zero Holder is
// never returned.
func NewHolder() Holder {
	return Holder(nextHolder.Add(1))
}

func initsleeplock(lk *Sleeplock, name string) {
	initlock(&lk.lk, "sleep lock")
	lk.cond = sync.NewCond(&lk.lk)
	lk.locked = false
	lk.name = name
	lk.holder = 0
}

func (lk *Sleeplock) AcquireSleep(h Holder) {
	lk.lk.Acquire()
	for lk.locked {
		lk.cond.Wait()
	}
	lk.locked = true
	lk.holder = h
	lk.lk.Release()
}

func (lk *Sleeplock) ReleaseSleep() {
	lk.lk.Acquire()
	lk.locked = false
	lk.holder = 0
	lk.cond.Broadcast()
	lk.lk.Release()
}

// HoldingSleep reports whether h holds the lock.
func (lk *Sleeplock) HoldingSleep(h Holder) bool {
	lk.lk.Acquire()
	r := lk.locked && lk.holder == h
	lk.lk.Release()
	return r
}
