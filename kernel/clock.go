package kernel

import "sync"

// Clock counts timer interrupts. Its value is the kernel's notion of
// time; the buffer cache stamps buffers with it.
type Clock struct {
	tickslock Spinlock
	ticks     uint64
	wake      *sync.Cond
}

func NewClock() *Clock {
	c := &Clock{}
	initlock(&c.tickslock, "time")
	c.wake = sync.NewCond(&c.tickslock)
	return c
}

// Clockintr advances time by one tick and wakes sleepers.
func (c *Clock) Clockintr() {
	c.tickslock.Acquire()
	c.ticks++
	c.wake.Broadcast()
	c.tickslock.Release()
}

func (c *Clock) Ticks() uint64 {
	c.tickslock.Acquire()
	t := c.ticks
	c.tickslock.Release()
	return t
}

// Sleep blocks until n ticks have passed.
func (c *Clock) Sleep(n uint64) {
	c.tickslock.Acquire()
	ticks0 := c.ticks
	for c.ticks-ticks0 < n {
		c.wake.Wait()
	}
	c.tickslock.Release()
}
