package kernel

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSpinlockCount(t *testing.T) {
	var count struct {
		lock Spinlock
		num  int
	}
	initlock(&count.lock, "count")

	var wg sync.WaitGroup
	for cpu := 0; cpu < NCPU; cpu++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				count.lock.Acquire()
				count.num++
				count.lock.Release()
			}
		}()
	}
	wg.Wait()

	if count.num != NCPU*1000 {
		t.Fatalf("count = %d, want %d", count.num, NCPU*1000)
	}
	if count.lock.Holding() {
		t.Fatal("lock still held")
	}
}

func TestReleaseUnheldHalts(t *testing.T) {
	var lk Spinlock
	initlock(&lk, "idle")
	msg := mustHalt(t, lk.Release)
	if msg != "release idle" {
		t.Fatalf("halt message %q", msg)
	}
}

func TestSleeplockExclusive(t *testing.T) {
	var lk Sleeplock
	initsleeplock(&lk, "test")

	var inside atomic.Int32
	var wg sync.WaitGroup
	for cpu := 0; cpu < NCPU; cpu++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := NewHolder()
			for i := 0; i < 200; i++ {
				lk.AcquireSleep(h)
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d holders", n)
				}
				inside.Add(-1)
				lk.ReleaseSleep()
			}
		}()
	}
	wg.Wait()

	if lk.locked {
		t.Fatal("sleeplock still held")
	}
}

func TestSleeplockWaiterWakes(t *testing.T) {
	var lk Sleeplock
	initsleeplock(&lk, "test")
	first, second := NewHolder(), NewHolder()
	lk.AcquireSleep(first)

	got := make(chan struct{})
	go func() {
		lk.AcquireSleep(second)
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("second holder got in")
	default:
	}
	lk.ReleaseSleep()
	<-got
	if !lk.HoldingSleep(second) {
		t.Fatal("waiter does not hold the lock")
	}
	if lk.HoldingSleep(first) {
		t.Fatal("previous holder still counts as holding")
	}
}
