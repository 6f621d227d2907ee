package kernel

import (
	"context"
	"testing"
	"time"
)

func TestClockintr(t *testing.T) {
	c := NewClock()
	for i := 0; i < 5; i++ {
		c.Clockintr()
	}
	if got := c.Ticks(); got != 5 {
		t.Fatalf("ticks = %d, want 5", got)
	}
}

func TestSleepWakesAfterTicks(t *testing.T) {
	c := NewClock()
	done := make(chan uint64)
	go func() {
		c.Sleep(3)
		done <- c.Ticks()
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-done:
			if got < 3 {
				t.Fatalf("woke at tick %d", got)
			}
			return
		case <-deadline:
			t.Fatal("sleeper never woke")
		case <-time.After(time.Millisecond):
			c.Clockintr()
		}
	}
}

func TestTimerDrivesClock(t *testing.T) {
	k := &Kernel{Clock: NewClock()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.timer(ctx, time.Millisecond)

	k.Clock.Sleep(3)
	if got := k.Clock.Ticks(); got < 3 {
		t.Fatalf("ticks = %d", got)
	}
}
