package kernel

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PhysStop = KERNBASE + 8*1024*1024
	cfg.KernelEnd = KERNBASE + 1024*1024
	cfg.DiskBlocks = 128
	cfg.TickInterval = time.Millisecond
	return cfg
}

func TestKMain(t *testing.T) {
	k, err := KMain(context.Background(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer k.Shutdown()

	if want := uint64(7 * 1024 * 1024); k.Kmem.Freemem() != want {
		t.Fatalf("free = %d, want %d", k.Kmem.Freemem(), want)
	}

	p, err := k.Procs.Userinit("init", 2*PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Procs.Fork(p); err != nil {
		t.Fatal(err)
	}

	h := NewHolder()
	k.Log.BeginOp()
	b := k.Bcache.Bread(h, ROOTDEV, 100)
	copy(b.Data[:], "booted")
	k.Log.Write(b)
	k.Bcache.Brelse(h, b)
	k.Log.EndOp(h)

	// the timer is running.
	k.Clock.Sleep(2)
}

func TestKMainBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 0
	if _, err := KMain(context.Background(), cfg); err == nil {
		t.Fatal("booted with no tick interval")
	}

	cfg = testConfig()
	cfg.LogSize = MAXOPBLOCKS
	if _, err := KMain(context.Background(), cfg); err == nil {
		t.Fatal("booted with a log too short for one op")
	}

	cfg = testConfig()
	cfg.LogStart = uint32(cfg.DiskBlocks)
	if _, err := KMain(context.Background(), cfg); err == nil {
		t.Fatal("booted with the log past the end of the disk")
	}
}
