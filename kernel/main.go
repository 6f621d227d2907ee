package kernel

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Kernel is everything KMain brings up. There is one per machine and it
// lives as long as the machine does.
type Kernel struct {
	Mem    *Physmem
	Kmem   *Kmem
	VM     *VM
	Procs  *ProcTable
	Clock  *Clock
	Disk   *Disk
	Bcache *Bcache
	Log    *Log

	cow  *CowHandler
	stop context.CancelFunc
}

// KMain boots a machine described by cfg. The timer runs until ctx is
// done or Shutdown is called.
func KMain(ctx context.Context, cfg Config) (*Kernel, error) {
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("kmain: tick interval %v", cfg.TickInterval)
	}
	k := &Kernel{}

	Printf("physmem... ")
	mem, err := NewPhysmem(KERNBASE, cfg.PhysStop-KERNBASE)
	if err != nil {
		return nil, err
	}
	k.Mem = mem
	Printf("OK %s\n", humanize.IBytes(uint64(cfg.PhysStop-KERNBASE)))

	Printf("kmeminit... ")
	k.Kmem = NewKmem(mem, cfg.KernelEnd, cfg.PhysStop)
	Printf("OK\n")

	Printf("kvminit...  ")
	k.VM = NewVM(k.Kmem)
	k.cow = k.VM.cow
	Printf("OK\n")

	Printf("procinit...  ")
	k.Procs = NewProcTable(k.VM)
	Printf("OK\n")

	Printf("trapinit...  ")
	k.Clock = NewClock()
	ctx, k.stop = context.WithCancel(ctx)
	go k.timer(ctx, cfg.TickInterval)
	Printf("OK\n")

	Printf("virtio_disk_init...  ")
	k.Disk, err = OpenDisk(cfg.DiskPath, cfg.DiskBlocks, cfg.DiskCacheBytes)
	if err != nil {
		k.Shutdown()
		return nil, err
	}
	Printf("OK %d blocks\n", k.Disk.Size())

	Printf("binit...  ")
	k.Bcache = NewBcache(k.Disk, k.Clock, cfg.NBuf, cfg.NBucket)
	Printf("OK\n")

	if uint64(cfg.LogStart)+uint64(cfg.LogSize) > k.Disk.Size() {
		k.Shutdown()
		return nil, fmt.Errorf("kmain: log [%d, %d) past end of disk", cfg.LogStart, cfg.LogStart+cfg.LogSize)
	}
	if cfg.LogSize < MAXOPBLOCKS+1 {
		k.Shutdown()
		return nil, fmt.Errorf("kmain: log of %d blocks cannot hold one op", cfg.LogSize)
	}
	Printf("initlog...  ")
	k.Log = Initlog(k.Bcache, ROOTDEV, cfg.LogStart, cfg.LogSize)
	Printf("OK\n")

	return k, nil
}

// Shutdown stops the timer and releases the disk and RAM.
func (k *Kernel) Shutdown() error {
	if k.stop != nil {
		k.stop()
	}
	if k.Disk != nil {
		k.Disk.Close()
	}
	if k.Mem != nil {
		return k.Mem.Close()
	}
	return nil
}
