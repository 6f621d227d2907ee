// Boots the kernel core and runs the self tests against it.
// Run: go run ./cmd/xv6 -disk fs.img -ncpu 4
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"sync"

	"github.com/dustin/go-humanize"

	"xv6-kcore/kernel"
)

func main() {
	cfg := kernel.DefaultConfig()
	flag.StringVar(&cfg.DiskPath, "disk", "", "disk image (default: in-memory disk)")
	flag.Uint64Var(&cfg.DiskBlocks, "blocks", cfg.DiskBlocks, "disk size in blocks")
	flag.IntVar(&cfg.NCPU, "ncpu", cfg.NCPU, "harts running the tests")
	flag.IntVar(&cfg.NBuf, "nbuf", cfg.NBuf, "buffers in the block cache")
	flag.IntVar(&cfg.NBucket, "nbucket", cfg.NBucket, "block cache hash buckets")
	flag.Int64Var(&cfg.DiskCacheBytes, "diskcache", cfg.DiskCacheBytes, "controller cache bytes, 0 to disable")
	flag.Parse()

	if cfg.NCPU < 1 || cfg.NCPU > kernel.NCPU {
		log.Fatalf("ncpu must be in [1, %d]", kernel.NCPU)
	}

	k, err := kernel.KMain(context.Background(), cfg)
	if err != nil {
		log.Fatalf("boot: %v", err)
	}
	defer k.Shutdown()

	spinlockTest(cfg.NCPU)
	kallocTest(k)
	cowTest(k)
	bcacheTest(k, cfg.NCPU)
	sleepTest(k)
}

func spinlockTest(ncpu int) {
	kernel.Printf("--- spinlock test ---\n")

	var count struct {
		lock kernel.Spinlock
		num  int
	}
	var wg sync.WaitGroup
	for cpu := 0; cpu < ncpu; cpu++ {
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
	kernel.Printf("Expected Count: %d, Real Count: %d\n", ncpu*1000, count.num)
}

func kallocTest(k *kernel.Kernel) {
	kernel.Printf("--- kalloc test ---\n")

	var pages []uintptr
	for {
		pa, ok := k.Kmem.Kalloc()
		if !ok {
			break
		}
		pages = append(pages, pa)
	}
	kernel.Printf("allocate %s memory\n", humanize.IBytes(uint64(len(pages))*uint64(kernel.PGSIZE)))
	for _, pa := range pages {
		k.Kmem.Kfree(pa)
	}
	kernel.Printf("free %s\n", humanize.IBytes(k.Kmem.Freemem()))
}

// cowTest forks a process, has both sides write to shared memory and
// checks neither sees the other's writes.
func cowTest(k *kernel.Kernel) {
	kernel.Printf("--- cow test ---\n")

	before := k.Kmem.Freemem()
	const sz = 16 * 4096

	parent, err := k.Procs.Userinit("cowtest", sz)
	if err != nil {
		log.Fatalf("cowtest: userinit: %v", err)
	}
	if err := k.VM.Copyout(parent.Pagetable(), 0, bytes.Repeat([]byte{'p'}, sz)); err != nil {
		log.Fatalf("cowtest: copyout: %v", err)
	}

	child, err := k.Procs.Fork(parent)
	if err != nil {
		log.Fatalf("cowtest: fork: %v", err)
	}
	kernel.Printf("fork: free %s\n", humanize.IBytes(k.Kmem.Freemem()))

	// child stores to every other page; the store faults copy them.
	for va := uintptr(0); va < sz; va += 2 * kernel.PGSIZE {
		k.Usertrap(child, 15, va) // store page fault
		if child.Killed() {
			log.Fatalf("cowtest: child killed at %#x", va)
		}
		if err := k.VM.Copyout(child.Pagetable(), va, []byte("child")); err != nil {
			log.Fatalf("cowtest: child copyout: %v", err)
		}
	}

	got := make([]byte, 5)
	for va := uintptr(0); va < sz; va += kernel.PGSIZE {
		if err := k.VM.Copyin(parent.Pagetable(), got, va); err != nil {
			log.Fatalf("cowtest: copyin: %v", err)
		}
		if !bytes.Equal(got, []byte("ppppp")) {
			log.Fatalf("cowtest: parent sees %q at %#x", got, va)
		}
	}

	k.Procs.Exit(child)
	k.Procs.Exit(parent)
	if after := k.Kmem.Freemem(); after != before {
		log.Fatalf("cowtest: lost %d bytes", int64(before)-int64(after))
	}
	kernel.Printf("cowtest: OK\n")
}

// bcacheTest has every hart run logged updates on its own blocks and
// read everyone's blocks back.
func bcacheTest(k *kernel.Kernel, ncpu int) {
	kernel.Printf("--- bcache test ---\n")

	const rounds = 50
	base := uint32(100)
	var wg sync.WaitGroup
	for cpu := 0; cpu < ncpu; cpu++ {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			h := kernel.NewHolder()
			for i := 0; i < rounds; i++ {
				k.Log.BeginOp()
				for j := uint32(0); j < 3; j++ {
					bn := base + uint32(cpu)*3 + j
					b := k.Bcache.Bread(h, kernel.ROOTDEV, bn)
					copy(b.Data[:], fmt.Sprintf("cpu %d round %d", cpu, i))
					k.Log.Write(b)
					k.Bcache.Brelse(h, b)
				}
				k.Log.EndOp(h)

				other := base + uint32((cpu+i)%ncpu)*3
				b := k.Bcache.Bread(h, kernel.ROOTDEV, other+50)
				k.Bcache.Brelse(h, b)
			}
		}(cpu)
	}
	wg.Wait()

	h := kernel.NewHolder()
	for cpu := 0; cpu < ncpu; cpu++ {
		b := k.Bcache.Bread(h, kernel.ROOTDEV, base+uint32(cpu)*3)
		want := fmt.Sprintf("cpu %d round %d", cpu, rounds-1)
		if !bytes.HasPrefix(b.Data[:], []byte(want)) {
			log.Fatalf("bcachetest: block %d: want %q", b.Blockno, want)
		}
		k.Bcache.Brelse(h, b)
	}

	st := k.Bcache.Stats()
	ds := k.Disk.Stats()
	kernel.Printf("bcache: hits %d misses %d steals %d reads %d writes %d\n",
		st.Hits, st.Misses, st.Steals, st.Reads, st.Writes)
	kernel.Printf("disk: reads %d writes %d controller cache hits %d\n",
		ds.Reads, ds.Writes, ds.CacheHits)
}

func sleepTest(k *kernel.Kernel) {
	kernel.Printf("--- sleep test ---\n")
	t0 := k.Clock.Ticks()
	k.Clock.Sleep(5)
	kernel.Printf("slept %d ticks\n", k.Clock.Ticks()-t0)
}
