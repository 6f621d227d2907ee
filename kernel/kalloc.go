package kernel

import "github.com/dustin/go-humanize"

// Physical memory allocator, for user processes,
// page-table pages, and anything else that wants whole pages.
// Allocates whole 4096-byte pages.
//
// Every frame in [start, end) has a reference count. A frame with count
// zero is on the free list and nowhere else.

// Junk written into pages so stale references show up.
const (
	freeJunk  = 1
	allocJunk = 5
)

// a free page holds the address of the next free page in its first
// eight bytes; 0 ends the list.
type Kmem struct {
	lock     Spinlock
	freelist uintptr
	nfree    int

	ref struct {
		lock Spinlock
		cnt  []int32
	}

	mem        *Physmem
	start, end uintptr
}

// NewKmem hands every page in [start, end) to the allocator.
func NewKmem(mem *Physmem, start, end uintptr) *Kmem {
	start = PGROUNDUP(start)
	if start < mem.Base() || end > mem.End() || start >= end {
		Panic("kinit: bad range [%#x, %#x)", start, end)
	}
	k := &Kmem{mem: mem, start: start, end: end}
	initlock(&k.lock, "kmem")
	initlock(&k.ref.lock, "ref")
	k.ref.cnt = make([]int32, (end-start)/PGSIZE)
	Printf("kinit: [%#x, %#x) %s\n", start, end, humanize.IBytes(uint64(end-start)))
	k.freerange(start, end)
	return k
}

func (k *Kmem) freerange(paStart, paEnd uintptr) {
	for p := PGROUNDUP(paStart); p+PGSIZE <= paEnd; p += PGSIZE {
		// Kfree drops one reference; start each raw page at one so it
		// lands on the free list.
		k.ref.lock.Acquire()
		k.ref.cnt[k.pgidx(p)] = 1
		k.ref.lock.Release()
		k.Kfree(p)
	}
}

func (k *Kmem) pgidx(pa uintptr) int {
	return int((pa - k.start) / PGSIZE)
}

func (k *Kmem) checkpa(pa uintptr, who string) {
	if pa%PGSIZE != 0 || pa < k.start || pa >= k.end {
		Panic("%s: bad pa %#x", who, pa)
	}
}

// Refinc adds a reference to an allocated page, e.g. when fork maps the
// same frame into the child.
func (k *Kmem) Refinc(pa uintptr) {
	k.checkpa(pa, "refinc")
	k.ref.lock.Acquire()
	i := k.pgidx(pa)
	if k.ref.cnt[i] < 1 {
		k.ref.lock.Release()
		Panic("refinc: free page %#x", pa)
	}
	k.ref.cnt[i]++
	k.ref.lock.Release()
}

// Refcnt returns the current reference count of pa.
func (k *Kmem) Refcnt(pa uintptr) int {
	k.checkpa(pa, "refcnt")
	k.ref.lock.Acquire()
	defer k.ref.lock.Release()
	return int(k.ref.cnt[k.pgidx(pa)])
}

// Kfree drops a reference to the page of physical memory at pa, which
// normally should have been returned by a call to Kalloc. The page goes
// back on the free list when the last reference is gone.
//
// The refcount lock and the freelist lock are never held together, so
// Kfree and Kalloc cannot deadlock against each other.
func (k *Kmem) Kfree(pa uintptr) {
	k.checkpa(pa, "kfree")

	k.ref.lock.Acquire()
	i := k.pgidx(pa)
	if k.ref.cnt[i] < 1 {
		k.ref.lock.Release()
		Panic("kfree: page %#x already free", pa)
	}
	k.ref.cnt[i]--
	n := k.ref.cnt[i]
	k.ref.lock.Release()
	if n > 0 {
		return
	}

	// Fill with junk to catch dangling refs.
	memset(k.mem.Page(pa), freeJunk)

	k.lock.Acquire()
	k.mem.store64(pa, uint64(k.freelist))
	k.freelist = pa
	k.nfree++
	k.lock.Release()
}

// Kalloc allocates one 4096-byte page of physical memory with a reference
// count of one. ok is false if no memory is left; the caller decides what
// to give up.
func (k *Kmem) Kalloc() (pa uintptr, ok bool) {
	k.lock.Acquire()
	r := k.freelist
	if r != 0 {
		k.freelist = uintptr(k.mem.load64(r))
		k.nfree--
	}
	k.lock.Release()

	if r == 0 {
		return 0, false
	}

	k.ref.lock.Acquire()
	k.ref.cnt[k.pgidx(r)] = 1
	k.ref.lock.Release()

	memset(k.mem.Page(r), allocJunk) // fill with junk
	return r, true
}

// Freemem returns the number of free bytes.
func (k *Kmem) Freemem() uint64 {
	k.lock.Acquire()
	defer k.lock.Release()
	return uint64(k.nfree) * uint64(PGSIZE)
}

// Page returns the contents of the page at pa.
func (k *Kmem) Page(pa uintptr) []byte {
	return k.mem.Page(pa)
}
