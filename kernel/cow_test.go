package kernel

import (
	"bytes"
	"errors"
	"testing"
)

// newTestKernel brings up the memory side of a machine with npages of RAM.
func newTestKernel(t *testing.T, npages int) *Kernel {
	t.Helper()
	kmem := newTestKmem(t, npages)
	vm := NewVM(kmem)
	return &Kernel{
		Kmem:  kmem,
		VM:    vm,
		Procs: NewProcTable(vm),
		Clock: NewClock(),
		cow:   vm.cow,
	}
}

// shareFrame maps one frame holding content at va 0 of two fresh page
// tables as a copy-on-write page, the way fork leaves it.
func shareFrame(t *testing.T, vm *VM, content string) (pt1, pt2 Pagetable, f uintptr) {
	t.Helper()
	var err error
	if pt1, err = vm.Uvmcreate(); err != nil {
		t.Fatal(err)
	}
	if pt2, err = vm.Uvmcreate(); err != nil {
		t.Fatal(err)
	}
	f, ok := vm.kmem.Kalloc()
	if !ok {
		t.Fatal("kalloc failed")
	}
	copy(vm.kmem.Page(f), content)

	perm := PTE_R | PTE_U | PTE_C
	if err := vm.Mappages(pt1, 0, PGSIZE, f, perm); err != nil {
		t.Fatal(err)
	}
	if err := vm.Mappages(pt2, 0, PGSIZE, f, perm); err != nil {
		t.Fatal(err)
	}
	vm.kmem.Refinc(f)
	return pt1, pt2, f
}

func TestCowWriteGetsPrivateCopy(t *testing.T) {
	k := newTestKernel(t, 32)
	pt1, pt2, f := shareFrame(t, k.VM, "F's bytes")
	if n := k.Kmem.Refcnt(f); n != 2 {
		t.Fatalf("refcnt = %d, want 2", n)
	}

	if err := k.cow.HandleWrite(pt1, 0x10); err != nil {
		t.Fatalf("HandleWrite: %v", err)
	}

	m1, _ := k.VM.Lookup(pt1, 0)
	if m1.PA == f {
		t.Fatal("writer still maps the shared frame")
	}
	if m1.Flags&PTE_W == 0 || m1.Flags&PTE_C != 0 {
		t.Fatalf("writer flags %#x, want W set and C clear", m1.Flags)
	}
	if !bytes.Equal(k.Kmem.Page(m1.PA), k.Kmem.Page(f)) {
		t.Fatal("private copy differs from the original")
	}

	m2, _ := k.VM.Lookup(pt2, 0)
	if m2.PA != f || m2.Flags&PTE_C == 0 || m2.Flags&PTE_W != 0 {
		t.Fatalf("other sharer changed: pa %#x flags %#x", m2.PA, m2.Flags)
	}
	if n := k.Kmem.Refcnt(f); n != 1 {
		t.Fatalf("refcnt after copy = %d, want 1", n)
	}

	copy(k.Kmem.Page(m1.PA), "new bytes")
	if !bytes.HasPrefix(k.Kmem.Page(f), []byte("F's bytes")) {
		t.Fatal("write through the copy reached the shared frame")
	}
}

func TestCowLastSharerFreesOriginal(t *testing.T) {
	k := newTestKernel(t, 32)
	pt1, pt2, f := shareFrame(t, k.VM, "x")

	for _, pt := range []Pagetable{pt1, pt2} {
		if err := k.cow.HandleWrite(pt, 0); err != nil {
			t.Fatal(err)
		}
	}
	if n := k.Kmem.Refcnt(f); n != 0 {
		t.Fatalf("refcnt = %d, want the original freed", n)
	}
}

func TestCowWritablePageUntouched(t *testing.T) {
	k := newTestKernel(t, 16)
	pt, _ := k.VM.Uvmcreate()
	if _, err := k.VM.Uvmalloc(pt, 0, PGSIZE, PTE_W); err != nil {
		t.Fatal(err)
	}
	before, _ := k.VM.Lookup(pt, 0)
	free := k.Kmem.Freemem()

	if err := k.cow.HandleWrite(pt, 0); err != nil {
		t.Fatalf("HandleWrite: %v", err)
	}
	after, _ := k.VM.Lookup(pt, 0)
	if after != before {
		t.Fatalf("mapping changed from %+v to %+v", before, after)
	}
	if k.Kmem.Freemem() != free {
		t.Fatal("HandleWrite allocated for a non-cow page")
	}
}

func TestCowBadAddress(t *testing.T) {
	k := newTestKernel(t, 16)
	pt, _ := k.VM.Uvmcreate()

	for _, va := range []uintptr{5 * PGSIZE, MAXVA, MAXVA + PGSIZE} {
		if err := k.cow.HandleWrite(pt, va); !errors.Is(err, ErrBadAddr) {
			t.Errorf("HandleWrite(%#x) = %v, want ErrBadAddr", va, err)
		}
	}
}

func TestCowOutOfMemory(t *testing.T) {
	// one root, two interior page-table pages and the frame.
	k := newTestKernel(t, 4)
	pt, _ := k.VM.Uvmcreate()
	f, _ := k.Kmem.Kalloc()
	if err := k.VM.Mappages(pt, 0, PGSIZE, f, PTE_R|PTE_U|PTE_C); err != nil {
		t.Fatal(err)
	}
	if k.Kmem.Freemem() != 0 {
		t.Fatalf("%d bytes left over", k.Kmem.Freemem())
	}

	if err := k.cow.HandleWrite(pt, 0); !errors.Is(err, ErrNoMem) {
		t.Fatalf("HandleWrite = %v, want ErrNoMem", err)
	}
	m, _ := k.VM.Lookup(pt, 0)
	if m.PA != f || m.Flags&PTE_C == 0 || m.Flags&PTE_W != 0 {
		t.Fatalf("mapping changed on failure: %+v", m)
	}
	if n := k.Kmem.Refcnt(f); n != 1 {
		t.Fatalf("refcnt = %d, want 1", n)
	}
}

func TestUsertrapCowFault(t *testing.T) {
	k := newTestKernel(t, 32)
	parent, err := k.Procs.Userinit("init", PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	child, err := k.Procs.Fork(parent)
	if err != nil {
		t.Fatal(err)
	}

	k.Usertrap(child, scauseStoreFault, 0x20)
	if child.Killed() {
		t.Fatal("child killed by a cow fault with memory to spare")
	}
	mc, _ := k.VM.Lookup(child.Pagetable(), 0)
	mp, _ := k.VM.Lookup(parent.Pagetable(), 0)
	if mc.PA == mp.PA || mc.Flags&PTE_W == 0 {
		t.Fatalf("child mapping %+v after fault, parent %+v", mc, mp)
	}
}

// Running out of memory during a cow fault kills the faulting process and
// nothing else.
func TestUsertrapOutOfMemoryKillsOnlyFaulter(t *testing.T) {
	k := newTestKernel(t, 16)
	parent, err := k.Procs.Userinit("init", PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	child, err := k.Procs.Fork(parent)
	if err != nil {
		t.Fatal(err)
	}

	var hog []uintptr
	for {
		pa, ok := k.Kmem.Kalloc()
		if !ok {
			break
		}
		hog = append(hog, pa)
	}

	k.Usertrap(child, scauseStoreFault, 0)
	if !child.Killed() {
		t.Fatal("child survived a cow fault with no memory")
	}
	if parent.Killed() {
		t.Fatal("parent killed by the child's fault")
	}

	for _, pa := range hog {
		k.Kmem.Kfree(pa)
	}
	k.Usertrap(parent, scauseStoreFault, 0)
	if parent.Killed() {
		t.Fatal("parent killed once memory was back")
	}
}

func TestUsertrapUnexpectedKills(t *testing.T) {
	k := newTestKernel(t, 16)
	p, err := k.Procs.Userinit("init", PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	k.Usertrap(p, scauseLoadFault, 0x1234)
	if !p.Killed() {
		t.Fatal("load fault did not kill the process")
	}
}

func TestUsertrapTimer(t *testing.T) {
	k := newTestKernel(t, 16)
	p, err := k.Procs.Userinit("init", 0)
	if err != nil {
		t.Fatal(err)
	}
	k.Usertrap(p, scauseTimer, 0)
	if p.Killed() || k.Clock.Ticks() != 1 {
		t.Fatalf("killed %v ticks %d", p.Killed(), k.Clock.Ticks())
	}
}

func TestKerneltrap(t *testing.T) {
	k := newTestKernel(t, 4)
	k.Kerneltrap(scauseTimer, 0)
	k.Kerneltrap(scauseSoftware, 0)
	if got := k.Clock.Ticks(); got != 2 {
		t.Fatalf("ticks = %d, want 2", got)
	}
	mustHalt(t, func() { k.Kerneltrap(scauseStoreFault, 0x80001000) })
}

// A store to a read-only page that is not copy-on-write cannot be fixed
// up, so the process dies instead of faulting forever.
func TestUsertrapStoreToReadOnlyKills(t *testing.T) {
	k := newTestKernel(t, 16)
	p, err := k.Procs.Userinit("init", 2*PGSIZE)
	if err != nil {
		t.Fatal(err)
	}

	k.Usertrap(p, scauseStoreFault, PGSIZE)
	if p.Killed() {
		t.Fatal("store fault on a writable page killed the process")
	}

	m, _ := k.VM.Lookup(p.Pagetable(), 0)
	if err := k.VM.Map(p.Pagetable(), 0, m.PA, m.Flags&^PTE_W); err != nil {
		t.Fatal(err)
	}
	k.Usertrap(p, scauseStoreFault, 0)
	if !p.Killed() {
		t.Fatal("store fault on a read-only page left the process alive")
	}
}
