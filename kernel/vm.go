package kernel

import "errors"

var (
	ErrNoMem   = errors.New("out of memory")
	ErrBadAddr = errors.New("bad address")
)

// VM manages Sv39 page tables whose pages come from kmem.
type VM struct {
	kmem *Kmem
	cow  *CowHandler
}

func NewVM(kmem *Kmem) *VM {
	vm := &VM{kmem: kmem}
	vm.cow = NewCowHandler(kmem, vm)
	return vm
}

func (vm *VM) pte(ptep uintptr) Pte {
	return Pte(vm.kmem.mem.load64(ptep))
}

func (vm *VM) setpte(ptep uintptr, pte Pte) {
	vm.kmem.mem.store64(ptep, uint64(pte))
}

// Walk returns the address of the PTE in pagetable that corresponds to
// virtual address va. If alloc is set, create any required page-table
// pages. Returns 0 if the PTE is absent and cannot be created.
//
// The risc-v Sv39 scheme has three levels of page-table
// pages. A page-table page contains 512 64-bit PTEs.
// A 64-bit virtual address is split into five fields:
//
//	39..63 -- must be zero.
//	30..38 -- 9 bits of level-2 index.
//	21..29 -- 9 bits of level-1 index.
//	12..20 -- 9 bits of level-0 index.
//	 0..11 -- 12 bits of byte offset within the page.
func (vm *VM) Walk(pagetable Pagetable, va uintptr, alloc bool) uintptr {
	if va >= MAXVA {
		Panic("walk")
	}

	for level := 2; level > 0; level-- {
		ptep := uintptr(pagetable) + PX(level, va)*8
		pte := vm.pte(ptep)

		if pte&PTE_V != 0 {
			pagetable = Pagetable(PTE2PA(pte))
		} else {
			if !alloc {
				return 0
			}

			newPage, ok := vm.kmem.Kalloc()
			if !ok {
				return 0
			}

			memset(vm.kmem.Page(newPage), 0)

			vm.setpte(ptep, PA2PTE(newPage)|PTE_V)
			pagetable = Pagetable(newPage)
		}
	}

	return uintptr(pagetable) + PX(0, va)*8
}

// Walkaddr looks up a user virtual address and returns the physical
// address it maps to.
func (vm *VM) Walkaddr(pagetable Pagetable, va uintptr) (uintptr, bool) {
	if va >= MAXVA {
		return 0, false
	}
	ptep := vm.Walk(pagetable, va, false)
	if ptep == 0 {
		return 0, false
	}
	pte := vm.pte(ptep)
	if pte&PTE_V == 0 || pte&PTE_U == 0 {
		return 0, false
	}
	return PTE2PA(pte), true
}

// Mapping is what a leaf PTE says about one page.
type Mapping struct {
	PA    uintptr
	Flags Pte
}

// Lookup returns the leaf mapping of the page containing va.
func (vm *VM) Lookup(pagetable Pagetable, va uintptr) (Mapping, bool) {
	if va >= MAXVA {
		return Mapping{}, false
	}
	ptep := vm.Walk(pagetable, PGROUNDDOWN(va), false)
	if ptep == 0 {
		return Mapping{}, false
	}
	pte := vm.pte(ptep)
	if pte&PTE_V == 0 {
		return Mapping{}, false
	}
	return Mapping{PA: PTE2PA(pte), Flags: PTE_FLAGS(pte)}, true
}

// Map points the page containing va at pa, replacing any existing leaf.
func (vm *VM) Map(pagetable Pagetable, va, pa uintptr, flags Pte) error {
	ptep := vm.Walk(pagetable, PGROUNDDOWN(va), true)
	if ptep == 0 {
		return ErrNoMem
	}
	vm.setpte(ptep, PA2PTE(pa)|PTE_FLAGS(flags)|PTE_V)
	return nil
}

// Mappages creates PTEs for virtual addresses starting at va that refer to
// physical addresses starting at pa. va and size might not be page-aligned.
func (vm *VM) Mappages(pagetable Pagetable, va, size, pa uintptr, perm Pte) error {
	if size == 0 {
		Panic("mappages: size")
	}

	a := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + size - 1)
	for {
		ptep := vm.Walk(pagetable, a, true)
		if ptep == 0 {
			return ErrNoMem
		}
		if vm.pte(ptep)&PTE_V != 0 {
			Panic("mappages: remap")
		}
		vm.setpte(ptep, PA2PTE(pa)|perm|PTE_V)
		if a == last {
			break
		}
		a += PGSIZE
		pa += PGSIZE
	}
	return nil
}

// Uvmunmap removes npages of mappings starting from va. va must be page
// aligned and the mappings must exist. Optionally drop the references to
// the physical pages.
func (vm *VM) Uvmunmap(pagetable Pagetable, va, npages uintptr, doFree bool) {
	if va%PGSIZE != 0 {
		Panic("uvmunmap: not aligned")
	}

	for a := va; a < va+npages*PGSIZE; a += PGSIZE {
		ptep := vm.Walk(pagetable, a, false)
		if ptep == 0 {
			Panic("uvmunmap: walk")
		}
		pte := vm.pte(ptep)
		if pte&PTE_V == 0 {
			Panic("uvmunmap: not mapped")
		}
		if PTE_FLAGS(pte) == PTE_V {
			Panic("uvmunmap: not a leaf")
		}
		if doFree {
			vm.kmem.Kfree(PTE2PA(pte))
		}
		vm.setpte(ptep, 0)
	}
}

// Uvmcreate returns an empty user page table.
func (vm *VM) Uvmcreate() (Pagetable, error) {
	pa, ok := vm.kmem.Kalloc()
	if !ok {
		return 0, ErrNoMem
	}
	memset(vm.kmem.Page(pa), 0)
	return Pagetable(pa), nil
}

// Uvmalloc allocates PTEs and physical memory to grow a process from
// oldsz to newsz, which need not be page aligned. Returns the new size.
func (vm *VM) Uvmalloc(pagetable Pagetable, oldsz, newsz uintptr, xperm Pte) (uintptr, error) {
	if newsz < oldsz {
		return oldsz, nil
	}
	if newsz > TRAPFRAME {
		return 0, ErrBadAddr
	}

	oldsz = PGROUNDUP(oldsz)
	for a := oldsz; a < newsz; a += PGSIZE {
		mem, ok := vm.kmem.Kalloc()
		if !ok {
			vm.Uvmdealloc(pagetable, a, oldsz)
			return 0, ErrNoMem
		}
		memset(vm.kmem.Page(mem), 0)
		if err := vm.Mappages(pagetable, a, PGSIZE, mem, PTE_R|PTE_U|xperm); err != nil {
			vm.kmem.Kfree(mem)
			vm.Uvmdealloc(pagetable, a, oldsz)
			return 0, err
		}
	}
	return newsz, nil
}

// Uvmdealloc shrinks a process from oldsz to newsz. Returns the new size.
func (vm *VM) Uvmdealloc(pagetable Pagetable, oldsz, newsz uintptr) uintptr {
	if newsz >= oldsz {
		return oldsz
	}

	if PGROUNDUP(newsz) < PGROUNDUP(oldsz) {
		npages := (PGROUNDUP(oldsz) - PGROUNDUP(newsz)) / PGSIZE
		vm.Uvmunmap(pagetable, PGROUNDUP(newsz), npages, true)
	}

	return newsz
}

// Recursively free page-table pages.
// All leaf mappings must already have been removed.
func (vm *VM) freewalk(pagetable Pagetable) {
	// there are 2^9 = 512 PTEs in a page table.
	for i := uintptr(0); i < 512; i++ {
		ptep := uintptr(pagetable) + i*8
		pte := vm.pte(ptep)
		if pte&PTE_V != 0 && pte&(PTE_R|PTE_W|PTE_X) == 0 {
			// this PTE points to a lower-level page table.
			vm.freewalk(Pagetable(PTE2PA(pte)))
			vm.setpte(ptep, 0)
		} else if pte&PTE_V != 0 {
			Panic("freewalk: leaf")
		}
	}
	vm.kmem.Kfree(uintptr(pagetable))
}

// Uvmfree drops the references to user memory pages, then frees the
// page-table pages.
func (vm *VM) Uvmfree(pagetable Pagetable, sz uintptr) {
	if sz > 0 {
		vm.Uvmunmap(pagetable, 0, PGROUNDUP(sz)/PGSIZE, true)
	}
	vm.freewalk(pagetable)
}

// Uvmcopy gives a child the parent's memory without copying it. Writable
// pages become read-only copy-on-write pages in both page tables and each
// shared frame gains a reference. A write fault later gives the writer its
// own copy (see CowHandler).
func (vm *VM) Uvmcopy(old, new Pagetable, sz uintptr) error {
	for i := uintptr(0); i < sz; i += PGSIZE {
		ptep := vm.Walk(old, i, false)
		if ptep == 0 {
			Panic("uvmcopy: pte should exist")
		}
		pte := vm.pte(ptep)
		if pte&PTE_V == 0 {
			Panic("uvmcopy: page not present")
		}
		pa := PTE2PA(pte)
		flags := PTE_FLAGS(pte)
		if flags&PTE_W != 0 {
			flags = (flags &^ PTE_W) | PTE_C
			vm.setpte(ptep, PA2PTE(pa)|flags)
		}
		if err := vm.Mappages(new, i, PGSIZE, pa, flags); err != nil {
			vm.Uvmunmap(new, 0, i/PGSIZE, true)
			return err
		}
		vm.kmem.Refinc(pa)
	}
	return nil
}

// Copyout copies src to virtual address dstva in a given page table,
// breaking copy-on-write sharing of every page it touches.
func (vm *VM) Copyout(pagetable Pagetable, dstva uintptr, src []byte) error {
	for len(src) > 0 {
		va0 := PGROUNDDOWN(dstva)
		if va0 >= MAXVA {
			return ErrBadAddr
		}
		if err := vm.cow.HandleWrite(pagetable, va0); err != nil {
			return err
		}
		m, ok := vm.Lookup(pagetable, va0)
		if !ok || m.Flags&PTE_U == 0 || m.Flags&PTE_W == 0 {
			return ErrBadAddr
		}
		n := PGSIZE - (dstva - va0)
		if n > uintptr(len(src)) {
			n = uintptr(len(src))
		}
		memmove(vm.kmem.Page(m.PA)[dstva-va0:], src[:n])

		src = src[n:]
		dstva = va0 + PGSIZE
	}
	return nil
}

// Copyin copies len(dst) bytes from virtual address srcva.
func (vm *VM) Copyin(pagetable Pagetable, dst []byte, srcva uintptr) error {
	for len(dst) > 0 {
		va0 := PGROUNDDOWN(srcva)
		pa0, ok := vm.Walkaddr(pagetable, va0)
		if !ok {
			return ErrBadAddr
		}
		n := PGSIZE - (srcva - va0)
		if n > uintptr(len(dst)) {
			n = uintptr(len(dst))
		}
		memmove(dst[:n], vm.kmem.Page(pa0)[srcva-va0:])

		dst = dst[n:]
		srcva = va0 + PGSIZE
	}
	return nil
}
