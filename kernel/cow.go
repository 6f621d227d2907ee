package kernel

// PageTabler is the page-table capability the copy-on-write handler needs.
type PageTabler interface {
	Lookup(pagetable Pagetable, va uintptr) (Mapping, bool)
	Map(pagetable Pagetable, va, pa uintptr, flags Pte) error
}

// CowHandler resolves write faults on copy-on-write pages.
type CowHandler struct {
	kmem  *Kmem
	pages PageTabler
}

func NewCowHandler(kmem *Kmem, pages PageTabler) *CowHandler {
	return &CowHandler{kmem: kmem, pages: pages}
}

// HandleWrite gives the page containing va a private, writable frame if it
// is a copy-on-write page. Pages without PTE_C are left alone. On ErrNoMem
// the mapping is unchanged and the caller should kill the faulting process.
//
// The mapping's reference to the shared frame is dropped once the new
// frame is in place, so the last sharer to fault frees the original.
func (c *CowHandler) HandleWrite(pagetable Pagetable, va uintptr) error {
	if va >= MAXVA {
		return ErrBadAddr
	}
	va = PGROUNDDOWN(va)
	m, ok := c.pages.Lookup(pagetable, va)
	if !ok {
		return ErrBadAddr
	}
	if m.Flags&PTE_C == 0 {
		return nil
	}

	mem, ok := c.kmem.Kalloc()
	if !ok {
		return ErrNoMem
	}
	memmove(c.kmem.Page(mem), c.kmem.Page(m.PA))
	flags := (m.Flags | PTE_W) &^ PTE_C
	if err := c.pages.Map(pagetable, va, mem, flags); err != nil {
		c.kmem.Kfree(mem)
		return err
	}
	c.kmem.Kfree(m.PA)
	return nil
}
