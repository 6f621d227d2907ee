package kernel

import (
	"context"
	"time"
)

// timer raises a timer interrupt every interval until ctx is done. It
// plays the part of the CLINT.
func (k *Kernel) timer(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			k.Kerneltrap(scauseTimer, 0)
		}
	}
}

// devintr handles device interrupts. Returns false if scause is not one.
func (k *Kernel) devintr(scause uintptr) bool {
	if scause == scauseTimer || scause == scauseSoftware {
		k.Clock.Clockintr()
		return true
	}
	return false
}

// Kerneltrap handles interrupts and exceptions taken in the kernel.
func (k *Kernel) Kerneltrap(scause, sepc uintptr) {
	if !k.devintr(scause) {
		Panic("kerneltrap: scause %#x sepc %#x", scause, sepc)
	}
}

// Usertrap handles an exception or interrupt from user space on behalf of
// p. A store fault on a copy-on-write page gets the page copied; any other
// fault, or running out of memory while copying, kills p and nothing else.
func (k *Kernel) Usertrap(p *Proc, scause, stval uintptr) {
	switch {
	case k.devintr(scause):
	case scause == scauseStoreFault:
		if err := k.cow.HandleWrite(p.pagetable, stval); err != nil {
			Printf("usertrap(): cow fault pid=%d va=%#x: %v\n", p.pid, stval, err)
			p.setkilled()
			return
		}
		// the store would fault again on a page that is still not a
		// writable user page.
		if m, ok := k.VM.Lookup(p.pagetable, stval); !ok || m.Flags&(PTE_W|PTE_U) != PTE_W|PTE_U {
			Printf("usertrap(): store to read-only page pid=%d va=%#x\n", p.pid, stval)
			p.setkilled()
		}
	default:
		Printf("usertrap(): unexpected scause %#x pid=%d\n", scause, p.pid)
		Printf("            stval=%#x\n", stval)
		p.setkilled()
	}
}
