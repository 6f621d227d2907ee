package kernel

import "errors"

const NPROC = 8

var ErrNoProc = errors.New("no free proc slot")

type procstate int

const (
	UNUSED   procstate = iota // 0
	USED                      // 1
	RUNNABLE                  // 2
)

// Proc is the memory side of a process: enough to fork it, fault on its
// pages and tear it down.
type Proc struct {
	lock Spinlock

	// p.lock must be held when using these:
	state  procstate // Process state
	killed bool      // If true, have been killed
	pid    int       // Process ID

	// p.lock needn't be held since they are private to the process
	pagetable Pagetable // User page table
	sz        uintptr   // Size of process memory (bytes)
	name      string    // Process name (debugging)
}

func (p *Proc) Pid() int             { return p.pid }
func (p *Proc) Pagetable() Pagetable { return p.pagetable }
func (p *Proc) Size() uintptr        { return p.sz }

func (p *Proc) setkilled() {
	p.lock.Acquire()
	p.killed = true
	p.lock.Release()
}

func (p *Proc) Killed() bool {
	p.lock.Acquire()
	k := p.killed
	p.lock.Release()
	return k
}

type ProcTable struct {
	proc    [NPROC]Proc
	pidLock Spinlock
	nextpid int
	vm      *VM
}

// NewProcTable initializes the proc table.
func NewProcTable(vm *VM) *ProcTable {
	pt := &ProcTable{nextpid: 1, vm: vm}
	initlock(&pt.pidLock, "nextpid")
	for i := 0; i < NPROC; i++ {
		p := &pt.proc[i]
		initlock(&p.lock, "proc")
		p.state = UNUSED
	}
	return pt
}

func (pt *ProcTable) allocpid() int {
	pt.pidLock.Acquire()
	pid := pt.nextpid
	pt.nextpid++
	pt.pidLock.Release()
	return pid
}

// Look in the process table for an UNUSED proc. If found, give it a pid
// and an empty user page table.
func (pt *ProcTable) allocproc(name string) (*Proc, error) {
	var p *Proc
	for i := 0; i < NPROC; i++ {
		p = &pt.proc[i]
		p.lock.Acquire()
		if p.state == UNUSED {
			goto found
		}
		p.lock.Release()
	}
	return nil, ErrNoProc

found:
	p.pid = pt.allocpid()
	p.state = USED
	p.killed = false
	p.name = name

	pagetable, err := pt.vm.Uvmcreate()
	if err != nil {
		pt.freeproc(p)
		p.lock.Release()
		return nil, err
	}
	p.pagetable = pagetable

	p.lock.Release()
	return p, nil
}

// free a proc structure and the data hanging from it,
// including user pages.
// p.lock must be held.
func (pt *ProcTable) freeproc(p *Proc) {
	if p.pagetable != 0 {
		pt.vm.Uvmfree(p.pagetable, p.sz)
	}
	p.pagetable = 0
	p.sz = 0
	p.pid = 0
	p.name = ""
	p.killed = false
	p.state = UNUSED
}

// Userinit sets up a process with sz bytes of zeroed, writable memory.
func (pt *ProcTable) Userinit(name string, sz uintptr) (*Proc, error) {
	p, err := pt.allocproc(name)
	if err != nil {
		return nil, err
	}
	newsz, err := pt.vm.Uvmalloc(p.pagetable, 0, sz, PTE_W)
	if err != nil {
		pt.Exit(p)
		return nil, err
	}
	p.sz = newsz

	p.lock.Acquire()
	p.state = RUNNABLE
	p.lock.Release()
	return p, nil
}

// Fork creates a new process sharing the parent's memory copy-on-write.
func (pt *ProcTable) Fork(p *Proc) (*Proc, error) {
	np, err := pt.allocproc(p.name)
	if err != nil {
		return nil, err
	}

	if err := pt.vm.Uvmcopy(p.pagetable, np.pagetable, p.sz); err != nil {
		pt.Exit(np)
		return nil, err
	}
	np.sz = p.sz

	np.lock.Acquire()
	np.state = RUNNABLE
	np.lock.Release()
	return np, nil
}

// Exit tears p down and returns its memory.
func (pt *ProcTable) Exit(p *Proc) {
	p.lock.Acquire()
	pt.freeproc(p)
	p.lock.Release()
}

// Kill marks the process with the given pid as killed.
func (pt *ProcTable) Kill(pid int) bool {
	for i := 0; i < NPROC; i++ {
		p := &pt.proc[i]
		p.lock.Acquire()
		if p.pid == pid && p.state != UNUSED {
			p.killed = true
			p.lock.Release()
			return true
		}
		p.lock.Release()
	}
	return false
}
