package kernel

// Physical memory layout
// a go version of memlayout.h

// qemu -machine virt puts RAM at 80000000; the kernel image
// sits at the bottom of it:
//
// 80000000 -- entry.S, then kernel text and data
// end -- start of kernel page allocation area
// PHYSTOP -- end RAM used by the kernel
//
// Here RAM is an arena of bytes (see physmem.go) addressed by the same
// physical addresses, and "end" is Config.KernelEnd.

// the kernel expects there to be RAM
// for use by the kernel and user pages
// from physical address 0x80000000 to PHYSTOP.
const (
	KERNBASE = uintptr(0x80000000)
	PHYSTOP  = KERNBASE + 128*1024*1024
)

// User memory layout.
// Address zero first:
//   text
//   original data and bss
//   fixed-size stack
//   expandable heap
//   ...
//   TRAPFRAME
//   TRAMPOLINE
const TRAMPOLINE = MAXVA - PGSIZE
const TRAPFRAME = TRAMPOLINE - PGSIZE
