package kernel

const PGSIZE = uintptr(4096) // bytes per page
const PGSHIFT = 12           // bits of offset within a page

// one beyond the highest possible virtual address.
// MAXVA is actually one bit less than the max allowed by
// Sv39, to avoid having to sign-extend virtual addresses
// that have the high bit set.
const MAXVA = uintptr(1) << (9 + 9 + 9 + 12 - 1)

type Pte uint64

const (
	PTE_V Pte = 1 << 0 // Valid
	PTE_R Pte = 1 << 1 // Readable
	PTE_W Pte = 1 << 2 // Writable
	PTE_X Pte = 1 << 3 // Executable
	PTE_U Pte = 1 << 4 // User
	PTE_G Pte = 1 << 5 // Global
	PTE_A Pte = 1 << 6 // Accessed
	PTE_D Pte = 1 << 7 // Dirty
	PTE_C Pte = 1 << 8 // copy-on-write (RSW bit)
)

// Pagetable is the physical address of a root page-table page.
type Pagetable uintptr

func PX(level int, va uintptr) uintptr { return (va >> (PGSHIFT + uintptr(level)*9)) & 0x1FF }
func PTE2PA(pte Pte) uintptr           { return (uintptr(pte) >> 10) << 12 }
func PA2PTE(pa uintptr) Pte            { return Pte((pa >> 12) << 10) }
func PTE_FLAGS(pte Pte) Pte            { return pte & 0x3FF }

func PGROUNDUP(a uintptr) uintptr   { return (a + PGSIZE - 1) &^ (PGSIZE - 1) }
func PGROUNDDOWN(a uintptr) uintptr { return a &^ (PGSIZE - 1) }

// scause values seen by the trap handlers.
const (
	scauseTimer      = uintptr(0x8000000000000005)
	scauseSoftware   = uintptr(0x8000000000000001)
	scauseLoadFault  = uintptr(13)
	scauseStoreFault = uintptr(15)
)
