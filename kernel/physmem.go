package kernel

import (
	"encoding/binary"
	"fmt"
)

// Physmem is the machine's RAM: size bytes starting at physical address
// base. Page frames, page-table pages and the free list all live here.
type Physmem struct {
	base uintptr
	data []byte
}

// NewPhysmem maps size bytes of RAM at base. base must be page aligned and
// non-zero; a zero physical address means "no page" throughout the kernel.
func NewPhysmem(base, size uintptr) (*Physmem, error) {
	if base == 0 || base%PGSIZE != 0 || size%PGSIZE != 0 {
		return nil, fmt.Errorf("physmem: bad range %#x+%#x", base, size)
	}
	data, err := mapram(int(size))
	if err != nil {
		return nil, fmt.Errorf("physmem: map %d bytes: %w", size, err)
	}
	return &Physmem{base: base, data: data}, nil
}

func (m *Physmem) Base() uintptr { return m.base }
func (m *Physmem) End() uintptr  { return m.base + uintptr(len(m.data)) }

// Close releases the backing memory.
func (m *Physmem) Close() error {
	data := m.data
	m.data = nil
	return unmapram(data)
}

func (m *Physmem) slice(pa, n uintptr) []byte {
	if pa < m.base || pa+n > m.End() {
		Panic("physmem: %#x+%d out of range", pa, n)
	}
	off := pa - m.base
	return m.data[off : off+n : off+n]
}

// Page returns the bytes of the page at pa.
func (m *Physmem) Page(pa uintptr) []byte {
	return m.slice(pa, PGSIZE)
}

func (m *Physmem) load64(pa uintptr) uint64 {
	return binary.LittleEndian.Uint64(m.slice(pa, 8))
}

func (m *Physmem) store64(pa uintptr, v uint64) {
	binary.LittleEndian.PutUint64(m.slice(pa, 8), v)
}
