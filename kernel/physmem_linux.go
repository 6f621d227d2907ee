//go:build linux

package kernel

import "golang.org/x/sys/unix"

func mapram(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapram(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
