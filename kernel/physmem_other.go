//go:build !linux

package kernel

func mapram(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapram(b []byte) error {
	return nil
}
