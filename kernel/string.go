package kernel

func memset(dst []byte, c byte) {
	for i := range dst {
		dst[i] = c
	}
}

func memmove(dst, src []byte) {
	copy(dst, src)
}
