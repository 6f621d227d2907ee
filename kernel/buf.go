package kernel

type Buf struct {
	valid   bool // has data been read from disk?
	Dev     uint32
	Blockno uint32
	lock    Sleeplock
	id      int // slot in Bcache.buf

	// guarded by the lock of the bucket the buffer is linked into
	refcnt    int
	timestamp uint64 // ticks at last use

	Data [BSIZE]byte
}

// bucket list links, indexed like Bcache.buf; the sentinel of bucket i
// is at index len(buf)+i.
type link struct {
	prev, next int
}
