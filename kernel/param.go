package kernel

import "time"

const (
	NCPU        = 8               // maximum number of CPUs
	MAXOPBLOCKS = 10              // max # of blocks any FS op writes
	LOGSIZE     = MAXOPBLOCKS * 3 // max data blocks in on-disk log
	NBUF        = MAXOPBLOCKS * 3 // size of disk block cache
	NBUCKET     = 13              // buffer cache hash buckets
	BSIZE       = 4096            // block size, same as disk.BlockSize
	ROOTDEV     = 1               // device number of file system root disk
)

// Config holds the values fixed at boot.
type Config struct {
	NCPU      int     // harts running workloads (cmd/xv6)
	NBuf      int     // buffers in the block cache
	NBucket   int     // hash buckets in the block cache
	PhysStop  uintptr // end of RAM; RAM starts at KERNBASE
	KernelEnd uintptr // first address after the kernel image

	DiskPath       string // disk image; empty means an in-memory disk
	DiskBlocks     uint64 // disk size in blocks
	DiskCacheBytes int64  // device-side block cache; 0 disables it

	LogStart uint32 // first block of the log (the header)
	LogSize  uint32 // header plus data blocks

	TickInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		NCPU:           3,
		NBuf:           NBUF,
		NBucket:        NBUCKET,
		PhysStop:       PHYSTOP,
		KernelEnd:      KERNBASE + 4*1024*1024,
		DiskBlocks:     2000,
		DiskCacheBytes: 1 << 20,
		LogStart:       2,
		LogSize:        LOGSIZE + 1,
		TickInterval:   10 * time.Millisecond,
	}
}
