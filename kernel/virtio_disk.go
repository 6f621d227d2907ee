package kernel

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tchajed/goose/machine/disk"
)

// Disk driver. Transfers are synchronous: Rw returns once the block is on
// the device (or in b.Data).
//
// The driver keeps a write-through cache of recently moved blocks, the way
// a disk controller keeps a track buffer. The device always holds the
// current contents, so anything the cache drops is just reread.
type Disk struct {
	vdisk sync.Mutex // held across device I/O
	d     disk.Disk
	cache *ristretto.Cache[uint64, []byte]

	cacheHits, devReads, devWrites *xsync.Counter
}

// DiskStats counts transfers that reached the device and reads served
// from the controller cache.
type DiskStats struct {
	CacheHits int64
	Reads     int64
	Writes    int64
}

// NewDisk drives d. cacheBytes bounds the controller cache; zero turns
// it off.
func NewDisk(d disk.Disk, cacheBytes int64) (*Disk, error) {
	if disk.BlockSize != BSIZE {
		return nil, fmt.Errorf("virtio disk: block size %d, kernel wants %d", disk.BlockSize, BSIZE)
	}
	vd := &Disk{
		d:         d,
		cacheHits: xsync.NewCounter(),
		devReads:  xsync.NewCounter(),
		devWrites: xsync.NewCounter(),
	}
	if cacheBytes > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
			NumCounters: max(10*(cacheBytes/BSIZE), 64),
			MaxCost:     cacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("virtio disk: controller cache: %w", err)
		}
		vd.cache = cache
	}
	return vd, nil
}

// OpenDisk opens the disk image at path, creating it with nblocks blocks
// if needed. An empty path gives an in-memory disk.
func OpenDisk(path string, nblocks uint64, cacheBytes int64) (*Disk, error) {
	var d disk.Disk
	if path == "" {
		d = disk.NewMemDisk(nblocks)
	} else {
		fd, err := disk.NewFileDisk(path, nblocks)
		if err != nil {
			return nil, fmt.Errorf("virtio disk: open %s: %w", path, err)
		}
		d = fd
	}
	vd, err := NewDisk(d, cacheBytes)
	if err != nil {
		d.Close()
		return nil, err
	}
	return vd, nil
}

func (vd *Disk) Size() uint64 { return vd.d.Size() }

func (vd *Disk) Rw(b *Buf, write bool) {
	if uint64(b.Blockno) >= vd.d.Size() {
		Panic("virtio_disk_rw: block %d out of range", b.Blockno)
	}

	vd.vdisk.Lock()
	defer vd.vdisk.Unlock()

	// one device backs every dev number, so the block number is the key.
	key := uint64(b.Blockno)
	if write {
		blk := make(disk.Block, BSIZE)
		copy(blk, b.Data[:])
		vd.d.Write(uint64(b.Blockno), blk)
		vd.d.Barrier()
		vd.devWrites.Inc()
		vd.remember(key, blk)
		return
	}

	if vd.cache != nil {
		if blk, ok := vd.cache.Get(key); ok {
			copy(b.Data[:], blk)
			vd.cacheHits.Inc()
			return
		}
	}
	blk := vd.d.Read(uint64(b.Blockno))
	vd.devReads.Inc()
	copy(b.Data[:], blk)
	vd.remember(key, blk)
}

// remember caches blk, a block the caller no longer touches.
func (vd *Disk) remember(key uint64, blk disk.Block) {
	if vd.cache == nil {
		return
	}
	if !vd.cache.Set(key, blk, BSIZE) {
		vd.cache.Del(key)
	}
	vd.cache.Wait()
}

func (vd *Disk) Stats() DiskStats {
	return DiskStats{
		CacheHits: vd.cacheHits.Value(),
		Reads:     vd.devReads.Value(),
		Writes:    vd.devWrites.Value(),
	}
}

func (vd *Disk) Close() {
	vd.vdisk.Lock()
	defer vd.vdisk.Unlock()
	if vd.cache != nil {
		vd.cache.Close()
	}
	vd.d.Close()
}
