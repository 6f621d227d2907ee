package kernel

import "github.com/puzpuzpuz/xsync/v3"

// Buffer cache.
//
// The buffer cache is a fixed set of Buf structures holding cached copies
// of disk block contents. Caching disk blocks in memory reduces the number
// of disk reads and also provides a synchronization point for disk blocks
// used by multiple processes.
//
// Buffers are spread over hash buckets keyed by block number. Each bucket
// has its own spinlock guarding list membership, refcnt and timestamp, so
// lookups of blocks in different buckets never contend. Misses are another
// matter: every eviction scan runs under the one evict lock, so misses
// homed in different buckets still wait for each other while they look for
// a buffer to recycle.
//
// Interface:
// * To get a buffer for a particular disk block, call Bread.
// * After changing buffer data, call Bwrite to write it to disk.
// * When done with the buffer, call Brelse.
// * Do not use the buffer after calling Brelse.
// * Only one process at a time can use a buffer,
//     so do not keep them longer than necessary.
// * Bread, Bwrite and Brelse name the caller with a Holder; using a
//     buffer another holder has locked halts the kernel.

// Device is the block storage the cache sits on. Rw blocks until the
// transfer of b.Data to or from block b.Blockno is done.
type Device interface {
	Rw(b *Buf, write bool)
}

type bucket struct {
	lock Spinlock
	head int // sentinel index in Bcache.link
}

type Bcache struct {
	buf     []Buf
	link    []link
	buckets []bucket

	// serializes eviction scans; taken before any bucket lock
	evict Spinlock

	clock *Clock
	disk  Device

	hits, misses, steals, reads, writes *xsync.Counter
}

// BcacheStats counts what the cache has done since boot.
type BcacheStats struct {
	Hits   int64 // bget found the block cached
	Misses int64 // bget recycled a buffer
	Steals int64 // recycled buffer came from another bucket
	Reads  int64 // blocks read from the device
	Writes int64 // blocks written to the device
}

// NewBcache builds a cache of nbuf buffers over nbucket buckets. All
// buffers start out unused in bucket 0.
func NewBcache(disk Device, clock *Clock, nbuf, nbucket int) *Bcache {
	if nbuf < 1 || nbucket < 1 {
		Panic("binit: %d bufs, %d buckets", nbuf, nbucket)
	}
	bc := &Bcache{
		buf:     make([]Buf, nbuf),
		link:    make([]link, nbuf+nbucket),
		buckets: make([]bucket, nbucket),
		clock:   clock,
		disk:    disk,
		hits:    xsync.NewCounter(),
		misses:  xsync.NewCounter(),
		steals:  xsync.NewCounter(),
		reads:   xsync.NewCounter(),
		writes:  xsync.NewCounter(),
	}
	initlock(&bc.evict, "bcache.evict")
	for i := range bc.buckets {
		initlock(&bc.buckets[i].lock, "bcache.bucket")
		h := nbuf + i
		bc.buckets[i].head = h
		bc.link[h] = link{prev: h, next: h}
	}
	for i := range bc.buf {
		b := &bc.buf[i]
		b.id = i
		initsleeplock(&b.lock, "buffer")
		bc.pushFront(0, i)
	}
	return bc
}

func (bc *Bcache) hash(blockno uint32) int {
	return int(blockno % uint32(len(bc.buckets)))
}

// list helpers; the caller holds the lock of the bucket involved.

func (bc *Bcache) pushFront(id, i int) {
	h := bc.buckets[id].head
	bc.link[i] = link{prev: h, next: bc.link[h].next}
	bc.link[bc.link[h].next].prev = i
	bc.link[h].next = i
}

func (bc *Bcache) unlink(i int) {
	l := bc.link[i]
	bc.link[l.next].prev = l.prev
	bc.link[l.prev].next = l.next
}

// lookup returns the buffer caching (dev, blockno) in bucket id.
func (bc *Bcache) lookup(id int, dev, blockno uint32) *Buf {
	h := bc.buckets[id].head
	for i := bc.link[h].next; i != h; i = bc.link[i].next {
		b := &bc.buf[i]
		if b.Dev == dev && b.Blockno == blockno {
			return b
		}
	}
	return nil
}

// oldest returns the unreferenced buffer in bucket id with the smallest
// timestamp, or nil if every buffer there is in use.
func (bc *Bcache) oldest(id int) *Buf {
	var b *Buf
	h := bc.buckets[id].head
	for i := bc.link[h].next; i != h; i = bc.link[i].next {
		tmp := &bc.buf[i]
		if tmp.refcnt == 0 && (b == nil || b.timestamp > tmp.timestamp) {
			b = tmp
		}
	}
	return b
}

// Look through buffer cache for block on device dev.
// If not found, allocate a buffer.
// In either case, return buffer locked by h.
func (bc *Bcache) bget(h Holder, dev, blockno uint32) *Buf {
	id := bc.hash(blockno)
	home := &bc.buckets[id]

	home.lock.Acquire()
	if b := bc.lookup(id, dev, blockno); b != nil {
		bc.hit(h, home, b)
		return b
	}
	home.lock.Release()

	// Not cached. One eviction scan at a time: a scan holds its home
	// bucket while it visits the others, and two scans doing that in
	// opposite directions would wait on each other forever.
	bc.evict.Acquire()
	home.lock.Acquire()

	// Someone may have brought the block in while home was unlocked.
	if b := bc.lookup(id, dev, blockno); b != nil {
		bc.evict.Release()
		bc.hit(h, home, b)
		return b
	}

	// Recycle the least recently used unused buffer of the first bucket,
	// starting at home, that has one.
	n := len(bc.buckets)
	for i, cycle := id, 0; cycle < n; i, cycle = (i+1)%n, cycle+1 {
		bk := &bc.buckets[i]
		// home is already held; it is the only bucket lock held here.
		if i != id {
			bk.lock.Acquire()
		}
		b := bc.oldest(i)
		if b == nil {
			if i != id {
				bk.lock.Release()
			}
			continue
		}
		if i != id {
			bc.unlink(b.id)
			bk.lock.Release()
			bc.pushFront(id, b.id)
			bc.steals.Inc()
		}
		b.Dev = dev
		b.Blockno = blockno
		b.valid = false
		b.refcnt = 1
		b.timestamp = bc.clock.Ticks()
		home.lock.Release()
		bc.evict.Release()

		bc.misses.Inc()
		b.lock.AcquireSleep(h)
		return b
	}
	Panic("bget: no buffers")
	return nil
}

// hit takes a reference to cached b and locks it for h. home is held on
// entry and released before sleeping on b.
func (bc *Bcache) hit(h Holder, home *bucket, b *Buf) {
	b.refcnt++
	b.timestamp = bc.clock.Ticks()
	home.lock.Release()
	bc.hits.Inc()
	b.lock.AcquireSleep(h)
}

// Bread returns a buf locked by h with the contents of the indicated
// block.
func (bc *Bcache) Bread(h Holder, dev, blockno uint32) *Buf {
	b := bc.bget(h, dev, blockno)
	if !b.valid {
		bc.disk.Rw(b, false)
		bc.reads.Inc()
		b.valid = true
	}
	return b
}

// Bwrite writes b's contents to disk. Must be locked by h.
func (bc *Bcache) Bwrite(h Holder, b *Buf) {
	if !b.lock.HoldingSleep(h) {
		Panic("bwrite")
	}
	bc.disk.Rw(b, true)
	bc.writes.Inc()
}

// Brelse releases a buffer locked by h. The release time is kept so the
// buffer ages from here once its last reference goes away.
func (bc *Bcache) Brelse(h Holder, b *Buf) {
	if !b.lock.HoldingSleep(h) {
		Panic("brelse")
	}

	b.lock.ReleaseSleep()

	bk := &bc.buckets[bc.hash(b.Blockno)]
	bk.lock.Acquire()
	b.refcnt--
	b.timestamp = bc.clock.Ticks()
	bk.lock.Release()
}

// Bpin keeps b cached without holding its lock, for the log.
func (bc *Bcache) Bpin(b *Buf) {
	bk := &bc.buckets[bc.hash(b.Blockno)]
	bk.lock.Acquire()
	b.refcnt++
	bk.lock.Release()
}

func (bc *Bcache) Bunpin(b *Buf) {
	bk := &bc.buckets[bc.hash(b.Blockno)]
	bk.lock.Acquire()
	b.refcnt--
	bk.lock.Release()
}

func (bc *Bcache) Stats() BcacheStats {
	return BcacheStats{
		Hits:   bc.hits.Value(),
		Misses: bc.misses.Value(),
		Steals: bc.steals.Value(),
		Reads:  bc.reads.Value(),
		Writes: bc.writes.Value(),
	}
}
