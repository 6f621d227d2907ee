package kernel

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Simple logging that allows concurrent FS system calls.
//
// A log transaction contains the updates of multiple FS system
// calls. The logging system only commits when there are
// no FS system calls active. Thus there is never
// any reasoning required about whether a commit might
// write an uncommitted system call's updates to disk.
//
// A system call should call BeginOp()/EndOp(h) to mark
// its start and end; the caller that ends the last op commits, locking
// buffers as h. Usually BeginOp() just increments
// the count of in-progress FS system calls and returns.
// But if it thinks the log is close to running out, it
// sleeps until the last outstanding EndOp() commits.
//
// The log is a physical re-do log containing disk blocks.
// The on-disk log format:
//   header block, containing block #s for block A, B, C, ...
//   block A
//   block B
//   block C
//   ...
// Log appends are synchronous.
//
// Blocks named in the log stay pinned in the buffer cache from Write
// until they are installed, so the cache never recycles a dirty block.

// header layout: n, then LOGSIZE block numbers, then an xxhash of both.
const (
	lhBlocks = 4
	lhSum    = lhBlocks + 4*LOGSIZE
	lhSize   = lhSum + 8
)

type logheader struct {
	n     int
	block [LOGSIZE]uint32
}

func (lh *logheader) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(lh.n))
	for i := 0; i < LOGSIZE; i++ {
		binary.LittleEndian.PutUint32(dst[lhBlocks+4*i:], lh.block[i])
	}
	binary.LittleEndian.PutUint64(dst[lhSum:], xxhash.Sum64(dst[:lhSum]))
}

// decode reports false if the header is not one encode wrote.
func (lh *logheader) decode(src []byte) bool {
	n := binary.LittleEndian.Uint32(src[0:])
	if n == 0 {
		lh.n = 0
		return true
	}
	if n > LOGSIZE || binary.LittleEndian.Uint64(src[lhSum:]) != xxhash.Sum64(src[:lhSum]) {
		return false
	}
	lh.n = int(n)
	for i := 0; i < LOGSIZE; i++ {
		lh.block[i] = binary.LittleEndian.Uint32(src[lhBlocks+4*i:])
	}
	return true
}

type Log struct {
	lock        Spinlock
	wake        *sync.Cond
	start       uint32
	size        uint32
	outstanding int  // how many FS sys calls are executing.
	committing  bool // in commit(), please wait.
	dev         uint32
	lh          logheader
	bc          *Bcache
}

// Initlog sets up the log in blocks [start, start+size) of dev and
// replays any committed transaction left there.
func Initlog(bc *Bcache, dev, start, size uint32) *Log {
	if lhSize >= BSIZE {
		Panic("initlog: too big logheader")
	}
	if size < MAXOPBLOCKS+1 {
		Panic("initlog: log of %d blocks", size)
	}

	l := &Log{start: start, size: size, dev: dev, bc: bc}
	initlock(&l.lock, "log")
	l.wake = sync.NewCond(&l.lock)
	l.recoverFromLog(NewHolder())
	return l
}

// capacity is the most blocks one transaction may log.
func (l *Log) capacity() int {
	return min(LOGSIZE, int(l.size)-1)
}

// Copy committed blocks from log to their home location
func (l *Log) installTrans(h Holder, recovering bool) {
	for tail := 0; tail < l.lh.n; tail++ {
		lbuf := l.bc.Bread(h, l.dev, l.start+uint32(tail)+1) // read log block
		dbuf := l.bc.Bread(h, l.dev, l.lh.block[tail])       // read dst
		memmove(dbuf.Data[:], lbuf.Data[:])                  // copy block to dst
		l.bc.Bwrite(h, dbuf)                                 // write dst to disk
		if !recovering {
			l.bc.Bunpin(dbuf)
		}
		l.bc.Brelse(h, lbuf)
		l.bc.Brelse(h, dbuf)
	}
}

// Read the log header from disk into the in-memory log header
func (l *Log) readHead(h Holder) {
	buf := l.bc.Bread(h, l.dev, l.start)
	if !l.lh.decode(buf.Data[:]) || l.lh.n > l.capacity() {
		Printf("log: bad header at block %d, ignoring\n", l.start)
		l.lh.n = 0
	}
	l.bc.Brelse(h, buf)
}

// Write in-memory log header to disk.
// This is the true point at which the
// current transaction commits.
func (l *Log) writeHead(h Holder) {
	buf := l.bc.Bread(h, l.dev, l.start)
	l.lh.encode(buf.Data[:])
	l.bc.Bwrite(h, buf)
	l.bc.Brelse(h, buf)
}

func (l *Log) recoverFromLog(h Holder) {
	l.readHead(h)
	if l.lh.n > 0 {
		Printf("log: recovering %d blocks\n", l.lh.n)
	}
	l.installTrans(h, true) // if committed, copy from log to disk
	l.lh.n = 0
	l.writeHead(h) // clear the log
}

// BeginOp is called at the start of each FS system call.
func (l *Log) BeginOp() {
	l.lock.Acquire()
	for {
		if l.committing {
			l.wake.Wait()
		} else if l.lh.n+(l.outstanding+1)*MAXOPBLOCKS > l.capacity() {
			// this op might exhaust log space; wait for commit.
			l.wake.Wait()
		} else {
			l.outstanding++
			l.lock.Release()
			break
		}
	}
}

// EndOp is called at the end of each FS system call.
// commits if this was the last outstanding operation.
func (l *Log) EndOp(h Holder) {
	doCommit := false

	l.lock.Acquire()
	l.outstanding--
	if l.committing {
		l.lock.Release()
		Panic("log.committing")
	}
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		// BeginOp() may be waiting for log space,
		// and decrementing outstanding has decreased
		// the amount of reserved space.
		l.wake.Broadcast()
	}
	l.lock.Release()

	if doCommit {
		// call commit w/o holding locks, since not allowed
		// to sleep with locks.
		l.commit(h)
		l.lock.Acquire()
		l.committing = false
		l.wake.Broadcast()
		l.lock.Release()
	}
}

// Copy modified blocks from cache to log.
func (l *Log) writeLog(h Holder) {
	for tail := 0; tail < l.lh.n; tail++ {
		to := l.bc.Bread(h, l.dev, l.start+uint32(tail)+1) // log block
		from := l.bc.Bread(h, l.dev, l.lh.block[tail])     // cache block
		memmove(to.Data[:], from.Data[:])
		l.bc.Bwrite(h, to) // write the log
		l.bc.Brelse(h, from)
		l.bc.Brelse(h, to)
	}
}

func (l *Log) commit(h Holder) {
	if l.lh.n > 0 {
		l.writeLog(h)            // Write modified blocks from cache to log
		l.writeHead(h)           // Write header to disk -- the real commit
		l.installTrans(h, false) // Now install writes to home locations
		l.lh.n = 0
		l.writeHead(h) // Erase the transaction from the log
	}
}

// Write records that the caller modified b.Data and pins b in the cache
// until the transaction is installed. It replaces Bwrite; a typical use is:
//
//	bp := bc.Bread(h, ...)
//	modify bp.Data[]
//	log.Write(bp)
//	bc.Brelse(h, bp)
func (l *Log) Write(b *Buf) {
	if b.Dev != l.dev {
		Panic("log_write: dev %d, log is on %d", b.Dev, l.dev)
	}

	l.lock.Acquire()
	if l.lh.n >= l.capacity() {
		l.lock.Release()
		Panic("too big a transaction")
	}
	if l.outstanding < 1 {
		l.lock.Release()
		Panic("log_write outside of trans")
	}

	i := 0
	for ; i < l.lh.n; i++ {
		if l.lh.block[i] == b.Blockno { // log absorption
			break
		}
	}
	l.lh.block[i] = b.Blockno
	if i == l.lh.n { // Add new block to log?
		l.bc.Bpin(b)
		l.lh.n++
	}
	l.lock.Release()
}
