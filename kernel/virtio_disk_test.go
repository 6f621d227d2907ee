package kernel

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/tchajed/goose/machine/disk"
)

func TestDiskRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		cacheBytes int64
	}{
		{"mem", "", 0},
		{"mem cached", "", 1 << 20},
		{"file", filepath.Join(t.TempDir(), "fs.img"), 0},
		{"file cached", filepath.Join(t.TempDir(), "fs.img"), 1 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vd, err := OpenDisk(tt.path, 16, tt.cacheBytes)
			if err != nil {
				t.Fatal(err)
			}
			defer vd.Close()
			if vd.Size() != 16 {
				t.Fatalf("size = %d", vd.Size())
			}

			w := &Buf{Dev: 1, Blockno: 3}
			copy(w.Data[:], "block three")
			vd.Rw(w, true)

			r := &Buf{Dev: 1, Blockno: 3}
			vd.Rw(r, false)
			if r.Data != w.Data {
				t.Fatalf("read back %q", r.Data[:11])
			}
		})
	}
}

func TestFileDiskPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	vd, err := OpenDisk(path, 16, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	w := &Buf{Dev: 1, Blockno: 15}
	copy(w.Data[:], "survives")
	vd.Rw(w, true)
	vd.Close()

	vd, err = OpenDisk(path, 16, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer vd.Close()
	r := &Buf{Dev: 1, Blockno: 15}
	vd.Rw(r, false)
	if !bytes.HasPrefix(r.Data[:], []byte("survives")) {
		t.Fatalf("reopened disk has %q", r.Data[:8])
	}
}

func TestDiskControllerCache(t *testing.T) {
	vd, err := NewDisk(disk.NewMemDisk(8), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer vd.Close()

	b := &Buf{Dev: 1, Blockno: 1}
	copy(b.Data[:], "cached")
	vd.Rw(b, true)
	vd.Rw(&Buf{Dev: 1, Blockno: 1}, false)
	vd.Rw(&Buf{Dev: 1, Blockno: 2}, false)

	st := vd.Stats()
	if st.Writes != 1 || st.CacheHits != 1 || st.Reads != 1 {
		t.Fatalf("stats %+v, want 1 write, 1 cache hit, 1 device read", st)
	}
}

func TestDiskNoCache(t *testing.T) {
	vd, err := NewDisk(disk.NewMemDisk(8), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer vd.Close()

	vd.Rw(&Buf{Dev: 1, Blockno: 1}, true)
	vd.Rw(&Buf{Dev: 1, Blockno: 1}, false)
	if st := vd.Stats(); st.CacheHits != 0 || st.Reads != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestDiskOutOfRangeHalts(t *testing.T) {
	vd := newTestDisk(t, 8)
	mustHalt(t, func() { vd.Rw(&Buf{Dev: 1, Blockno: 8}, false) })
}
