package bcache

import (
	"bytes"
	"testing"
	"time"

	"wafer/bdev"
	"wafer/defs"
)

func pattern(sector int) []uint8 {
	b := make([]uint8, defs.SECTSIZE)
	for i := range b {
		b[i] = uint8(sector + i)
	}
	return b
}

func TestReadWrite(t *testing.T) {
	d := bdev.MkMemdisk(128)
	c := MkCache(d)
	defer c.Stop()

	c.Write(7, pattern(7))
	got := make([]uint8, defs.SECTSIZE)
	c.Read(7, got)
	if !bytes.Equal(got, pattern(7)) {
		t.Fatalf("read does not match write")
	}
	// whole-sector write must not have touched the disk yet
	if st := d.Stats(); st.Nwrites != 0 || st.Nreads != 0 {
		t.Fatalf("unexpected disk I/O: %+v", st)
	}
}

func TestPartialCopies(t *testing.T) {
	d := bdev.MkMemdisk(128)
	c := MkCache(d)
	defer c.Stop()

	c.Write(3, pattern(3))
	c.Copy_in(3, []uint8{0xaa, 0xbb}, 100, 2)

	got := make([]uint8, 4)
	c.Copy_out(3, got, 99, 4)
	want := []uint8{pattern(3)[99], 0xaa, 0xbb, pattern(3)[102]}
	if !bytes.Equal(got, want) {
		t.Fatalf("partial copy: got %x want %x", got, want)
	}
}

// Eviction of dirty entries must leave the disk identical to direct
// writes of the same data.
func TestEvictionWriteBack(t *testing.T) {
	n := NENTRIES + 40
	d := bdev.MkMemdisk(n)
	c := MkCache(d)
	defer c.Stop()

	for s := 0; s < n; s++ {
		c.Write(defs.Sector_t(s), pattern(s))
	}
	c.Flush_all()

	for s := 0; s < n; s++ {
		var sd bdev.Sectordata_t
		d.Read_sector(defs.Sector_t(s), &sd)
		if !bytes.Equal(sd[:], pattern(s)) {
			t.Fatalf("sector %d corrupt after write-back", s)
		}
	}
}

func TestInvalidateFlushes(t *testing.T) {
	d := bdev.MkMemdisk(16)
	c := MkCache(d)
	defer c.Stop()

	c.Write(5, pattern(5))
	c.Invalidate(5)

	var sd bdev.Sectordata_t
	d.Read_sector(5, &sd)
	if !bytes.Equal(sd[:], pattern(5)) {
		t.Fatalf("invalidate dropped dirty data")
	}
	// a fresh read must go to the disk again
	before := d.Stats().Nreads
	got := make([]uint8, defs.SECTSIZE)
	c.Read(5, got)
	if d.Stats().Nreads != before+1 {
		t.Fatalf("invalidated entry still cached")
	}
}

func TestFlushWorker(t *testing.T) {
	d := bdev.MkMemdisk(16)
	c := MkCache(d)
	defer c.Stop()

	c.Write(2, pattern(2))
	deadline := time.Now().Add(5 * FLUSHINTERVAL)
	for d.Stats().Nwrites == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("flush worker never wrote the dirty entry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// A completed read-ahead means the subsequent read does not touch the
// disk: the device read counter is the test hook.
func TestReadAheadObservable(t *testing.T) {
	d := bdev.MkMemdisk(16)
	c := MkCache(d)
	defer c.Stop()

	var sd bdev.Sectordata_t
	sd[0], sd[1], sd[2] = 1, 2, 3
	d.Write_sector(9, &sd)
	c.Read_ahead(9)

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Nreads == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("read-ahead worker never fetched")
		}
		time.Sleep(time.Millisecond)
	}

	before := d.Stats().Nreads
	got := make([]uint8, defs.SECTSIZE)
	c.Read(9, got)
	if d.Stats().Nreads != before {
		t.Fatalf("read after read-ahead hit the disk")
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("read-ahead fetched wrong data: %x", got[:3])
	}
}
