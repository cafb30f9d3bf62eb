package fs_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"wafer/defs"
	"wafer/fs"
	"wafer/kernel"
)

func bootfs(t *testing.T) *kernel.Kernel_t {
	t.Helper()
	k, err := kernel.Boot(kernel.Opts_t{Format: true})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(k.Shutdown)
	return k
}

func pattern(n int) []uint8 {
	b := make([]uint8, n)
	for i := range b {
		b[i] = uint8(i % 256)
	}
	return b
}

// Cold read-modify-write: a fresh volume, one 4096-byte file, reopened
// and read back. Eight direct data sectors plus the inode sector.
func TestColdReadModifyWrite(t *testing.T) {
	k := bootfs(t)
	used0 := k.Fs.Usedsectors()

	if !k.Fs.Create("f", 0) {
		t.Fatalf("create failed")
	}
	f := k.Fs.Open("f")
	p := pattern(4096)
	if n, _ := f.Write_at(p, 0); n != 4096 {
		t.Fatalf("wrote %d bytes", n)
	}
	f.Close()

	f = k.Fs.Open("f")
	defer f.Close()
	got := make([]uint8, 4096)
	if n, _ := f.Read_at(got, 0); n != 4096 {
		t.Fatalf("read %d bytes", n)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("read back mismatch (-want +got):\n%s", diff)
	}
	if got := k.Fs.Usedsectors() - used0; got != 9 {
		t.Fatalf("used %d new sectors, want 9 (inode + 8 data)", got)
	}
}

// Extending across the direct/indirect boundary allocates one indirect
// block holding exactly one valid pointer in slot 0.
func TestExtendAcrossIndirect(t *testing.T) {
	k := bootfs(t)

	if !k.Fs.Create("g", 0) {
		t.Fatalf("create failed")
	}
	f := k.Fs.Open("g")
	defer f.Close()

	off := fs.NDIRECT * defs.SECTSIZE // 6144
	if n, _ := f.Write_at([]uint8{0x5a}, off); n != 1 {
		t.Fatalf("boundary write failed")
	}
	if f.Len() != off+1 {
		t.Fatalf("length %d, want %d", f.Len(), off+1)
	}

	one := make([]uint8, 1)
	f.Read_at(one, 0)
	if one[0] != 0 {
		t.Fatalf("byte 0 not zero-filled")
	}
	f.Read_at(one, off-1)
	if one[0] != 0 {
		t.Fatalf("byte %d not zero-filled", off-1)
	}
	f.Read_at(one, off)
	if one[0] != 0x5a {
		t.Fatalf("boundary byte reads %#x", one[0])
	}

	var img fs.Idisk_t
	k.Fs.Cache().Read(f.Inode().Sector(), img.Bytes())
	if img.Indirect(0) == 0 {
		t.Fatalf("no indirect block allocated")
	}
	if img.Indirect(1) != 0 {
		t.Fatalf("second indirect block allocated early")
	}
	var ib fs.Iblock_t
	k.Fs.Cache().Read(img.Indirect(0), ib.Bytes())
	if ib.Sector(0) == 0 {
		t.Fatalf("indirect slot 0 empty")
	}
	if ib.Sector(1) != 0 {
		t.Fatalf("indirect slot 1 unexpectedly valid")
	}
}

// Writes landing exactly on the region boundaries of the pointer tree.
func TestBoundaryWrites(t *testing.T) {
	k := bootfs(t)
	offs := []int{
		fs.NDIRECT*defs.SECTSIZE - 1,                // last direct byte
		fs.NDIRECT * defs.SECTSIZE,                  // first indirect byte
		(fs.NDIRECT + fs.NINDIRECT*fs.NPPB) * defs.SECTSIZE, // first double-indirect byte
	}
	if !k.Fs.Create("b", 0) {
		t.Fatalf("create failed")
	}
	f := k.Fs.Open("b")
	defer f.Close()
	for _, off := range offs {
		if n, _ := f.Write_at([]uint8{0xee}, off); n != 1 {
			t.Fatalf("write at %d failed", off)
		}
		if f.Len() != off+1 {
			t.Fatalf("length %d after write at %d", f.Len(), off)
		}
		one := make([]uint8, 1)
		f.Read_at(one, off)
		if one[0] != 0xee {
			t.Fatalf("byte at %d reads %#x", off, one[0])
		}
	}
}

// Bytes in an extended region that were never written read back as zero.
func TestExtensionZeroFill(t *testing.T) {
	k := bootfs(t)
	k.Fs.Create("z", 0)
	f := k.Fs.Open("z")
	defer f.Close()

	f.Write_at([]uint8{1}, 10000)
	got := make([]uint8, 10000)
	if n, _ := f.Read_at(got, 0); n != 10000 {
		t.Fatalf("short read")
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d is %#x, want 0", i, b)
		}
	}
}

// Nothing above the maximum file size can be created or extended, and a
// rejected call allocates nothing.
func TestMaxFileSize(t *testing.T) {
	k := bootfs(t)
	used0 := k.Fs.Usedsectors()
	if k.Fs.Create("huge", fs.MAXBYTES+1) {
		t.Fatalf("oversized create succeeded")
	}
	if k.Fs.Usedsectors() != used0 {
		t.Fatalf("rejected create leaked sectors")
	}

	k.Fs.Create("s", 0)
	f := k.Fs.Open("s")
	defer f.Close()
	used1 := k.Fs.Usedsectors()
	if f.Inode().Extend(fs.MAXBYTES + 1) {
		t.Fatalf("oversized extend succeeded")
	}
	if k.Fs.Usedsectors() != used1 || f.Len() != 0 {
		t.Fatalf("rejected extend left traces")
	}
}

// Out-of-sectors mid-extend: the write reports zero bytes, the free map
// and the length are exactly as before.
func TestRollbackOnOutOfSectors(t *testing.T) {
	k := bootfs(t)

	// nearly fill the disk
	if !k.Fs.Create("big", 3900*defs.SECTSIZE) {
		t.Fatalf("big create failed")
	}
	k.Fs.Create("small", 0)
	f := k.Fs.Open("small")
	defer f.Close()
	f.Write_at([]uint8{7}, 0)

	used0 := k.Fs.Usedsectors()
	len0 := f.Len()
	buf := make([]uint8, 1<<20)
	if n, _ := f.Write_at(buf, 0); n != 0 {
		t.Fatalf("doomed write wrote %d bytes", n)
	}
	if k.Fs.Usedsectors() != used0 {
		t.Fatalf("used count %d after rollback, want %d",
			k.Fs.Usedsectors(), used0)
	}
	if f.Len() != len0 {
		t.Fatalf("length %d after rollback, want %d", f.Len(), len0)
	}
	one := make([]uint8, 1)
	f.Read_at(one, 0)
	if one[0] != 7 {
		t.Fatalf("old content lost in rollback")
	}
}

// Deny-write on one handle refuses writes through every handle.
func TestDenyWrite(t *testing.T) {
	k := bootfs(t)
	k.Fs.Create("e", 0)
	f1 := k.Fs.Open("e")
	f2 := k.Fs.Open("e")
	defer f2.Close()

	f1.Deny_write()
	if n, _ := f2.Write_at([]uint8{1}, 0); n != 0 {
		t.Fatalf("denied write wrote %d bytes", n)
	}
	// closing the denying handle re-allows
	f1.Close()
	if n, _ := f2.Write_at([]uint8{1}, 0); n != 1 {
		t.Fatalf("write still denied after close")
	}
}

// Opening the same sector twice yields the same in-memory inode.
func TestOpenSharing(t *testing.T) {
	k := bootfs(t)
	k.Fs.Create("sh", 0)
	f1 := k.Fs.Open("sh")
	f2 := k.Fs.Open("sh")
	if f1.Inode() != f2.Inode() {
		t.Fatalf("two in-memory inodes for one sector")
	}
	f1.Close()
	f2.Close()
}

// A removed file stays readable through open handles; its sectors return
// to the free map on the final close.
func TestRemoveFreesOnFinalClose(t *testing.T) {
	k := bootfs(t)
	used0 := k.Fs.Usedsectors()

	k.Fs.Create("r", 0)
	f := k.Fs.Open("r")
	f.Write_at(pattern(3*defs.SECTSIZE), 0)

	if !k.Fs.Remove("r") {
		t.Fatalf("remove failed")
	}
	if k.Fs.Open("r") != nil {
		t.Fatalf("removed file still visible")
	}
	got := make([]uint8, 3*defs.SECTSIZE)
	if n, _ := f.Read_at(got, 0); n != len(got) {
		t.Fatalf("removed-but-open file unreadable")
	}
	f.Close()
	if k.Fs.Usedsectors() != used0 {
		t.Fatalf("used %d sectors after final close, want %d",
			k.Fs.Usedsectors(), used0)
	}
}

// A big write spanning every pointer region reads back intact.
func TestLargeRoundTrip(t *testing.T) {
	k, err := kernel.Boot(kernel.Opts_t{Format: true, Nsectors: 32768})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	defer k.Shutdown()

	k.Fs.Create("lg", 0)
	f := k.Fs.Open("lg")
	defer f.Close()

	n := (fs.NDIRECT + fs.NINDIRECT*fs.NPPB + 3*fs.NPPB) * defs.SECTSIZE
	p := pattern(n)
	if w, _ := f.Write_at(p, 0); w != n {
		t.Fatalf("wrote %d of %d", w, n)
	}
	got := make([]uint8, n)
	if r, _ := f.Read_at(got, 0); r != n {
		t.Fatalf("read %d of %d", r, n)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("large round trip mismatch (-want +got):\n%s", diff)
	}
}
