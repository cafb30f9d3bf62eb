package vm_test

import (
	"testing"

	"wafer/defs"
	"wafer/kernel"
	"wafer/pagedir"
	"wafer/vm"
)

func bootvm(t *testing.T, uframes int) *kernel.Kernel_t {
	t.Helper()
	k, err := kernel.Boot(kernel.Opts_t{Format: true, Uframes: uframes})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(k.Shutdown)
	return k
}

func mkpt(k *kernel.Kernel_t) *vm.Pt_t {
	pd := pagedir.MkPagedir(k.Phys)
	return vm.MkPt(pd, k.Ft, k.Sw, k.Phys)
}

const base = uintptr(0x10000000)

func page(i int) uintptr {
	return base + uintptr(i*defs.PGSIZE)
}

func TestZeroPageLoad(t *testing.T) {
	k := bootvm(t, 8)
	pt := mkpt(k)

	if !pt.Set_zero(page(0)) {
		t.Fatalf("set_zero failed")
	}
	if !pt.Load(page(0)) {
		t.Fatalf("load failed")
	}
	if pt.Load(page(0)) {
		t.Fatalf("load of a resident page succeeded")
	}
	if b, ok := pt.Load_byte(page(0) + 123); !ok || b != 0 {
		t.Fatalf("zero page reads %#x %v", b, ok)
	}
	if !pt.Store_byte(page(0)+123, 0x7f) {
		t.Fatalf("store to zero page failed")
	}
	if b, _ := pt.Load_byte(page(0) + 123); b != 0x7f {
		t.Fatalf("store lost")
	}
	// hardware mapping and frame back-pointer agree
	pte := pt.Lookup(page(0))
	if pa, ok := pt.Pagedir().Get_page(page(0)); !ok || pa != pte.Kpage() {
		t.Fatalf("pagedir and SPTE disagree on the frame")
	}
	if k.Ft.Nframes() != 1 {
		t.Fatalf("frame table has %d entries, want 1", k.Ft.Nframes())
	}
}

func TestFilePageLoad(t *testing.T) {
	k := bootvm(t, 8)
	pt := mkpt(k)

	k.Fs.Create("fp", 0)
	f := k.Fs.Open("fp")
	defer f.Close()
	data := make([]uint8, defs.PGSIZE)
	for i := range data {
		data[i] = uint8(i * 7)
	}
	f.Write_at(data, 0)

	if !pt.Set_file(page(1), f, 0, defs.PGSIZE, 0, false, false) {
		t.Fatalf("set_file failed")
	}
	if !pt.Load(page(1)) {
		t.Fatalf("load failed")
	}
	if b, _ := pt.Load_byte(page(1) + 100); b != data[100] {
		t.Fatalf("file page byte %#x, want %#x", b, data[100])
	}
	// the mapping is read-only
	if pt.Store_byte(page(1)+100, 1) {
		t.Fatalf("store to read-only file page succeeded")
	}
}

func TestPartialFilePageZeroTail(t *testing.T) {
	k := bootvm(t, 8)
	pt := mkpt(k)

	k.Fs.Create("pp", 0)
	f := k.Fs.Open("pp")
	defer f.Close()
	f.Write_at([]uint8{0xaa, 0xbb}, 0)
	f.Inode().Extend(defs.SECTSIZE)

	pt.Set_file(page(2), f, 0, defs.SECTSIZE, defs.PGSIZE-defs.SECTSIZE,
		false, false)
	if !pt.Load(page(2)) {
		t.Fatalf("load failed")
	}
	if b, _ := pt.Load_byte(page(2)); b != 0xaa {
		t.Fatalf("head byte %#x", b)
	}
	if b, _ := pt.Load_byte(page(2) + uintptr(defs.SECTSIZE)); b != 0 {
		t.Fatalf("tail not zeroed")
	}
}

// Eight dirty zero pages through a four-frame pool: exactly four
// evictions, each writing one slot (eight sectors) to the swap device.
func TestClockEvictionToSwap(t *testing.T) {
	k := bootvm(t, 4)
	pt := mkpt(k)

	for i := 0; i < 8; i++ {
		pt.Set_zero(page(i))
	}
	for i := 0; i < 8; i++ {
		if !pt.Store_byte(page(i), uint8(i+1)) {
			t.Fatalf("touch of page %d failed", i)
		}
	}
	if got := k.Sw.Usedcount(); got != 4 {
		t.Fatalf("%d slots in use, want 4", got)
	}
	if got := k.Swapdisk.Stats().Nwrites; got != int64(4*defs.SECTSPG) {
		t.Fatalf("%d swap sector writes, want %d", got, 4*defs.SECTSPG)
	}

	// an evicted page became a swap page and pages back in intact
	var evicted *vm.Spte_t
	var idx int
	for i := 0; i < 8; i++ {
		if pte := pt.Lookup(page(i)); pte.Type() == vm.PAGE_SWAP {
			evicted = pte
			idx = i
			break
		}
	}
	if evicted == nil {
		t.Fatalf("no page was evicted to swap")
	}
	if evicted.Resident() {
		t.Fatalf("swap page still resident")
	}
	if b, ok := pt.Load_byte(page(idx)); !ok || b != uint8(idx+1) {
		t.Fatalf("swapped page lost its content: %#x %v", b, ok)
	}
}

// A clean read-only file page is invalidated on eviction, not swapped.
func TestCleanFilePageEviction(t *testing.T) {
	k := bootvm(t, 2)
	pt := mkpt(k)

	k.Fs.Create("ro", 0)
	f := k.Fs.Open("ro")
	defer f.Close()
	data := make([]uint8, 3*defs.PGSIZE)
	for i := range data {
		data[i] = uint8(i)
	}
	f.Write_at(data, 0)

	for i := 0; i < 3; i++ {
		pt.Set_file(page(i), f, i*defs.PGSIZE, defs.PGSIZE, 0, false, false)
		if !pt.Load(page(i)) {
			t.Fatalf("load of page %d failed", i)
		}
	}
	if k.Sw.Usedcount() != 0 {
		t.Fatalf("clean file pages went to swap")
	}
	// an invalidated page stays a file page and rereads from the file
	for i := 0; i < 3; i++ {
		pte := pt.Lookup(page(i))
		if pte.Type() != vm.PAGE_FILE {
			t.Fatalf("page %d changed provenance", i)
		}
		if !pte.Resident() {
			if b, ok := pt.Load_byte(page(i) + 5); !ok || b != data[i*defs.PGSIZE+5] {
				t.Fatalf("reread of page %d wrong: %#x %v", i, b, ok)
			}
			return
		}
	}
	t.Fatalf("no page was evicted")
}

func TestDirtyLatch(t *testing.T) {
	k := bootvm(t, 4)
	pt := mkpt(k)

	pt.Set_zero(page(0))
	pt.Store_byte(page(0), 1)
	pte := pt.Lookup(page(0))
	if !pte.Update_dirty() {
		t.Fatalf("dirty store not seen")
	}
	// latched: clearing the hardware bit does not clear the latch
	pt.Pagedir().Set_dirty(page(0), false)
	if !pte.Update_dirty() {
		t.Fatalf("dirty latch lost")
	}
}

func TestClearPageReleasesSwap(t *testing.T) {
	k := bootvm(t, 2)
	pt := mkpt(k)

	for i := 0; i < 4; i++ {
		pt.Set_zero(page(i))
		pt.Store_byte(page(i), uint8(i+1))
	}
	if k.Sw.Usedcount() != 2 {
		t.Fatalf("%d slots used, want 2", k.Sw.Usedcount())
	}
	for i := 0; i < 4; i++ {
		pt.Clear_page(page(i))
	}
	if k.Sw.Usedcount() != 0 {
		t.Fatalf("clear_page leaked swap slots")
	}
	if pt.Lookup(page(0)) != nil {
		t.Fatalf("entry survives clear_page")
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	k := bootvm(t, 2)
	pt := mkpt(k)

	for i := 0; i < 5; i++ {
		pt.Set_zero(page(i))
		pt.Store_byte(page(i), uint8(i+1))
	}
	pt.Destroy()
	if k.Sw.Usedcount() != 0 {
		t.Fatalf("destroy leaked swap slots")
	}
	if k.Ft.Nframes() != 0 {
		t.Fatalf("destroy leaked frame records")
	}
	// pagedir teardown returns the frames to the pool
	pt.Pagedir().Destroy()
	if k.Phys.Pgcount() != 2 {
		t.Fatalf("frames missing from the pool after teardown")
	}
}
