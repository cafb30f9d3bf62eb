// Package swap allocates page-sized slots on the swap device. Slot i spans
// sectors [8i, 8i+8); one bit per slot, true meaning free.
package swap

import (
	"sync"

	"wafer/bdev"
	"wafer/bitmap"
	"wafer/defs"
	"wafer/mem"
)

/// Swap_t is the slot allocator over a dedicated swap device.
type Swap_t struct {
	sync.Mutex
	disk bdev.Disk_i
	bm   *bitmap.Bitmap_t
}

/// MkSwap creates the swap table over disk with every slot free.
func MkSwap(disk bdev.Disk_i) *Swap_t {
	sw := &Swap_t{}
	sw.disk = disk
	sw.bm = bitmap.MkBitmap(disk.Nsectors() / defs.SECTSPG)
	sw.bm.Set_all(true)
	return sw
}

/// In copies slot's sectors from the swap device into pg and marks the
/// slot free. Fails if slot is out of range or currently free.
func (sw *Swap_t) In(pg *mem.Bytepg_t, slot int) bool {
	sw.Lock()
	defer sw.Unlock()

	if slot < 0 || slot >= sw.bm.Size() {
		return false
	}
	if sw.bm.Test(slot) {
		return false
	}
	sec := defs.Sector_t(slot * defs.SECTSPG)
	for i := 0; i < defs.SECTSPG; i++ {
		var sd bdev.Sectordata_t
		sw.disk.Read_sector(sec, &sd)
		copy(pg[i*defs.SECTSIZE:(i+1)*defs.SECTSIZE], sd[:])
		sec++
	}
	sw.bm.Set(slot, true)
	return true
}

/// Out writes pg to a free slot and marks it used. Fails when the swap
/// device is full.
func (sw *Swap_t) Out(pg *mem.Bytepg_t) (int, bool) {
	sw.Lock()
	defer sw.Unlock()

	slot, ok := sw.bm.Scan(0, 1, true)
	if !ok {
		return 0, false
	}
	sec := defs.Sector_t(slot * defs.SECTSPG)
	for i := 0; i < defs.SECTSPG; i++ {
		var sd bdev.Sectordata_t
		copy(sd[:], pg[i*defs.SECTSIZE:(i+1)*defs.SECTSIZE])
		sw.disk.Write_sector(sec, &sd)
		sec++
	}
	sw.bm.Set(slot, false)
	return slot, true
}

/// Release marks slot free unconditionally.
func (sw *Swap_t) Release(slot int) {
	sw.Lock()
	defer sw.Unlock()
	sw.bm.Set(slot, true)
}

/// Nslots returns the slot count of the device.
func (sw *Swap_t) Nslots() int {
	sw.Lock()
	defer sw.Unlock()
	return sw.bm.Size()
}

/// Usedcount returns the number of slots in use.
func (sw *Swap_t) Usedcount() int {
	sw.Lock()
	defer sw.Unlock()
	return sw.bm.Count(false)
}
