// Package freemap tracks which sectors of the file-system device are free.
// The bitmap is persisted through its own inode-backed file on every
// mutation, so persistence rides the ordinary buffer-cache write path.
package freemap

import (
	"sync"

	"wafer/bitmap"
	"wafer/defs"
)

/// Backing_i is the slice of a file handle the free map needs in order to
/// persist itself. The file-system layer attaches the free-map file once
/// the volume is up.
type Backing_i interface {
	Read_at(dst []uint8, offset int) (int, defs.Err_t)
	Write_at(src []uint8, offset int) (int, defs.Err_t)
}

/// Fm_t is the free-sector map. One bit per sector; true means used.
type Fm_t struct {
	sync.Mutex
	bm   *bitmap.Bitmap_t
	file Backing_i
}

/// MkFreemap creates a free map for a device of nsectors sectors with the
/// free-map and root-directory inode sectors pre-marked.
func MkFreemap(nsectors int) *Fm_t {
	fm := &Fm_t{}
	fm.bm = bitmap.MkBitmap(nsectors)
	fm.bm.Set(int(defs.FREEMAP_SECTOR), true)
	fm.bm.Set(int(defs.ROOTDIR_SECTOR), true)
	return fm
}

/// Bytesize returns the size of the serialized bitmap; the free-map file
/// is created with exactly this length.
func (fm *Fm_t) Bytesize() int {
	return fm.bm.Bytesize()
}

/// SetFile attaches the free-map file. Until a file is attached mutations
/// are not persisted (this is the state during volume format).
func (fm *Fm_t) SetFile(f Backing_i) {
	fm.Lock()
	fm.file = f
	fm.Unlock()
}

/// Open loads the bitmap contents from the free-map file and attaches it.
func (fm *Fm_t) Open(f Backing_i) {
	fm.Lock()
	defer fm.Unlock()

	buf := make([]uint8, fm.bm.Bytesize())
	n, err := f.Read_at(buf, 0)
	if n != len(buf) || err != 0 {
		panic("can't read free map")
	}
	fm.bm.Frombytes(buf)
	if !fm.bm.Test(int(defs.FREEMAP_SECTOR)) || !fm.bm.Test(int(defs.ROOTDIR_SECTOR)) {
		panic("reserved sectors not marked")
	}
	fm.file = f
}

// persist writes the bitmap back through the free-map file. Returns false
// if the write came up short.
func (fm *Fm_t) persist() bool {
	if fm.file == nil {
		return true
	}
	buf := make([]uint8, fm.bm.Bytesize())
	fm.bm.Tobytes(buf)
	n, err := fm.file.Write_at(buf, 0)
	return n == len(buf) && err == 0
}

/// Flush forces the bitmap out through the attached file; used right
/// after the free-map file is created during format.
func (fm *Fm_t) Flush() {
	fm.Lock()
	defer fm.Unlock()
	if !fm.persist() {
		panic("can't write free map")
	}
}

/// Alloc finds cnt contiguous free sectors, marks them used, persists the
/// map, and returns the first sector.
func (fm *Fm_t) Alloc(cnt int) (defs.Sector_t, bool) {
	fm.Lock()
	defer fm.Unlock()

	idx, ok := fm.bm.Scan_and_flip(0, cnt, false)
	if !ok {
		return 0, false
	}
	if !fm.persist() {
		fm.bm.Set_multiple(idx, cnt, false)
		return 0, false
	}
	return defs.Sector_t(idx), true
}

/// Alloc_decreasing attempts to allocate chunk contiguous sectors, halving
/// chunk on failure down to 1 before giving up. It stores the first sector
/// of the run in *out, decrements *remaining by the size obtained, and
/// returns that size (0 when nothing could be allocated). Callers loop
/// until *remaining reaches 0 or the return value is 0.
func (fm *Fm_t) Alloc_decreasing(remaining *int, chunk int, out *defs.Sector_t) int {
	if chunk > *remaining {
		chunk = *remaining
	}
	for chunk > 0 {
		if first, ok := fm.Alloc(chunk); ok {
			*out = first
			break
		}
		chunk >>= 1
	}
	*remaining -= chunk
	return chunk
}

/// Release marks cnt sectors free starting at first and persists the map.
/// Every sector in the range must currently be used.
func (fm *Fm_t) Release(first defs.Sector_t, cnt int) {
	fm.Lock()
	defer fm.Unlock()

	if !fm.bm.All(int(first), cnt, true) {
		panic("freeing free sectors")
	}
	fm.bm.Set_multiple(int(first), cnt, false)
	fm.persist()
}

/// Usedcount returns the number of used sectors.
func (fm *Fm_t) Usedcount() int {
	fm.Lock()
	defer fm.Unlock()
	return fm.bm.Count(true)
}

/// Nsectors returns the size of the mapped device.
func (fm *Fm_t) Nsectors() int {
	return fm.bm.Size()
}
