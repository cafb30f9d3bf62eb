package fs

import (
	"wafer/defs"
	"wafer/util"
)

/// Geometry of the on-disk inode.
const (
	NDIRECT   = 12  /// direct pointers
	NINDIRECT = 2   /// single-indirect pointers
	NPPB      = 128 /// sector pointers per indirect block
	/// MAXSECTORS is the largest number of data sectors one inode can map.
	MAXSECTORS = NDIRECT + NINDIRECT*NPPB + NPPB*NPPB
	/// MAXBYTES is the largest representable file length.
	MAXBYTES = MAXSECTORS * 512
)

// byte offsets within the on-disk inode
const (
	idirectoff = 0
	iindoff    = 48
	idindoff   = 56
	ilenoff    = 60
	imagicoff  = 64
)

/// Idisk_t is the on-disk inode image: 12 direct, 2 single-indirect and 1
/// double-indirect sector pointers, a signed 32-bit length and a magic
/// number, padded to one sector. All fields are little-endian.
type Idisk_t struct {
	d [defs.SECTSIZE]uint8
}

/// Bytes exposes the raw sector image.
func (id *Idisk_t) Bytes() []uint8 {
	return id.d[:]
}

/// Direct returns the i'th direct sector pointer.
func (id *Idisk_t) Direct(i int) defs.Sector_t {
	if i < 0 || i >= NDIRECT {
		panic("bad direct slot")
	}
	return defs.Sector_t(util.Readn(id.d[:], 4, idirectoff+4*i))
}

/// Set_direct stores the i'th direct sector pointer.
func (id *Idisk_t) Set_direct(i int, s defs.Sector_t) {
	if i < 0 || i >= NDIRECT {
		panic("bad direct slot")
	}
	util.Writen(id.d[:], 4, idirectoff+4*i, int(s))
}

/// Indirect returns the i'th single-indirect block pointer.
func (id *Idisk_t) Indirect(i int) defs.Sector_t {
	if i < 0 || i >= NINDIRECT {
		panic("bad indirect slot")
	}
	return defs.Sector_t(util.Readn(id.d[:], 4, iindoff+4*i))
}

/// Set_indirect stores the i'th single-indirect block pointer.
func (id *Idisk_t) Set_indirect(i int, s defs.Sector_t) {
	if i < 0 || i >= NINDIRECT {
		panic("bad indirect slot")
	}
	util.Writen(id.d[:], 4, iindoff+4*i, int(s))
}

/// Dindirect returns the double-indirect block pointer.
func (id *Idisk_t) Dindirect() defs.Sector_t {
	return defs.Sector_t(util.Readn(id.d[:], 4, idindoff))
}

/// Set_dindirect stores the double-indirect block pointer.
func (id *Idisk_t) Set_dindirect(s defs.Sector_t) {
	util.Writen(id.d[:], 4, idindoff, int(s))
}

/// Len returns the file length in bytes.
func (id *Idisk_t) Len() int {
	return int(int32(util.Readn(id.d[:], 4, ilenoff)))
}

/// Set_len stores the file length.
func (id *Idisk_t) Set_len(l int) {
	util.Writen(id.d[:], 4, ilenoff, l)
}

/// Magic returns the inode magic number.
func (id *Idisk_t) Magic() uint32 {
	return uint32(util.Readn(id.d[:], 4, imagicoff))
}

/// Set_magic stores the inode magic number.
func (id *Idisk_t) Set_magic(m uint32) {
	util.Writen(id.d[:], 4, imagicoff, int(m))
}

/// Iblock_t is an indirect block: 128 consecutive sector pointers.
type Iblock_t struct {
	d [defs.SECTSIZE]uint8
}

/// Bytes exposes the raw block image.
func (ib *Iblock_t) Bytes() []uint8 {
	return ib.d[:]
}

/// Sector returns the i'th pointer of the block.
func (ib *Iblock_t) Sector(i int) defs.Sector_t {
	if i < 0 || i >= NPPB {
		panic("bad block slot")
	}
	return defs.Sector_t(util.Readn(ib.d[:], 4, 4*i))
}

/// Set_sector stores the i'th pointer of the block.
func (ib *Iblock_t) Set_sector(i int, s defs.Sector_t) {
	if i < 0 || i >= NPPB {
		panic("bad block slot")
	}
	util.Writen(ib.d[:], 4, 4*i, int(s))
}

// sectorsfor returns the number of data sectors needed for a file of
// nbytes bytes.
func sectorsfor(nbytes int) int {
	return util.Divroundup(nbytes, defs.SECTSIZE)
}

/// Inode_t is an in-memory inode. At most one exists per sector; Open of
/// the same sector returns the same handle with its open count bumped.
type Inode_t struct {
	fs         *Fs_t
	sector     defs.Sector_t
	opencount  int
	removed    bool
	denywrites int
	disk       Idisk_t
}

/// Inode_create constructs a fresh on-disk inode of the given length at
/// sector, allocating and zero-filling its data sectors. Returns false if
/// the allocation cannot be satisfied; nothing is left allocated then.
func (fs *Fs_t) Inode_create(sector defs.Sector_t, length int) bool {
	if length < 0 {
		panic("negative length")
	}
	img := &Idisk_t{}
	img.Set_magic(defs.INODE_MAGIC)
	img.Set_len(0)
	if !fs.iextend(img, sector, length) {
		return false
	}
	fs.cache.Write(sector, img.d[:])
	return true
}

/// Inode_open returns the in-memory inode for sector, loading the on-disk
/// image on first open.
func (fs *Fs_t) Inode_open(sector defs.Sector_t) *Inode_t {
	fs.olock.Lock()
	defer fs.olock.Unlock()

	if v, ok := fs.openinodes.Get(int(sector)); ok {
		ino := v.(*Inode_t)
		ino.opencount++
		return ino
	}
	ino := &Inode_t{}
	ino.fs = fs
	ino.sector = sector
	ino.opencount = 1
	fs.cache.Read(sector, ino.disk.d[:])
	if ino.disk.Magic() != defs.INODE_MAGIC {
		panic("inode magic mismatch")
	}
	fs.openinodes.Set(int(sector), ino)
	return ino
}

/// Reopen bumps the inode's open count and returns it.
func (ino *Inode_t) Reopen() *Inode_t {
	ino.fs.olock.Lock()
	ino.opencount++
	ino.fs.olock.Unlock()
	return ino
}

/// Sector returns the inode's on-disk sector.
func (ino *Inode_t) Sector() defs.Sector_t {
	return ino.sector
}

/// Len returns the inode's length in bytes.
func (ino *Inode_t) Len() int {
	return ino.disk.Len()
}

/// Remove marks the inode to be deleted on its final close.
func (ino *Inode_t) Remove() {
	ino.fs.olock.Lock()
	ino.removed = true
	ino.fs.olock.Unlock()
}

/// Close drops one reference. The final close invalidates the cached
/// inode sector and, if the inode was removed, frees its data sectors and
/// the inode sector itself.
func (ino *Inode_t) Close() {
	fs := ino.fs
	fs.olock.Lock()
	ino.opencount--
	if ino.opencount > 0 {
		fs.olock.Unlock()
		return
	}
	if ino.opencount < 0 {
		panic("close of closed inode")
	}
	fs.openinodes.Del(int(ino.sector))
	fs.olock.Unlock()

	fs.cache.Invalidate(ino.sector)
	if ino.removed {
		fs.irelease(&ino.disk)
		fs.fm.Release(ino.sector, 1)
	}
}

/// Deny_write blocks writers of this inode; used for running executables.
func (ino *Inode_t) Deny_write() {
	ino.fs.olock.Lock()
	ino.denywrites++
	if ino.denywrites > ino.opencount {
		panic("more deniers than openers")
	}
	ino.fs.olock.Unlock()
}

/// Allow_write undoes one Deny_write.
func (ino *Inode_t) Allow_write() {
	ino.fs.olock.Lock()
	ino.denywrites--
	if ino.denywrites < 0 {
		panic("stray allow")
	}
	ino.fs.olock.Unlock()
}

func (ino *Inode_t) denied() bool {
	ino.fs.olock.Lock()
	defer ino.fs.olock.Unlock()
	return ino.denywrites > 0
}

// slookup resolves the sidx'th data sector of the image, reading indirect
// blocks through the buffer cache.
func (fs *Fs_t) slookup(img *Idisk_t, sidx int) defs.Sector_t {
	if sidx < 0 || sidx >= MAXSECTORS {
		panic("sector index out of range")
	}
	if sidx < NDIRECT {
		return img.Direct(sidx)
	}
	sidx -= NDIRECT
	if sidx < NINDIRECT*NPPB {
		var ib Iblock_t
		fs.cache.Read(img.Indirect(sidx/NPPB), ib.d[:])
		return ib.Sector(sidx % NPPB)
	}
	sidx -= NINDIRECT * NPPB
	var db Iblock_t
	fs.cache.Read(img.Dindirect(), db.d[:])
	var ib Iblock_t
	fs.cache.Read(db.Sector(sidx/NPPB), ib.d[:])
	return ib.Sector(sidx % NPPB)
}

// bytetosector resolves the sector holding byte offset pos, or false when
// pos is past the end of the file.
func (ino *Inode_t) bytetosector(pos int) (defs.Sector_t, bool) {
	if pos < 0 || pos >= ino.disk.Len() {
		return 0, false
	}
	return ino.fs.slookup(&ino.disk, pos/defs.SECTSIZE), true
}

/// Read_at copies up to len(dst) bytes starting at byte offset into dst
/// and returns the number of bytes read.
func (ino *Inode_t) Read_at(dst []uint8, offset int) int {
	fs := ino.fs
	read := 0
	size := len(dst)
	for size > 0 {
		sector, ok := ino.bytetosector(offset)
		if !ok {
			break
		}
		soff := offset % defs.SECTSIZE
		left := util.Min(ino.disk.Len()-offset, defs.SECTSIZE-soff)
		chunk := util.Min(size, left)
		if chunk <= 0 {
			break
		}
		if soff == 0 && chunk == defs.SECTSIZE {
			fs.cache.Read(sector, dst[read:])
		} else {
			fs.cache.Copy_out(sector, dst[read:], soff, chunk)
		}
		size -= chunk
		offset += chunk
		read += chunk
	}
	// prefetch the sector after the region just read
	if read > 0 && offset < ino.disk.Len() {
		fs.cache.Read_ahead(ino.fs.slookup(&ino.disk, offset/defs.SECTSIZE))
	}
	return read
}

/// Write_at copies src into the file starting at byte offset, extending
/// the file first. Returns 0 when writes are denied or the extension
/// cannot be satisfied.
func (ino *Inode_t) Write_at(src []uint8, offset int) int {
	fs := ino.fs
	if ino.denied() {
		return 0
	}
	if !fs.iextend(&ino.disk, ino.sector, offset+len(src)) {
		return 0
	}
	written := 0
	size := len(src)
	for size > 0 {
		sector, ok := ino.bytetosector(offset)
		if !ok {
			break
		}
		soff := offset % defs.SECTSIZE
		left := util.Min(ino.disk.Len()-offset, defs.SECTSIZE-soff)
		chunk := util.Min(size, left)
		if chunk <= 0 {
			break
		}
		if soff == 0 && chunk == defs.SECTSIZE {
			fs.cache.Write(sector, src[written:])
		} else {
			fs.cache.Copy_in(sector, src[written:], soff, chunk)
		}
		size -= chunk
		offset += chunk
		written += chunk
	}
	return written
}

/// Extend grows the file to the given length, allocating and zero-filling
/// any new sectors. No-op shrink; false on allocation failure, with every
/// sector allocated by this call released again.
func (ino *Inode_t) Extend(target int) bool {
	return ino.fs.iextend(&ino.disk, ino.sector, target)
}
