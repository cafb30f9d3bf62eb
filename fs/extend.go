package fs

import (
	"wafer/defs"
	"wafer/util"
)

// A run of contiguous sectors obtained from the free map.
type run_t struct {
	first defs.Sector_t
	cnt   int
}

// allocrun obtains n sectors from the free map using the decreasing-
// contiguity allocator and zero-fills each through the cache. Every run is
// recorded in *allocated so a failing extend can release exactly what it
// took. Returns the sectors in order, or false when the map is exhausted.
func (fs *Fs_t) allocrun(n int, allocated *[]run_t) ([]defs.Sector_t, bool) {
	secs := make([]defs.Sector_t, 0, n)
	var zeros [defs.SECTSIZE]uint8
	remaining := n
	chunk := n
	for remaining > 0 {
		var first defs.Sector_t
		got := fs.fm.Alloc_decreasing(&remaining, chunk, &first)
		if got == 0 {
			return nil, false
		}
		*allocated = append(*allocated, run_t{first, got})
		for k := 0; k < got; k++ {
			s := first + defs.Sector_t(k)
			fs.cache.Write(s, zeros[:])
			secs = append(secs, s)
		}
		chunk = got
	}
	return secs, true
}

// alloc1 obtains a single zero-filled sector for an indirect block.
func (fs *Fs_t) alloc1(allocated *[]run_t) (defs.Sector_t, bool) {
	secs, ok := fs.allocrun(1, allocated)
	if !ok {
		return 0, false
	}
	return secs[0], true
}

// iextend grows the image mapped at isector to hold target bytes. All new
// data sectors and indirect blocks are allocated through the free map and
// written through the cache. On success the image's length is updated and
// the image itself is written through the cache at isector. On failure
// every sector allocated by this call is released and the image is left
// untouched; the function then returns false.
//
// Allocation walks the tree region by region: remaining direct slots, then
// each single-indirect block (created lazily when its first slot is
// needed), then the double-indirect block's sub-blocks.
func (fs *Fs_t) iextend(img *Idisk_t, isector defs.Sector_t, target int) bool {
	if target < 0 || target > MAXBYTES {
		return false
	}
	cur := sectorsfor(img.Len())
	tgt := sectorsfor(target)
	if tgt <= cur {
		if target > img.Len() {
			img.Set_len(target)
			fs.cache.Write(isector, img.d[:])
		}
		return true
	}

	// work on a scratch copy; commit only on success
	tmp := *img
	var allocated []run_t
	fail := func() bool {
		for _, r := range allocated {
			fs.fm.Release(r.first, r.cnt)
		}
		return false
	}

	pos := cur

	// direct region
	if pos < NDIRECT {
		n := util.Min(tgt, NDIRECT) - pos
		secs, ok := fs.allocrun(n, &allocated)
		if !ok {
			return fail()
		}
		for k, s := range secs {
			tmp.Set_direct(pos+k, s)
		}
		pos += n
	}

	// single-indirect regions
	for i := 0; i < NINDIRECT && pos < tgt; i++ {
		base := NDIRECT + i*NPPB
		end := base + NPPB
		if pos >= end {
			continue
		}
		var ib Iblock_t
		var ibsec defs.Sector_t
		if pos == base {
			s, ok := fs.alloc1(&allocated)
			if !ok {
				return fail()
			}
			tmp.Set_indirect(i, s)
			ibsec = s
		} else {
			ibsec = tmp.Indirect(i)
			fs.cache.Read(ibsec, ib.d[:])
		}
		n := util.Min(tgt, end) - pos
		secs, ok := fs.allocrun(n, &allocated)
		if !ok {
			return fail()
		}
		for k, s := range secs {
			ib.Set_sector(pos-base+k, s)
		}
		fs.cache.Write(ibsec, ib.d[:])
		pos += n
	}

	// double-indirect region
	if pos < tgt {
		base0 := NDIRECT + NINDIRECT*NPPB
		var db Iblock_t
		var dbsec defs.Sector_t
		if pos == base0 {
			s, ok := fs.alloc1(&allocated)
			if !ok {
				return fail()
			}
			tmp.Set_dindirect(s)
			dbsec = s
		} else {
			dbsec = tmp.Dindirect()
			fs.cache.Read(dbsec, db.d[:])
		}
		for j := 0; j < NPPB && pos < tgt; j++ {
			base := base0 + j*NPPB
			end := base + NPPB
			if pos >= end {
				continue
			}
			var ib Iblock_t
			var ibsec defs.Sector_t
			if pos == base {
				s, ok := fs.alloc1(&allocated)
				if !ok {
					return fail()
				}
				db.Set_sector(j, s)
				ibsec = s
			} else {
				ibsec = db.Sector(j)
				fs.cache.Read(ibsec, ib.d[:])
			}
			n := util.Min(tgt, end) - pos
			secs, ok := fs.allocrun(n, &allocated)
			if !ok {
				return fail()
			}
			for k, s := range secs {
				ib.Set_sector(pos-base+k, s)
			}
			fs.cache.Write(ibsec, ib.d[:])
			pos += n
		}
		fs.cache.Write(dbsec, db.d[:])
	}

	tmp.Set_len(target)
	fs.cache.Write(isector, tmp.d[:])
	*img = tmp
	return true
}

// irelease returns every data sector and indirect block of the image to
// the free map. The inode sector itself is the caller's to release.
func (fs *Fs_t) irelease(img *Idisk_t) {
	nsec := sectorsfor(img.Len())
	pos := 0

	for ; pos < nsec && pos < NDIRECT; pos++ {
		fs.fm.Release(img.Direct(pos), 1)
	}

	for i := 0; i < NINDIRECT && pos < nsec; i++ {
		var ib Iblock_t
		ibsec := img.Indirect(i)
		fs.cache.Read(ibsec, ib.d[:])
		base := NDIRECT + i*NPPB
		for ; pos < nsec && pos < base+NPPB; pos++ {
			fs.fm.Release(ib.Sector(pos-base), 1)
		}
		fs.fm.Release(ibsec, 1)
	}

	if pos < nsec {
		var db Iblock_t
		dbsec := img.Dindirect()
		fs.cache.Read(dbsec, db.d[:])
		base0 := NDIRECT + NINDIRECT*NPPB
		for j := 0; j < NPPB && pos < nsec; j++ {
			var ib Iblock_t
			ibsec := db.Sector(j)
			fs.cache.Read(ibsec, ib.d[:])
			base := base0 + j*NPPB
			for ; pos < nsec && pos < base+NPPB; pos++ {
				fs.fm.Release(ib.Sector(pos-base), 1)
			}
			fs.fm.Release(ibsec, 1)
		}
		fs.fm.Release(dbsec, 1)
	}
}
