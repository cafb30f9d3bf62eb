package vm

import (
	"wafer/defs"
	"wafer/util"
)

// The copy helpers probe each page with the trap-protected byte accessors
// and demand-fault absent pages through the supplemental page table, the
// way a real fault handler would run on the touching thread's stack. After
// a successful probe the rest of the page moves in bulk.

/// Load_byte reads one user byte, faulting the page in if needed.
func (pt *Pt_t) Load_byte(va uintptr) (uint8, bool) {
	if b, ok := pt.pd.Load_byte(va); ok {
		return b, true
	}
	if va >= defs.USERTOP || !pt.Load(pgaddr(va)) {
		return 0, false
	}
	return pt.pd.Load_byte(va)
}

/// Store_byte writes one user byte, faulting the page in if needed.
func (pt *Pt_t) Store_byte(va uintptr, b uint8) bool {
	if pt.pd.Store_byte(va, b) {
		return true
	}
	if va >= defs.USERTOP {
		return false
	}
	// retry once after a demand load; a still-failing store means the
	// page is absent or read-only
	if pte := pt.Lookup(va); pte == nil || pte.Resident() || !pt.Load(pgaddr(va)) {
		return false
	}
	return pt.pd.Store_byte(va, b)
}

/// K2user copies src into user memory at uva.
func (pt *Pt_t) K2user(src []uint8, uva uintptr) defs.Err_t {
	off := 0
	for off < len(src) {
		va := uva + uintptr(off)
		if !pt.Store_byte(va, src[off]) {
			return -defs.EFAULT
		}
		pa, ok := pt.pd.Get_page(va)
		if !ok {
			panic("probed page vanished")
		}
		pg := pt.phys.Dmap(pa)
		po := int(va & uintptr(defs.PGSIZE-1))
		n := util.Min(len(src)-off, defs.PGSIZE-po)
		copy(pg[po:po+n], src[off:off+n])
		off += n
	}
	return 0
}

/// User2k copies len(dst) bytes of user memory at uva into dst.
func (pt *Pt_t) User2k(dst []uint8, uva uintptr) defs.Err_t {
	off := 0
	for off < len(dst) {
		va := uva + uintptr(off)
		if _, ok := pt.Load_byte(va); !ok {
			return -defs.EFAULT
		}
		pa, ok := pt.pd.Get_page(va)
		if !ok {
			panic("probed page vanished")
		}
		pg := pt.phys.Dmap(pa)
		po := int(va & uintptr(defs.PGSIZE-1))
		n := util.Min(len(dst)-off, defs.PGSIZE-po)
		copy(dst[off:off+n], pg[po:po+n])
		off += n
	}
	return 0
}

/// Userstr copies a NUL terminated string from user space, up to lenmax
/// bytes.
func (pt *Pt_t) Userstr(uva uintptr, lenmax int) (string, defs.Err_t) {
	var s []uint8
	for i := 0; ; i++ {
		if i >= lenmax {
			return "", -defs.ENAMETOOLONG
		}
		b, ok := pt.Load_byte(uva + uintptr(i))
		if !ok {
			return "", -defs.EFAULT
		}
		if b == 0 {
			return string(s), 0
		}
		s = append(s, b)
	}
}

/// Userreadn reads an n-byte little-endian value from user memory.
func (pt *Pt_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("large n")
	}
	var buf [8]uint8
	if err := pt.User2k(buf[:n], va); err != 0 {
		return 0, err
	}
	return util.Readn(buf[:], n, 0), 0
}

/// Userwriten writes val as an n-byte little-endian value to user memory.
func (pt *Pt_t) Userwriten(va uintptr, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	var buf [8]uint8
	util.Writen(buf[:], n, 0, val)
	return pt.K2user(buf[:n], va)
}
