// Package vm implements the per-process supplemental page table, the
// global frame table with clock eviction, and user-memory copy helpers
// that demand-fault pages in.
package vm

import (
	"wafer/defs"
	"wafer/fs"
	"wafer/hashtable"
	"wafer/mem"
	"wafer/pagedir"
	"wafer/swap"
)

/// Ptype_t is a page provenance.
type Ptype_t int

const (
	PAGE_ZERO Ptype_t = iota /// zero-filled on first touch
	PAGE_FILE                /// content from a file
	PAGE_SWAP                /// content in a swap slot
)

/// Spte_t describes how one user page is backed. The variant fields are
/// only meaningful for the matching type; the accessors enforce that.
type Spte_t struct {
	ptype Ptype_t
	upage uintptr
	kpage mem.Pa_t // PA_INVAL while not resident
	pd    *pagedir.Pagedir_t
	dirty bool // latched: once true, stays true

	// PAGE_FILE
	file      *fs.File_t
	off       int
	readbytes int
	zerobytes int
	writable  bool
	ismmap    bool

	// PAGE_SWAP
	swapslot int
}

/// Type returns the page provenance.
func (pte *Spte_t) Type() Ptype_t {
	return pte.ptype
}

/// Upage returns the user virtual page.
func (pte *Spte_t) Upage() uintptr {
	return pte.upage
}

/// Resident reports whether the page currently has a frame.
func (pte *Spte_t) Resident() bool {
	return pte.kpage != mem.PA_INVAL
}

/// Kpage returns the frame backing a resident page.
func (pte *Spte_t) Kpage() mem.Pa_t {
	if pte.kpage == mem.PA_INVAL {
		panic("page not resident")
	}
	return pte.kpage
}

/// Writable reports whether a File page may be written.
func (pte *Spte_t) Writable() bool {
	if pte.ptype != PAGE_FILE {
		panic("not a file page")
	}
	return pte.writable
}

/// Ismmap reports whether a File page belongs to a memory mapping.
func (pte *Spte_t) Ismmap() bool {
	if pte.ptype != PAGE_FILE {
		panic("not a file page")
	}
	return pte.ismmap
}

/// Swapslot returns the slot of a swapped-out page.
func (pte *Spte_t) Swapslot() int {
	if pte.ptype != PAGE_SWAP {
		panic("not a swap page")
	}
	return pte.swapslot
}

/// Update_dirty latches the hardware dirty bit of the page's user mapping
/// into the entry and returns the latched value.
func (pte *Spte_t) Update_dirty() bool {
	if pte.kpage == mem.PA_INVAL {
		return pte.dirty
	}
	pte.dirty = pte.dirty || pte.pd.Is_dirty(pte.upage)
	return pte.dirty
}

/// Pt_t is one process's supplemental page table, keyed by user page.
type Pt_t struct {
	pd   *pagedir.Pagedir_t
	ht   *hashtable.Hashtable_t
	ft   *Ftable_t
	sw   *swap.Swap_t
	phys *mem.Physmem_t
}

/// MkPt creates an empty supplemental page table bound to a process's
/// page directory and the machine's frame pool, frame table and swap.
func MkPt(pd *pagedir.Pagedir_t, ft *Ftable_t, sw *swap.Swap_t,
	phys *mem.Physmem_t) *Pt_t {
	pt := &Pt_t{}
	pt.pd = pd
	pt.ht = hashtable.MkHash(64)
	pt.ft = ft
	pt.sw = sw
	pt.phys = phys
	return pt
}

/// Pagedir returns the process's page directory.
func (pt *Pt_t) Pagedir() *pagedir.Pagedir_t {
	return pt.pd
}

func checkupage(upage uintptr) {
	if upage&uintptr(defs.PGSIZE-1) != 0 {
		panic("upage not aligned")
	}
	if upage >= defs.USERTOP {
		panic("upage above user ceiling")
	}
}

/// Set_zero installs a zero-fill entry for upage. No frame is allocated.
func (pt *Pt_t) Set_zero(upage uintptr) bool {
	checkupage(upage)
	pte := &Spte_t{}
	pte.ptype = PAGE_ZERO
	pte.upage = upage
	pte.kpage = mem.PA_INVAL
	pte.pd = pt.pd
	_, ok := pt.ht.Set(upage, pte)
	return ok
}

/// Set_file installs a file-backed entry for upage: readbytes from f at
/// off, the rest zeroed. readbytes+zerobytes must equal the page size.
func (pt *Pt_t) Set_file(upage uintptr, f *fs.File_t, off, readbytes,
	zerobytes int, writable, ismmap bool) bool {
	checkupage(upage)
	if readbytes+zerobytes != defs.PGSIZE {
		panic("partial page backing")
	}
	pte := &Spte_t{}
	pte.ptype = PAGE_FILE
	pte.upage = upage
	pte.kpage = mem.PA_INVAL
	pte.pd = pt.pd
	pte.file = f
	pte.off = off
	pte.readbytes = readbytes
	pte.zerobytes = zerobytes
	pte.writable = writable
	pte.ismmap = ismmap
	_, ok := pt.ht.Set(upage, pte)
	return ok
}

/// Lookup returns the entry for upage, or nil.
func (pt *Pt_t) Lookup(upage uintptr) *Spte_t {
	v, ok := pt.ht.Get(pgaddr(upage))
	if !ok {
		return nil
	}
	return v.(*Spte_t)
}

/// Load materializes upage: obtains a frame (possibly evicting another
/// page), fills it from the page's provenance, and installs the hardware
/// mapping. Fails if upage has no entry, is already resident, or a
/// resource runs out.
func (pt *Pt_t) Load(upage uintptr) bool {
	pte := pt.Lookup(upage)
	if pte == nil || pte.kpage != mem.PA_INVAL {
		return false
	}
	kpage, ok := pt.ft.Alloc(pte)
	if !ok {
		return false
	}
	pg := pt.phys.Dmap(kpage)

	writable := true
	switch pte.ptype {
	case PAGE_ZERO:
		*pg = mem.Zeropg
	case PAGE_FILE:
		n, err := pte.file.Read_at(pg[:pte.readbytes], pte.off)
		if n != pte.readbytes || err != 0 {
			pt.ft.Free(kpage)
			return false
		}
		copy(pg[pte.readbytes:], mem.Zeropg[:pte.zerobytes])
		writable = pte.writable
	case PAGE_SWAP:
		if !pt.sw.In(pg, pte.swapslot) {
			pt.ft.Free(kpage)
			return false
		}
	default:
		panic("wut")
	}

	if !pt.pd.Set_page(upage, kpage, writable) {
		pt.ft.Free(kpage)
		return false
	}
	pt.pd.Set_dirty(upage, false)
	pte.kpage = kpage
	return true
}

/// Clear_page unmaps upage and removes its entry. A swapped-out page's
/// slot is released; a resident page's frame-table record is removed but
/// the physical page is not freed here.
func (pt *Pt_t) Clear_page(upage uintptr) {
	pte := pt.Lookup(upage)
	if pte == nil {
		return
	}
	pt.pd.Clear_page(upage)
	if pte.kpage != mem.PA_INVAL {
		pt.ft.Remove(pte.kpage)
	} else if pte.ptype == PAGE_SWAP {
		pt.sw.Release(pte.swapslot)
	}
	pt.ht.Del(upage)
}

/// Remove unmaps upage and deletes its entry without releasing any
/// backing resource; callers that already settled the page's swap slot or
/// frame (mmap write-back) use this instead of Clear_page.
func (pt *Pt_t) Remove(upage uintptr) {
	pte := pt.Lookup(upage)
	if pte == nil {
		return
	}
	pt.pd.Clear_page(upage)
	if pte.kpage != mem.PA_INVAL {
		pt.ft.Remove(pte.kpage)
	}
	pt.ht.Del(upage)
}

/// Destroy walks all entries, releasing swap slots and frame-table
/// records. The hardware page directory is torn down separately by the
/// process-exit path, which frees the physical pages.
func (pt *Pt_t) Destroy() {
	var ptes []*Spte_t
	pt.ht.Iter(func(k, v interface{}) bool {
		ptes = append(ptes, v.(*Spte_t))
		return false
	})
	for _, pte := range ptes {
		if pte.kpage != mem.PA_INVAL {
			pt.ft.Remove(pte.kpage)
		} else if pte.ptype == PAGE_SWAP {
			pt.sw.Release(pte.swapslot)
		}
		pt.ht.Del(pte.upage)
	}
}

func pgaddr(va uintptr) uintptr {
	return va &^ uintptr(defs.PGSIZE-1)
}
