package vm

import (
	"sync"

	"wafer/mem"
	"wafer/swap"
)

type fentry_t struct {
	kpage mem.Pa_t
	pte   *Spte_t
}

/// Ftable_t tracks the user-pool frames backing live pages and performs
/// clock eviction. Frame entries back-point to SPTEs and SPTEs point at
/// frames through their kpage; neither side owns the physical page, the
/// frame pool does.
type Ftable_t struct {
	sync.Mutex
	phys    *mem.Physmem_t
	sw      *swap.Swap_t
	entries []*fentry_t
	pos     int
}

/// MkFtable creates an empty frame table over the frame pool and swap.
func MkFtable(phys *mem.Physmem_t, sw *swap.Swap_t) *Ftable_t {
	ft := &Ftable_t{}
	ft.phys = phys
	ft.sw = sw
	return ft
}

/// Alloc obtains a user frame for pte, evicting another page when the
/// pool is empty. False when there is nothing to evict or swap is full.
func (ft *Ftable_t) Alloc(pte *Spte_t) (mem.Pa_t, bool) {
	ft.Lock()
	defer ft.Unlock()

	if kpage, ok := ft.phys.Palloc(); ok {
		ft.entries = append(ft.entries, &fentry_t{kpage: kpage, pte: pte})
		return kpage, true
	}
	f := ft.evict()
	if f == nil {
		return mem.PA_INVAL, false
	}
	f.pte = pte
	return f.kpage, true
}

// findidx returns the index of kpage's entry, or -1.
func (ft *Ftable_t) findidx(kpage mem.Pa_t) int {
	for i, f := range ft.entries {
		if f.kpage == kpage {
			return i
		}
	}
	return -1
}

func (ft *Ftable_t) removeidx(i int) {
	ft.entries = append(ft.entries[:i], ft.entries[i+1:]...)
	if i < ft.pos {
		ft.pos--
	}
}

/// Free removes kpage's entry if present and returns the physical page to
/// the pool.
func (ft *Ftable_t) Free(kpage mem.Pa_t) {
	ft.Lock()
	defer ft.Unlock()

	if i := ft.findidx(kpage); i != -1 {
		ft.removeidx(i)
	}
	ft.phys.Pfree(kpage)
}

/// Remove removes kpage's entry without freeing the physical page; used
/// when control of the page transfers to another path.
func (ft *Ftable_t) Remove(kpage mem.Pa_t) {
	ft.Lock()
	defer ft.Unlock()

	if i := ft.findidx(kpage); i != -1 {
		ft.removeidx(i)
	}
}

// evict picks a victim frame with the clock algorithm, writes its content
// to swap when it must be preserved, and detaches it from its former
// owner. Returns nil when eviction is impossible. Caller holds the table
// mutex; the victim's entry stays in the table for reuse.
func (ft *Ftable_t) evict() *fentry_t {
	if len(ft.entries) == 0 {
		return nil
	}
	// sweep accessed bits until one is clear
	for {
		if ft.pos >= len(ft.entries) {
			ft.pos = 0
		}
		f := ft.entries[ft.pos]
		if !f.pte.pd.Is_accessed(f.pte.upage) {
			break
		}
		f.pte.pd.Set_accessed(f.pte.upage, false)
		ft.pos++
	}
	victim := ft.entries[ft.pos]
	ft.pos++

	pte := victim.pte
	toswap := false
	switch pte.ptype {
	case PAGE_FILE:
		// read-only or clean file content can be re-read later
		toswap = pte.writable && pte.Update_dirty()
	case PAGE_ZERO:
		toswap = pte.Update_dirty()
	case PAGE_SWAP:
		toswap = true
	default:
		panic("wut")
	}
	if toswap {
		slot, ok := ft.sw.Out(ft.phys.Dmap(victim.kpage))
		if !ok {
			return nil
		}
		pte.ptype = PAGE_SWAP
		pte.swapslot = slot
	}

	pte.Update_dirty()
	pte.kpage = mem.PA_INVAL
	pte.pd.Clear_page(pte.upage)
	return victim
}

/// Nframes returns the number of tracked frames.
func (ft *Ftable_t) Nframes() int {
	ft.Lock()
	defer ft.Unlock()
	return len(ft.entries)
}
