package proc

import (
	"wafer/defs"
	"wafer/mem"
	"wafer/util"
	"wafer/vm"
)

/// MAP_FAILED is the mmap error return.
const MAP_FAILED defs.Mapid_t = -1

/// Sys_mmap maps the file open on fd at user address addr and returns the
/// mapping id. Fails for addr 0, an unaligned or out-of-range address, a
/// bad fd, an empty file, or overlap with existing pages.
func (p *Proc_t) Sys_mmap(fd int, addr uintptr) defs.Mapid_t {
	s := p.sys
	s.flock.Lock()
	defer s.flock.Unlock()

	f := p.getfile(fd)
	if f == nil {
		return MAP_FAILED
	}
	size := f.Len()
	if size == 0 {
		return MAP_FAILED
	}
	if addr == 0 || addr&uintptr(defs.PGSIZE-1) != 0 {
		return MAP_FAILED
	}
	npages := util.Divroundup(size, defs.PGSIZE)
	end := uint64(addr) + uint64(npages)*uint64(defs.PGSIZE)
	if end > uint64(defs.USERTOP) {
		return MAP_FAILED
	}
	for i := 0; i < npages; i++ {
		if p.pt.Lookup(addr+uintptr(i*defs.PGSIZE)) != nil {
			return MAP_FAILED
		}
	}

	// an independent handle so the mapping survives a CLOSE of fd
	nf := f.Reopen()
	for i := 0; i < npages; i++ {
		rb := util.Min(size-i*defs.PGSIZE, defs.PGSIZE)
		if !p.pt.Set_file(addr+uintptr(i*defs.PGSIZE), nf, i*defs.PGSIZE,
			rb, defs.PGSIZE-rb, true, true) {
			panic("mapping raced itself")
		}
	}

	id := p.mapidnext
	p.mapidnext++
	p.mmaps[id] = &mmap_t{id: id, file: nf, addr: addr, size: size}
	return id
}

/// Sys_munmap tears down mapping id, writing dirty pages back to the
/// file. False when the id is unknown or already unmapped.
func (p *Proc_t) Sys_munmap(id defs.Mapid_t) bool {
	s := p.sys
	s.flock.Lock()
	defer s.flock.Unlock()

	m, ok := p.mmaps[id]
	if !ok {
		return false
	}
	p.munmap(m)
	return true
}

// munmap flushes and unmaps every page of m, then closes its handle.
func (p *Proc_t) munmap(m *mmap_t) {
	s := p.sys
	npages := util.Divroundup(m.size, defs.PGSIZE)
	for i := 0; i < npages; i++ {
		upage := m.addr + uintptr(i*defs.PGSIZE)
		pte := p.pt.Lookup(upage)
		if pte == nil {
			continue
		}
		n := util.Min(m.size-i*defs.PGSIZE, defs.PGSIZE)
		switch {
		case pte.Resident():
			if pte.Update_dirty() {
				pg := s.Phys.Dmap(pte.Kpage())
				m.file.Write_at(pg[:n], i*defs.PGSIZE)
			}
			kpage := pte.Kpage()
			p.pt.Clear_page(upage)
			s.Phys.Pfree(kpage)
		case pte.Type() == vm.PAGE_SWAP && pte.Update_dirty():
			// dirtied, then evicted to swap; page it back in to flush.
			// swap.In frees the slot itself.
			var pg mem.Bytepg_t
			if s.Sw.In(&pg, pte.Swapslot()) {
				m.file.Write_at(pg[:n], i*defs.PGSIZE)
			}
			p.pt.Remove(upage)
		default:
			// clean: Clear_page releases a swap slot if one is held
			p.pt.Clear_page(upage)
		}
	}
	m.file.Close()
	delete(p.mmaps, m.id)
}
