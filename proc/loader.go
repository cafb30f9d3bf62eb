package proc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"wafer/defs"
	"wafer/fs"
	"wafer/pagedir"
	"wafer/util"
	"wafer/vm"
)

// ELF32 constants; only PT_LOAD segments are materialized.
const (
	elf_pt_null    = 0
	elf_pt_load    = 1
	elf_pt_dynamic = 2
	elf_pt_interp  = 3
	elf_pt_shlib   = 5

	elf_pf_w = 2

	elfhdrsz = 52
	phdrsz   = 32
	maxphnum = 1024
)

type elf32hdr_t struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf32phdr_t struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

var elfmag = []uint8{0x7f, 'E', 'L', 'F', 1, 1, 1}

// load reads the ELF32 executable named by args[0], registers its
// loadable segments as file-backed pages, and builds the argument stack.
func (p *Proc_t) load(args []string) bool {
	s := p.sys
	p.pd = pagedir.MkPagedir(s.Phys)
	p.pt = vm.MkPt(p.pd, s.Ft, s.Sw, s.Phys)
	p.files = make(map[int]*fs.File_t)
	p.fdnext = FD_MIN
	p.mmaps = make(map[defs.Mapid_t]*mmap_t)

	f := s.Fs.Open(p.name)
	if f == nil {
		fmt.Fprintf(s.Console, "load: %s: open failed\n", p.name)
		return false
	}
	// protect the running image from writers
	f.Deny_write()
	p.execfile = f

	var hb [elfhdrsz]uint8
	if n, _ := f.Read_at(hb[:], 0); n != elfhdrsz {
		return p.loadfail()
	}
	var eh elf32hdr_t
	if binary.Read(bytes.NewReader(hb[:]), binary.LittleEndian, &eh) != nil {
		return p.loadfail()
	}
	if !bytes.Equal(eh.Ident[:7], elfmag) || eh.Type != 2 || eh.Machine != 3 ||
		eh.Version != 1 || eh.Phentsize != phdrsz || eh.Phnum > maxphnum {
		fmt.Fprintf(s.Console, "load: %s: error loading executable\n", p.name)
		return p.loadfail()
	}

	off := int(eh.Phoff)
	for i := 0; i < int(eh.Phnum); i++ {
		if off < 0 || off > f.Len() {
			return p.loadfail()
		}
		var pb [phdrsz]uint8
		if n, _ := f.Read_at(pb[:], off); n != phdrsz {
			return p.loadfail()
		}
		off += phdrsz
		var ph elf32phdr_t
		if binary.Read(bytes.NewReader(pb[:]), binary.LittleEndian, &ph) != nil {
			return p.loadfail()
		}
		switch ph.Type {
		case elf_pt_dynamic, elf_pt_interp, elf_pt_shlib:
			return p.loadfail()
		case elf_pt_load:
			if !validsegment(&ph, f.Len()) {
				return p.loadfail()
			}
			if !p.loadsegment(&ph) {
				return p.loadfail()
			}
		default:
			// ignore this segment
		}
	}

	if !p.setupstack(args) {
		return p.loadfail()
	}
	p.entry = uintptr(eh.Entry)
	return true
}

// loadfail closes the executable (re-allowing writes) and reports failure.
func (p *Proc_t) loadfail() bool {
	if p.execfile != nil {
		p.execfile.Close()
		p.execfile = nil
	}
	return false
}

// validsegment applies the acceptance rules for one program header.
func validsegment(ph *elf32phdr_t, filelen int) bool {
	pgmask := uint32(defs.PGSIZE - 1)
	// file offset and vaddr must share a page offset
	if ph.Off&pgmask != ph.Vaddr&pgmask {
		return false
	}
	if int(ph.Off) > filelen {
		return false
	}
	if ph.Memsz < ph.Filesz || ph.Memsz == 0 {
		return false
	}
	end := uint64(ph.Vaddr) + uint64(ph.Memsz)
	if uintptr(ph.Vaddr) >= defs.USERTOP || end > uint64(defs.USERTOP) {
		return false
	}
	// no wrap across the kernel boundary
	if end < uint64(ph.Vaddr) {
		return false
	}
	// never map page 0
	if int(ph.Vaddr) < defs.PGSIZE {
		return false
	}
	return true
}

// loadsegment registers one PT_LOAD segment as file-backed pages with the
// tail zero bytes.
func (p *Proc_t) loadsegment(ph *elf32phdr_t) bool {
	writable := ph.Flags&elf_pf_w != 0
	pgmask := uint32(defs.PGSIZE - 1)
	fileoff := int(ph.Off &^ pgmask)
	upage := uintptr(ph.Vaddr &^ pgmask)
	pageoff := int(ph.Vaddr & pgmask)

	var readbytes, zerobytes int
	if ph.Filesz > 0 {
		readbytes = pageoff + int(ph.Filesz)
		zerobytes = util.Roundup(pageoff+int(ph.Memsz), defs.PGSIZE) - readbytes
	} else {
		readbytes = 0
		zerobytes = util.Roundup(pageoff+int(ph.Memsz), defs.PGSIZE)
	}

	for readbytes > 0 || zerobytes > 0 {
		prb := util.Min(readbytes, defs.PGSIZE)
		pzb := defs.PGSIZE - prb
		if !p.pt.Set_file(upage, p.execfile, fileoff, prb, pzb, writable, false) {
			return false
		}
		readbytes -= prb
		zerobytes -= pzb
		upage += uintptr(defs.PGSIZE)
		fileoff += defs.PGSIZE
	}
	return true
}

// setupstack installs the stack page and pushes the arguments in the
// documented layout: argument bytes at the very top, padding to word
// alignment, argv[argc] = 0, argv pointers, the argv pointer itself, argc,
// and a zero return-address placeholder.
func (p *Proc_t) setupstack(args []string) bool {
	stackpage := defs.USERTOP - uintptr(defs.PGSIZE)
	if !p.pt.Set_zero(stackpage) {
		return false
	}
	sp, ok := p.pushargs(args)
	if !ok {
		p.pt.Clear_page(stackpage)
		return false
	}
	p.sp = sp
	return true
}

const wordsz = 4

func (p *Proc_t) pushargs(args []string) (uintptr, bool) {
	curr := defs.USERTOP
	ptrs := make([]uintptr, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		b := append([]uint8(args[i]), 0)
		curr -= uintptr(len(b))
		if p.pt.K2user(b, curr) != 0 {
			return 0, false
		}
		ptrs[i] = curr
	}
	for curr%wordsz != 0 {
		curr--
		if !p.pt.Store_byte(curr, 0) {
			return 0, false
		}
	}
	pushw := func(v int) bool {
		curr -= wordsz
		return p.pt.Userwriten(curr, wordsz, v) == 0
	}
	if !pushw(0) { // argv[argc]
		return 0, false
	}
	for i := len(args) - 1; i >= 0; i-- {
		if !pushw(int(ptrs[i])) {
			return 0, false
		}
	}
	argv := curr
	if !pushw(int(argv)) || !pushw(len(args)) || !pushw(0) {
		return 0, false
	}
	return curr, true
}
