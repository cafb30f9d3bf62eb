package fs

import "wafer/defs"

/// Root directory entry layout: inode sector, NUL-padded name, in-use flag.
const (
	DIRENTSZ = 20 /// bytes per entry
	NAMEMAX  = 14 /// longest file name
)

// one directory entry, decoded
type dirent_t struct {
	sector defs.Sector_t
	name   string
	inuse  bool
}

func decodeent(b []uint8) dirent_t {
	var de dirent_t
	de.sector = defs.Sector_t(uint32(b[0]) | uint32(b[1])<<8 |
		uint32(b[2])<<16 | uint32(b[3])<<24)
	n := 4
	for n < 4+NAMEMAX+1 && b[n] != 0 {
		n++
	}
	de.name = string(b[4:n])
	de.inuse = b[DIRENTSZ-1] != 0
	return de
}

func encodeent(de dirent_t, b []uint8) {
	for i := range b[:DIRENTSZ] {
		b[i] = 0
	}
	s := uint32(de.sector)
	b[0], b[1], b[2], b[3] = uint8(s), uint8(s>>8), uint8(s>>16), uint8(s>>24)
	copy(b[4:4+NAMEMAX], de.name)
	if de.inuse {
		b[DIRENTSZ-1] = 1
	}
}

/// Namevalid reports whether name can be stored in the root directory.
func Namevalid(name string) bool {
	if len(name) == 0 || len(name) > NAMEMAX {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return true
}

// dir_t is the flat root directory, stored as ordinary inode data.
type dir_t struct {
	ino *Inode_t
}

func (d *dir_t) nentries() int {
	return d.ino.Len() / DIRENTSZ
}

func (d *dir_t) readent(i int) dirent_t {
	var b [DIRENTSZ]uint8
	if n := d.ino.Read_at(b[:], i*DIRENTSZ); n != DIRENTSZ {
		panic("short directory read")
	}
	return decodeent(b[:])
}

func (d *dir_t) writeent(i int, de dirent_t) bool {
	var b [DIRENTSZ]uint8
	encodeent(de, b[:])
	return d.ino.Write_at(b[:], i*DIRENTSZ) == DIRENTSZ
}

// lookup returns the slot index and entry for name.
func (d *dir_t) lookup(name string) (int, dirent_t, bool) {
	for i := 0; i < d.nentries(); i++ {
		de := d.readent(i)
		if de.inuse && de.name == name {
			return i, de, true
		}
	}
	return 0, dirent_t{}, false
}

// add records name -> sector, reusing a free slot or growing the
// directory. False when name exists or the directory cannot grow.
func (d *dir_t) add(name string, sector defs.Sector_t) bool {
	if _, _, ok := d.lookup(name); ok {
		return false
	}
	slot := d.nentries()
	for i := 0; i < d.nentries(); i++ {
		if !d.readent(i).inuse {
			slot = i
			break
		}
	}
	return d.writeent(slot, dirent_t{sector: sector, name: name, inuse: true})
}

// remove clears name's slot.
func (d *dir_t) remove(name string) bool {
	i, _, ok := d.lookup(name)
	if !ok {
		return false
	}
	return d.writeent(i, dirent_t{})
}

// names returns every live file name.
func (d *dir_t) names() []string {
	var ret []string
	for i := 0; i < d.nentries(); i++ {
		if de := d.readent(i); de.inuse {
			ret = append(ret, de.name)
		}
	}
	return ret
}
