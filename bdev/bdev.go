// Package bdev is the block-device shim: uniform 512-byte sector I/O over a
// host file or an in-memory image, with per-device operation counters.
package bdev

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"wafer/defs"
)

/// Sectordata_t holds the bytes of one sector.
type Sectordata_t [512]uint8

/// Disk_i represents a block device.
type Disk_i interface {
	Read_sector(defs.Sector_t, *Sectordata_t)
	Write_sector(defs.Sector_t, *Sectordata_t)
	Nsectors() int
	Stats() Stats_t
}

/// Stats_t is a snapshot of a device's operation counters. The read counter
/// doubles as the test hook for observing cache and read-ahead behavior.
type Stats_t struct {
	Nreads  int64
	Nwrites int64
}

type counters_t struct {
	nreads  int64
	nwrites int64
}

func (c *counters_t) read()  { atomic.AddInt64(&c.nreads, 1) }
func (c *counters_t) write() { atomic.AddInt64(&c.nwrites, 1) }

func (c *counters_t) snapshot() Stats_t {
	return Stats_t{
		Nreads:  atomic.LoadInt64(&c.nreads),
		Nwrites: atomic.LoadInt64(&c.nwrites),
	}
}

/// Filedisk_t simulates a disk backed by a file. The mutex ensures that a
/// seek followed by a read/write is atomic.
type Filedisk_t struct {
	sync.Mutex
	f        *os.File
	nsectors int
	cnt      counters_t
}

/// MkFiledisk opens the image at path. The image length must be a whole
/// number of sectors.
func MkFiledisk(path string) (*Filedisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0755)
	if err != nil {
		return nil, errors.Wrapf(err, "open disk image %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat disk image %s", path)
	}
	if st.Size()%int64(defs.SECTSIZE) != 0 {
		f.Close()
		return nil, errors.Errorf("disk image %s is not sector aligned", path)
	}
	d := &Filedisk_t{}
	d.f = f
	d.nsectors = int(st.Size()) / defs.SECTSIZE
	return d, nil
}

func (d *Filedisk_t) seek(s defs.Sector_t) {
	if int(s) >= d.nsectors {
		panic("sector beyond device")
	}
	if _, err := d.f.Seek(int64(s)*int64(defs.SECTSIZE), 0); err != nil {
		panic(err)
	}
}

/// Read_sector reads sector s into dst.
func (d *Filedisk_t) Read_sector(s defs.Sector_t, dst *Sectordata_t) {
	d.Lock()
	defer d.Unlock()

	d.seek(s)
	n, err := d.f.Read(dst[:])
	if n != defs.SECTSIZE || err != nil {
		panic(err)
	}
	d.cnt.read()
}

/// Write_sector writes src to sector s.
func (d *Filedisk_t) Write_sector(s defs.Sector_t, src *Sectordata_t) {
	d.Lock()
	defer d.Unlock()

	d.seek(s)
	n, err := d.f.Write(src[:])
	if n != defs.SECTSIZE || err != nil {
		panic(err)
	}
	d.cnt.write()
}

/// Nsectors returns the device size in sectors.
func (d *Filedisk_t) Nsectors() int {
	return d.nsectors
}

/// Stats returns a counter snapshot.
func (d *Filedisk_t) Stats() Stats_t {
	return d.cnt.snapshot()
}

/// Sync flushes the image to stable host storage.
func (d *Filedisk_t) Sync() {
	d.f.Sync()
}

/// Close closes the image file.
func (d *Filedisk_t) Close() error {
	return d.f.Close()
}

/// Memdisk_t is an in-memory disk used by tests and as the swap device.
type Memdisk_t struct {
	sync.Mutex
	sectors []Sectordata_t
	cnt     counters_t
}

/// MkMemdisk allocates a zeroed in-memory disk of nsectors sectors.
func MkMemdisk(nsectors int) *Memdisk_t {
	d := &Memdisk_t{}
	d.sectors = make([]Sectordata_t, nsectors)
	return d
}

/// Read_sector reads sector s into dst.
func (d *Memdisk_t) Read_sector(s defs.Sector_t, dst *Sectordata_t) {
	d.Lock()
	defer d.Unlock()

	*dst = d.sectors[s]
	d.cnt.read()
}

/// Write_sector writes src to sector s.
func (d *Memdisk_t) Write_sector(s defs.Sector_t, src *Sectordata_t) {
	d.Lock()
	defer d.Unlock()

	d.sectors[s] = *src
	d.cnt.write()
}

/// Nsectors returns the device size in sectors.
func (d *Memdisk_t) Nsectors() int {
	return len(d.sectors)
}

/// Stats returns a counter snapshot.
func (d *Memdisk_t) Stats() Stats_t {
	return d.cnt.snapshot()
}
