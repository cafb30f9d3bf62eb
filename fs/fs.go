// Package fs implements the inode store and the flat root directory over
// the buffer cache and the free-sector map. Sector 0 holds the free-map
// inode, sector 1 the root-directory inode.
package fs

import (
	"sync"

	"wafer/bcache"
	"wafer/bdev"
	"wafer/defs"
	"wafer/freemap"
	"wafer/hashtable"
)

// initial root directory capacity; it grows on demand
const nrootents = 16

/// Fs_t is one mounted volume: cache, free map, open-inode table and the
/// root directory.
type Fs_t struct {
	cache      *bcache.Cache_t
	fm         *freemap.Fm_t
	olock      sync.Mutex
	openinodes *hashtable.Hashtable_t
	fmfile     *File_t
	rootdir    dir_t
}

/// StartFS mounts the volume on disk, formatting it first when format is
/// set, and starts the cache workers.
func StartFS(disk bdev.Disk_i, format bool) *Fs_t {
	fs := &Fs_t{}
	fs.cache = bcache.MkCache(disk)
	fs.fm = freemap.MkFreemap(disk.Nsectors())
	fs.openinodes = hashtable.MkHash(512)

	if format {
		if !fs.Inode_create(defs.FREEMAP_SECTOR, fs.fm.Bytesize()) {
			panic("free map creation failed")
		}
		if !fs.Inode_create(defs.ROOTDIR_SECTOR, nrootents*DIRENTSZ) {
			panic("root directory creation failed")
		}
	}

	fs.fmfile = MkFile(fs.Inode_open(defs.FREEMAP_SECTOR))
	if format {
		fs.fm.SetFile(fs.fmfile)
		fs.fm.Flush()
	} else {
		fs.fm.Open(fs.fmfile)
	}
	fs.rootdir = dir_t{ino: fs.Inode_open(defs.ROOTDIR_SECTOR)}
	return fs
}

/// StopFS flushes everything and stops the cache workers.
func (fs *Fs_t) StopFS() {
	fs.rootdir.ino.Close()
	fs.fmfile.Close()
	fs.cache.Stop()
}

/// Cache returns the volume's buffer cache.
func (fs *Fs_t) Cache() *bcache.Cache_t {
	return fs.cache
}

/// Freemap returns the volume's free-sector map.
func (fs *Fs_t) Freemap() *freemap.Fm_t {
	return fs.fm
}

/// Create makes a new file of the given initial size. False when the name
/// is invalid or taken, or when the disk is out of sectors; a failed
/// create leaves nothing allocated.
func (fs *Fs_t) Create(name string, initsize int) bool {
	if !Namevalid(name) {
		return false
	}
	sec, ok := fs.fm.Alloc(1)
	if !ok {
		return false
	}
	if !fs.Inode_create(sec, initsize) {
		fs.fm.Release(sec, 1)
		return false
	}
	if !fs.rootdir.add(name, sec) {
		ino := fs.Inode_open(sec)
		ino.Remove()
		ino.Close()
		return false
	}
	return true
}

/// Open returns a handle for name, or nil when it does not exist.
func (fs *Fs_t) Open(name string) *File_t {
	_, de, ok := fs.rootdir.lookup(name)
	if !ok {
		return nil
	}
	return MkFile(fs.Inode_open(de.sector))
}

/// Remove unlinks name. The inode's sectors are freed once the last open
/// handle is closed.
func (fs *Fs_t) Remove(name string) bool {
	_, de, ok := fs.rootdir.lookup(name)
	if !ok {
		return false
	}
	fs.rootdir.remove(name)
	ino := fs.Inode_open(de.sector)
	ino.Remove()
	ino.Close()
	return true
}

/// Names lists the root directory.
func (fs *Fs_t) Names() []string {
	return fs.rootdir.names()
}

/// Usedsectors returns the free map's used-bit count.
func (fs *Fs_t) Usedsectors() int {
	return fs.fm.Usedcount()
}

/// Openinodes returns the number of in-memory inodes.
func (fs *Fs_t) Openinodes() int {
	return fs.openinodes.Size()
}
