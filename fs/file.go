package fs

import "wafer/defs"

/// File_t is an open-file handle: an inode reference plus an independent
/// seek position. Reopening yields a fresh position over the same inode.
type File_t struct {
	ino    *Inode_t
	pos    int
	denied bool
}

/// MkFile wraps an inode in a handle positioned at offset 0.
func MkFile(ino *Inode_t) *File_t {
	f := &File_t{}
	f.ino = ino
	return f
}

/// Inode returns the handle's inode.
func (f *File_t) Inode() *Inode_t {
	return f.ino
}

/// Len returns the file length in bytes.
func (f *File_t) Len() int {
	return f.ino.Len()
}

/// Read copies up to len(dst) bytes at the current position.
func (f *File_t) Read(dst []uint8) (int, defs.Err_t) {
	n := f.ino.Read_at(dst, f.pos)
	f.pos += n
	return n, 0
}

/// Write copies src at the current position, extending the file. A result
/// of 0 with a non-empty src means the write was refused or the disk is
/// full.
func (f *File_t) Write(src []uint8) (int, defs.Err_t) {
	n := f.ino.Write_at(src, f.pos)
	f.pos += n
	return n, 0
}

/// Read_at reads at an explicit offset without moving the position.
func (f *File_t) Read_at(dst []uint8, offset int) (int, defs.Err_t) {
	return f.ino.Read_at(dst, offset), 0
}

/// Write_at writes at an explicit offset without moving the position.
func (f *File_t) Write_at(src []uint8, offset int) (int, defs.Err_t) {
	return f.ino.Write_at(src, offset), 0
}

/// Seek sets the position. Seeking past the end is allowed; a later write
/// extends the file with zeros in between.
func (f *File_t) Seek(pos int) {
	if pos < 0 {
		panic("negative seek")
	}
	f.pos = pos
}

/// Tell returns the position.
func (f *File_t) Tell() int {
	return f.pos
}

/// Reopen returns a new handle over the same inode with its own position.
func (f *File_t) Reopen() *File_t {
	return MkFile(f.ino.Reopen())
}

/// Deny_write blocks writes to the underlying inode. At most one deny per
/// handle is counted.
func (f *File_t) Deny_write() {
	if !f.denied {
		f.denied = true
		f.ino.Deny_write()
	}
}

/// Allow_write re-enables writes previously denied through this handle.
func (f *File_t) Allow_write() {
	if f.denied {
		f.denied = false
		f.ino.Allow_write()
	}
}

/// Close drops the handle, undoing its write denial.
func (f *File_t) Close() {
	f.Allow_write()
	f.ino.Close()
}
