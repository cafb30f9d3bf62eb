package proc

import (
	"sync/atomic"

	"wafer/defs"
)

// longest path/command line a syscall will copy in
const maxstr = 1024

/// Syscall dispatches one system call with raw argument words, the way
/// the trap handler would pop them off the user stack. Pointer arguments
/// are user virtual addresses; an invalid pointer forces exit(-1).
func (p *Proc_t) Syscall(num, a1, a2, a3 int) int {
	switch num {
	case defs.SYS_HALT:
		p.Sys_halt()
		return 0
	case defs.SYS_EXIT:
		p.Sys_exit(a1)
		return 0
	case defs.SYS_EXEC:
		return int(p.Sys_exec(p.userstr(a1)))
	case defs.SYS_WAIT:
		return p.Sys_wait(defs.Pid_t(a1))
	case defs.SYS_CREATE:
		return b2i(p.Sys_create(p.userstr(a1), a2))
	case defs.SYS_REMOVE:
		return b2i(p.Sys_remove(p.userstr(a1)))
	case defs.SYS_OPEN:
		return p.Sys_open(p.userstr(a1))
	case defs.SYS_FILESIZE:
		return p.Sys_filesize(a1)
	case defs.SYS_READ:
		return p.sys_readu(a1, uintptr(a2), a3)
	case defs.SYS_WRITE:
		return p.sys_writeu(a1, uintptr(a2), a3)
	case defs.SYS_SEEK:
		p.Sys_seek(a1, a2)
		return 0
	case defs.SYS_TELL:
		return p.Sys_tell(a1)
	case defs.SYS_CLOSE:
		p.Sys_close(a1)
		return 0
	case defs.SYS_MMAP:
		return int(p.Sys_mmap(a1, uintptr(a2)))
	case defs.SYS_MUNMAP:
		p.Sys_munmap(defs.Mapid_t(a1))
		return 0
	default:
		p.Sys_exit(-1)
		return 0
	}
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

// userstr copies a string argument in, exiting on a bad pointer.
func (p *Proc_t) userstr(uva int) string {
	s, err := p.pt.Userstr(uintptr(uva), maxstr)
	if err == -defs.EFAULT {
		p.badptr()
	}
	return s
}

/// Sys_halt flushes the volume and stops the machine.
func (p *Proc_t) Sys_halt() {
	p.sys.Fs.Cache().Flush_all()
	atomic.StoreInt32(&p.sys.halted, 1)
	p.Sys_exit(0)
}

/// Sys_create makes a file of the given initial size.
func (p *Proc_t) Sys_create(name string, size int) bool {
	if size < 0 {
		return false
	}
	p.sys.flock.Lock()
	defer p.sys.flock.Unlock()
	return p.sys.Fs.Create(name, size)
}

/// Sys_remove unlinks a file.
func (p *Proc_t) Sys_remove(name string) bool {
	p.sys.flock.Lock()
	defer p.sys.flock.Unlock()
	return p.sys.Fs.Remove(name)
}

/// Sys_open opens name and returns a descriptor, or -1.
func (p *Proc_t) Sys_open(name string) int {
	p.sys.flock.Lock()
	defer p.sys.flock.Unlock()

	f := p.sys.Fs.Open(name)
	if f == nil {
		return -1
	}
	return p.setfile(f)
}

/// Sys_filesize returns the length of fd's file, or -1.
func (p *Proc_t) Sys_filesize(fd int) int {
	p.sys.flock.Lock()
	defer p.sys.flock.Unlock()

	f := p.getfile(fd)
	if f == nil {
		return -1
	}
	return f.Len()
}

/// Sys_read reads into a kernel buffer from fd at its position. Fd 0
/// reads keyboard input.
func (p *Proc_t) Sys_read(fd int, dst []uint8) int {
	s := p.sys
	if fd == 0 {
		if s.Kbd == nil {
			return 0
		}
		n, _ := s.Kbd.Read(dst)
		return n
	}
	s.flock.Lock()
	defer s.flock.Unlock()

	f := p.getfile(fd)
	if f == nil {
		return -1
	}
	n, _ := f.Read(dst)
	return n
}

/// Sys_write writes a kernel buffer to fd at its position. Fd 1 writes
/// the console.
func (p *Proc_t) Sys_write(fd int, src []uint8) int {
	s := p.sys
	if fd == 1 {
		s.Console.Write(src)
		return len(src)
	}
	s.flock.Lock()
	defer s.flock.Unlock()

	f := p.getfile(fd)
	if f == nil {
		return -1
	}
	n, _ := f.Write(src)
	return n
}

// sys_readu reads size bytes from fd into user memory at uva.
func (p *Proc_t) sys_readu(fd int, uva uintptr, size int) int {
	if size < 0 {
		return -1
	}
	buf := make([]uint8, size)
	n := p.Sys_read(fd, buf)
	if n <= 0 {
		return n
	}
	if p.pt.K2user(buf[:n], uva) != 0 {
		p.badptr()
	}
	return n
}

// sys_writeu writes size bytes of user memory at uva to fd.
func (p *Proc_t) sys_writeu(fd int, uva uintptr, size int) int {
	if size < 0 {
		return -1
	}
	buf := make([]uint8, size)
	if p.pt.User2k(buf, uva) != 0 {
		p.badptr()
	}
	return p.Sys_write(fd, buf)
}

/// Sys_seek sets fd's position.
func (p *Proc_t) Sys_seek(fd, pos int) {
	p.sys.flock.Lock()
	defer p.sys.flock.Unlock()

	if f := p.getfile(fd); f != nil && pos >= 0 {
		f.Seek(pos)
	}
}

/// Sys_tell returns fd's position, or -1.
func (p *Proc_t) Sys_tell(fd int) int {
	p.sys.flock.Lock()
	defer p.sys.flock.Unlock()

	f := p.getfile(fd)
	if f == nil {
		return -1
	}
	return f.Tell()
}

/// Sys_close closes fd. Closing an unknown fd is a no-op.
func (p *Proc_t) Sys_close(fd int) {
	p.sys.flock.Lock()
	defer p.sys.flock.Unlock()

	if f := p.getfile(fd); f != nil {
		f.Close()
		delete(p.files, fd)
	}
}
