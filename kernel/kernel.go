// Package kernel boots the machine: block devices, buffer cache, file
// system, frame pool, frame table and swap, wired into a syscall surface.
package kernel

import (
	"io"
	"os"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"github.com/prometheus/common/log"

	"wafer/bdev"
	"wafer/defs"
	"wafer/fs"
	"wafer/mem"
	"wafer/proc"
	"wafer/swap"
	"wafer/vm"
)

/// Opts_t configures a boot.
type Opts_t struct {
	Diskpath    string /// file-system image path; empty for an in-memory disk
	Nsectors    int    /// device size when creating an in-memory disk
	Swapsectors int    /// swap device size
	Uframes     int    /// user frame pool size
	Format      bool   /// format the volume during boot
	Console     io.Writer
}

/// Defaults for an unconfigured boot: a 2 MiB volume, 128 swap slots and
/// a 64-frame user pool.
const (
	DEFNSECTORS = 4096
	DEFSWAPSECT = 1024
	DEFUFRAMES  = 64
)

/// Kernel_t is a booted machine.
type Kernel_t struct {
	Disk     bdev.Disk_i
	Swapdisk bdev.Disk_i
	Fs       *fs.Fs_t
	Phys     *mem.Physmem_t
	Ft       *vm.Ftable_t
	Sw       *swap.Swap_t
	Sys      *proc.Sys_t

	fdisk *bdev.Filedisk_t
}

/// MkDisk writes a fresh zeroed disk image of nsectors sectors at path.
/// The image appears atomically.
func MkDisk(path string, nsectors int) error {
	if nsectors < 8 {
		return errors.Errorf("disk of %d sectors is too small", nsectors)
	}
	img := make([]byte, nsectors*defs.SECTSIZE)
	if err := renameio.WriteFile(path, img, 0644); err != nil {
		return errors.Wrapf(err, "create disk image %s", path)
	}
	return nil
}

/// Boot brings the machine up over opts' devices.
func Boot(opts Opts_t) (*Kernel_t, error) {
	if opts.Nsectors == 0 {
		opts.Nsectors = DEFNSECTORS
	}
	if opts.Swapsectors == 0 {
		opts.Swapsectors = DEFSWAPSECT
	}
	if opts.Uframes == 0 {
		opts.Uframes = DEFUFRAMES
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	k := &Kernel_t{}
	if opts.Diskpath != "" {
		fd, err := bdev.MkFiledisk(opts.Diskpath)
		if err != nil {
			return nil, errors.Wrap(err, "boot")
		}
		k.fdisk = fd
		k.Disk = fd
	} else {
		k.Disk = bdev.MkMemdisk(opts.Nsectors)
	}
	k.Swapdisk = bdev.MkMemdisk(opts.Swapsectors)

	k.Fs = fs.StartFS(k.Disk, opts.Format)
	k.Phys = mem.MkPhysmem(opts.Uframes)
	k.Sw = swap.MkSwap(k.Swapdisk)
	k.Ft = vm.MkFtable(k.Phys, k.Sw)
	k.Sys = proc.MkSys(k.Fs, k.Ft, k.Sw, k.Phys, opts.Console)

	log.Infof("booted: %d sectors, %d swap slots, %d user frames",
		k.Disk.Nsectors(), k.Sw.Nslots(), opts.Uframes)
	return k, nil
}

/// Shutdown flushes everything and stops the cache workers.
func (k *Kernel_t) Shutdown() {
	k.Fs.StopFS()
	if k.fdisk != nil {
		k.fdisk.Sync()
		if err := k.fdisk.Close(); err != nil {
			log.Errorf("close disk image: %v", err)
		}
	}
	log.Infof("halted")
}

/// Metrics returns a prometheus collector over the machine's devices.
func (k *Kernel_t) Metrics() *bdev.Collector_t {
	return bdev.MkCollector(map[string]bdev.Disk_i{
		"fs":   k.Disk,
		"swap": k.Swapdisk,
	})
}
