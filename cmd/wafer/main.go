// The wafer host tool: create and inspect wafer disk images.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/log"
	"golang.org/x/sync/errgroup"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"wafer/kernel"
)

var (
	app = kingpin.New("wafer", "Create and inspect wafer disk images.")

	mkfsCmd  = app.Command("mkfs", "Create and format a disk image.")
	mkfsImg  = mkfsCmd.Arg("image", "Image path.").Required().String()
	mkfsSize = mkfsCmd.Flag("sectors", "Device size in sectors.").
			Default("4096").Int()
	mkfsSkel = mkfsCmd.Flag("skel", "Host directory whose files are copied in.").
			String()

	lsCmd = app.Command("ls", "List the root directory.")
	lsImg = lsCmd.Arg("image", "Image path.").Required().String()

	catCmd  = app.Command("cat", "Write a file's contents to stdout.")
	catImg  = catCmd.Arg("image", "Image path.").Required().String()
	catName = catCmd.Arg("name", "File name.").Required().String()

	dfCmd = app.Command("df", "Report free-map usage and device counters.")
	dfImg = dfCmd.Arg("image", "Image path.").Required().String()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	var err error
	switch cmd {
	case mkfsCmd.FullCommand():
		err = mkfs(*mkfsImg, *mkfsSize, *mkfsSkel)
	case lsCmd.FullCommand():
		err = ls(*lsImg)
	case catCmd.FullCommand():
		err = cat(*catImg, *catName)
	case dfCmd.FullCommand():
		err = df(*dfImg)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func boot(img string, format bool) (*kernel.Kernel_t, error) {
	return kernel.Boot(kernel.Opts_t{
		Diskpath: img,
		Format:   format,
		Console:  os.Stdout,
	})
}

func mkfs(img string, sectors int, skel string) error {
	if err := kernel.MkDisk(img, sectors); err != nil {
		return err
	}
	k, err := boot(img, true)
	if err != nil {
		return err
	}
	defer k.Shutdown()
	if skel == "" {
		return nil
	}
	return copyin(k, skel)
}

// copyin replicates skel's files into the image's root directory. Host
// reads run concurrently; the single-threaded volume is fed under a lock.
func copyin(k *kernel.Kernel_t, skel string) error {
	var eg errgroup.Group
	var mu sync.Mutex
	err := filepath.WalkDir(skel, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		eg.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if !k.Fs.Create(name, 0) {
				return fmt.Errorf("create %s failed", name)
			}
			f := k.Fs.Open(name)
			defer f.Close()
			if n, _ := f.Write(data); n != len(data) {
				return fmt.Errorf("short write for %s: %d of %d", name, n, len(data))
			}
			log.Infof("copied %s (%d bytes)", name, len(data))
			return nil
		})
		return nil
	})
	if err != nil {
		return err
	}
	return eg.Wait()
}

func ls(img string) error {
	k, err := boot(img, false)
	if err != nil {
		return err
	}
	defer k.Shutdown()
	for _, name := range k.Fs.Names() {
		f := k.Fs.Open(name)
		fmt.Printf("%8d  %s\n", f.Len(), name)
		f.Close()
	}
	return nil
}

func cat(img, name string) error {
	k, err := boot(img, false)
	if err != nil {
		return err
	}
	defer k.Shutdown()
	f := k.Fs.Open(name)
	if f == nil {
		return fmt.Errorf("no such file: %s", name)
	}
	defer f.Close()
	buf := make([]uint8, f.Len())
	f.Read(buf)
	os.Stdout.Write(buf)
	return nil
}

func df(img string) error {
	k, err := boot(img, false)
	if err != nil {
		return err
	}
	defer k.Shutdown()
	fmt.Printf("%d of %d sectors used\n",
		k.Fs.Usedsectors(), k.Disk.Nsectors())

	reg := prometheus.NewRegistry()
	reg.MustRegister(k.Metrics())
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(os.Stdout, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
