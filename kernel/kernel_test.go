package kernel_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"wafer/kernel"
)

// A volume written through one boot is intact after a reboot from the
// same image file.
func TestRebootPersistence(t *testing.T) {
	img := filepath.Join(t.TempDir(), "disk.img")
	if err := kernel.MkDisk(img, 2048); err != nil {
		t.Fatalf("mkdisk: %v", err)
	}

	k, err := kernel.Boot(kernel.Opts_t{Diskpath: img, Format: true})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if !k.Fs.Create("keep", 0) {
		t.Fatalf("create failed")
	}
	f := k.Fs.Open("keep")
	payload := []uint8("survives a reboot")
	f.Write(payload)
	f.Close()
	used := k.Fs.Usedsectors()
	k.Shutdown()

	k, err = kernel.Boot(kernel.Opts_t{Diskpath: img})
	if err != nil {
		t.Fatalf("reboot: %v", err)
	}
	defer k.Shutdown()

	if got := k.Fs.Usedsectors(); got != used {
		t.Fatalf("used sectors %d after reboot, want %d", got, used)
	}
	f = k.Fs.Open("keep")
	if f == nil {
		t.Fatalf("file lost across reboot")
	}
	defer f.Close()
	got := make([]uint8, len(payload))
	f.Read(got)
	if !bytes.Equal(got, payload) {
		t.Fatalf("content %q after reboot, want %q", got, payload)
	}
}

func TestBootDefaults(t *testing.T) {
	k, err := kernel.Boot(kernel.Opts_t{Format: true})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	defer k.Shutdown()

	if k.Disk.Nsectors() != kernel.DEFNSECTORS {
		t.Fatalf("disk size %d", k.Disk.Nsectors())
	}
	if k.Sw.Nslots() != kernel.DEFSWAPSECT/8 {
		t.Fatalf("swap slots %d", k.Sw.Nslots())
	}
	if k.Phys.Pgcount() != kernel.DEFUFRAMES {
		t.Fatalf("frame pool %d", k.Phys.Pgcount())
	}
}
