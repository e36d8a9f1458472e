// SPDX-License-Identifier: LGPL-3.0-or-later

package ova

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
)

func writeTar(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tw := tar.NewWriter(f)
	defer tw.Close()
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOpenTarOptimizedWhenUncompressedAndEligible(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "vm.ova")
	writeTar(t, tarPath, map[string]string{
		"vm.ovf":    "<Envelope/>",
		"disk1.vmdk": "0123456789",
		"vm.mf":     "SHA1(disk1.vmdk)= deadbeef",
	})

	a, err := Open(tarPath, dir, true, func(href string) bool { return false })
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if a.Mode != ModeTarOptimized {
		t.Fatalf("Mode = %s, want TarOptimized", a.Mode)
	}
	if _, err := os.Stat(filepath.Join(a.Dir, "vm.ovf")); err != nil {
		t.Errorf("expected vm.ovf extracted into meta dir: %v", err)
	}
	uri, err := a.TarByteRangeURI("disk1.vmdk")
	if err != nil {
		t.Fatalf("TarByteRangeURI() error = %v", err)
	}
	if uri == "" {
		t.Error("expected non-empty URI")
	}
	m := a.Members["disk1.vmdk"]
	if m.Offset%512 != 0 {
		t.Errorf("offset %d is not block-aligned", m.Offset)
	}
	if m.Size != 10 {
		t.Errorf("size = %d, want 10", m.Size)
	}
}

func TestOpenTarFullyUnpacksWhenDiskCompressed(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "vm.ova")
	writeTar(t, tarPath, map[string]string{
		"vm.ovf":     "<Envelope/>",
		"disk1.vmdk": "compressed-bytes",
	})

	a, err := Open(tarPath, dir, true, func(href string) bool { return true })
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if a.Mode != ModeDirectory {
		t.Fatalf("Mode = %s, want Directory (compressed disk forces full unpack)", a.Mode)
	}
	if _, err := os.Stat(filepath.Join(a.Dir, "disk1.vmdk")); err != nil {
		t.Errorf("expected disk1.vmdk extracted: %v", err)
	}
}

func TestOpenDirectoryPassesThrough(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, dir, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Mode != ModeDirectory || a.Dir != dir {
		t.Errorf("Archive = %+v, want Directory at %s", a, dir)
	}
}

func TestResolvePathRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	a := &Archive{Mode: ModeDirectory, Dir: dir}
	if _, err := a.ResolvePath("../../etc/passwd"); err == nil {
		t.Error("expected escape attempt to be rejected")
	}
}
