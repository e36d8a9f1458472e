// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	magicQCOW2 = []byte{'Q', 'F', 'I', 0xfb}
	magicVMDK  = []byte{0x4b, 0x44, 0x4d}
	magicVHD   = []byte("conectix")
	magicVHDX  = []byte("vhdxfile")
)

// detectDiskFormat guesses a bare disk's format from its extension,
// then confirms (or overrides) the guess against the file's magic
// bytes. Used by parseBareDisk when the caller leaves DiskFormat
// empty; a format the caller did supply is never second-guessed.
func detectDiskFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if guess := formatFromExtension(path); guess != "" {
		if ok, err := magicMatches(f, guess); err == nil && ok {
			return guess, nil
		}
	}
	return formatFromMagic(f)
}

func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qcow2", ".qcow":
		return "qcow2"
	case ".vmdk":
		return "vmdk"
	case ".vhd":
		return "vhd"
	case ".vhdx":
		return "vhdx"
	case ".raw", ".img":
		return "raw"
	default:
		return ""
	}
}

func formatFromMagic(f *os.File) (string, error) {
	header := make([]byte, 512)
	if _, err := f.ReadAt(header, 0); err != nil && err != io.EOF {
		return "", err
	}

	switch {
	case bytes.Equal(header[0:4], magicQCOW2):
		return "qcow2", nil
	case bytes.Contains(header, magicVMDK):
		return "vmdk", nil
	case bytes.Equal(header[0:8], magicVHDX):
		return "vhdx", nil
	}

	if stat, err := f.Stat(); err == nil && stat.Size() >= 512 {
		footer := make([]byte, 512)
		if _, err := f.ReadAt(footer, stat.Size()-512); err == nil && bytes.Contains(footer, magicVHD) {
			return "vhd", nil
		}
	}
	return "raw", nil
}

func magicMatches(f *os.File, expected string) (bool, error) {
	detected, err := formatFromMagic(f)
	if err != nil {
		return false, err
	}
	return detected == expected, nil
}
