// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDiskFormatQCOW2Magic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")
	body := append([]byte{'Q', 'F', 'I', 0xfb}, make([]byte, 508)...)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	format, err := detectDiskFormat(path)
	require.NoError(t, err)
	assert.Equal(t, "qcow2", format)
}

func TestDetectDiskFormatExtensionMismatchFallsBackToMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.vmdk")
	body := append([]byte{'Q', 'F', 'I', 0xfb}, make([]byte, 508)...)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	format, err := detectDiskFormat(path)
	require.NoError(t, err)
	assert.Equal(t, "qcow2", format)
}

func TestDetectDiskFormatNoMagicDefaultsToRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0o644))

	format, err := detectDiskFormat(path)
	require.NoError(t, err)
	assert.Equal(t, "raw", format)
}

func TestParseBareDiskDetectsFormatWhenNotGiven(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0o644))

	src, err := parseBareDisk(path, "")
	require.NoError(t, err)
	require.Len(t, src.Disks, 1)
	assert.Equal(t, "raw", src.Disks[0].Format)
}
