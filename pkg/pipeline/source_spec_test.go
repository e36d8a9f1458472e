// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "kvmigrate/internal/errors"
	"kvmigrate/pkg/source"
)

func TestParseSourceLibvirtIsDependencyMissing(t *testing.T) {
	_, err := ParseSource(SourceSpec{Kind: SourceLibvirt, LibvirtURI: "qemu:///system", LibvirtName: "vm1"})
	require.Error(t, err)
	assert.Equal(t, kverrors.DependencyMissing, kverrors.KindOf(err))
}

func TestParseSourceUnknownKind(t *testing.T) {
	_, err := ParseSource(SourceSpec{Kind: "bogus"})
	require.Error(t, err)
	assert.Equal(t, kverrors.InvalidArgument, kverrors.KindOf(err))
}

func TestParseBareDiskRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.qcow2")
	require.NoError(t, os.WriteFile(path, []byte("fake"), 0o644))

	src, err := parseBareDisk(path, "qcow2")
	require.NoError(t, err)
	require.Len(t, src.Disks, 1)
	assert.Equal(t, 1, src.Disks[0].ID)
	assert.Equal(t, path, src.Disks[0].QEMUURI)
	assert.Equal(t, "qcow2", src.Disks[0].Format)
	assert.Equal(t, source.ControllerVirtioBlk, src.Disks[0].Controller)
	assert.Equal(t, source.HypervisorPhysical, src.Hypervisor)
}

func TestParseBareDiskMissingFile(t *testing.T) {
	_, err := parseBareDisk(filepath.Join(t.TempDir(), "missing.img"), "raw")
	require.Error(t, err)
	assert.Equal(t, kverrors.SourceParseError, kverrors.KindOf(err))
}

func TestRemapLocalRewritesFileAndBlockDevOrigins(t *testing.T) {
	src := source.NewSource()
	src.Disks = []source.SourceDisk{{ID: 1}, {ID: 2}, {ID: 3}}

	disks := []source.ParsedDisk{
		{Disk: source.SourceDisk{ID: 1}, Origin: source.Origin{Kind: source.OriginFile, Path: "/vms/disk1.vmdk"}},
		{Disk: source.SourceDisk{ID: 2}, Origin: source.Origin{Kind: source.OriginBlockDev, Path: "/dev/sdb"}},
		{Disk: source.SourceDisk{ID: 3}, Origin: source.Origin{Kind: source.OriginDontRewrite}},
	}

	require.NoError(t, remapLocal(src, disks))
	assert.Equal(t, "/vms/disk1.vmdk", src.Disks[0].QEMUURI)
	assert.Equal(t, "/dev/sdb", src.Disks[1].QEMUURI)
	assert.Equal(t, "", src.Disks[2].QEMUURI)
}

func TestRemapLocalUnknownDiskIDErrors(t *testing.T) {
	src := source.NewSource()
	src.Disks = []source.SourceDisk{{ID: 1}}
	disks := []source.ParsedDisk{{Disk: source.SourceDisk{ID: 99}, Origin: source.Origin{Kind: source.OriginFile, Path: "x"}}}

	err := remapLocal(src, disks)
	require.Error(t, err)
	assert.Equal(t, kverrors.SourceParseError, kverrors.KindOf(err))
}
