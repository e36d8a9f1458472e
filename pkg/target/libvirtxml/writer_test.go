// SPDX-License-Identifier: LGPL-3.0-or-later

package libvirtxml

import (
	"strings"
	"testing"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/source"
)

func TestWriteEmitsKVMDomainWithKiBMemory(t *testing.T) {
	src := source.NewSource()
	src.Name = "migrated-guest"
	src.MemoryBytes = 2 * 1024 * 1024 * 1024
	src.VCPUs = 4
	src.Disks = []source.SourceDisk{
		{ID: 1, QEMUURI: "/var/lib/libvirt/images/migrated-guest-sda.qcow2", Format: "qcow2"},
		{ID: 2, QEMUURI: "/var/lib/libvirt/images/migrated-guest-sdb.qcow2", Format: "qcow2"},
	}
	src.Nics = []source.SourceNic{{MAC: "52:54:00:01:02:03", Vnet: "default", VnetKind: source.VnetNetwork}}

	gc := caps.GuestCaps{BlockBus: caps.BlockVirtioBlk, NetBus: caps.NetVirtio, Machine: caps.MachineQ35, ACPI: true}

	xmlStr, err := Write(src, gc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(xmlStr, `type="kvm"`) {
		t.Errorf("expected domain type=kvm, got %s", xmlStr)
	}
	if !strings.Contains(xmlStr, "KiB") {
		t.Errorf("expected memory unit KiB, got %s", xmlStr)
	}
	if !strings.Contains(xmlStr, `dev="vda"`) || !strings.Contains(xmlStr, `dev="vdb"`) {
		t.Errorf("expected contiguous virtio drive letters vda/vdb, got %s", xmlStr)
	}
}

func TestWriteDropsACPIFeatureWhenNotSupported(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest"
	src.VCPUs = 1
	src.Disks = []source.SourceDisk{{ID: 1, QEMUURI: "/tmp/disk.raw"}}

	gc := caps.GuestCaps{BlockBus: caps.BlockIDE, NetBus: caps.NetRTL8139, Machine: caps.MachineI440FX, ACPI: false}
	xmlStr, err := Write(src, gc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(xmlStr, "<acpi") {
		t.Errorf("expected acpi feature to be dropped, got %s", xmlStr)
	}
}

func TestWriteIDEDisksUseHdPrefix(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest"
	src.VCPUs = 1
	src.Disks = []source.SourceDisk{{ID: 1, QEMUURI: "/tmp/disk.raw"}}
	gc := caps.GuestCaps{BlockBus: caps.BlockIDE, NetBus: caps.NetRTL8139, Machine: caps.MachineI440FX}
	xmlStr, err := Write(src, gc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(xmlStr, `dev="hda"`) {
		t.Errorf("expected IDE disk to use hda target, got %s", xmlStr)
	}
}
