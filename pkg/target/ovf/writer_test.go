// SPDX-License-Identifier: LGPL-3.0-or-later

package ovf

import (
	"strings"
	"testing"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/source"
)

func TestWriteEmitsResourceTypeCodedItems(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest1"
	src.VCPUs = 2
	src.MemoryBytes = 2 * 1024 * 1024 * 1024
	src.Disks = []source.SourceDisk{{ID: 1}}
	src.Nics = []source.SourceNic{{Vnet: "ovirtmgmt", VnetKind: source.VnetNetwork}}

	gc := caps.GuestCaps{BlockBus: caps.BlockVirtioSCSI, NetBus: caps.NetVirtio}
	diskSizes := map[int]int64{1: 10 * 1024 * 1024 * 1024}

	out, err := Write(OVirt, src, gc, diskSizes, nil)
	if err != nil {
		t.Fatal(err)
	}
	xmlStr := string(out)
	if !strings.Contains(xmlStr, "<rasd:ResourceType>17</rasd:ResourceType>") {
		t.Errorf("expected a disk item with ResourceType 17, got %s", xmlStr)
	}
	if !strings.Contains(xmlStr, "<rasd:ResourceType>10</rasd:ResourceType>") {
		t.Errorf("expected a NIC item with ResourceType 10, got %s", xmlStr)
	}
	if !strings.Contains(xmlStr, "VirtioSCSI") {
		t.Errorf("expected the SCSI controller subtype, got %s", xmlStr)
	}
}

func TestDiskFileLayoutDiffersByFlavour(t *testing.T) {
	ovirtPath := DiskFileLayout(OVirt, "guest1", 1, "uuid1")
	rhvPath := DiskFileLayout(RHVExportStorageDomain, "guest1", 1, "uuid1")
	if ovirtPath == rhvPath {
		t.Errorf("expected different file layouts for OVirt vs RHVExportStorageDomain, got %q for both", ovirtPath)
	}
	if !strings.Contains(rhvPath, "images/uuid1") {
		t.Errorf("rhvPath = %q, want images/<uuid> layout", rhvPath)
	}
}

func TestWriteIncludesXMLHeader(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest1"
	src.Disks = []source.SourceDisk{{ID: 1}}
	out, err := Write(OVirt, src, caps.GuestCaps{BlockBus: caps.BlockIDE}, map[int]int64{1: 1024}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(out), `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Errorf("expected xml header prefix, got %s", out[:40])
	}
}
