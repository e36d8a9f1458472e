// SPDX-License-Identifier: LGPL-3.0-or-later

package openstack

import (
	"testing"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/inspect"
	"kvmigrate/pkg/source"
)

func TestBuildRemapsGlanceDistroSpellings(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest1"
	insp := &inspect.Inspect{Type: inspect.GuestLinux, Distro: "sles", MajorVersion: 15}
	gc := caps.GuestCaps{Arch: "x86_64", BlockBus: caps.BlockVirtioBlk, NetBus: caps.NetVirtio, Machine: caps.MachineQ35}

	opts := Build(src, gc, insp)
	if opts.Properties["os_distro"] != "sled" {
		t.Errorf("os_distro = %q, want sled (Glance spelling for sles)", opts.Properties["os_distro"])
	}
	if opts.Properties["os_version"] != "15" {
		t.Errorf("os_version = %q, want 15", opts.Properties["os_version"])
	}
}

func TestBuildSetsHwScsiModelOnlyForVirtioSCSI(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest1"
	gc := caps.GuestCaps{BlockBus: caps.BlockVirtioSCSI}
	opts := Build(src, gc, nil)
	if opts.Properties["hw_scsi_model"] != "virtio-scsi" {
		t.Errorf("hw_scsi_model = %q, want virtio-scsi", opts.Properties["hw_scsi_model"])
	}

	gc2 := caps.GuestCaps{BlockBus: caps.BlockVirtioBlk}
	opts2 := Build(src, gc2, nil)
	if _, ok := opts2.Properties["hw_scsi_model"]; ok {
		t.Error("expected hw_scsi_model to be absent for VirtioBlk")
	}
}

func TestBuildSetsFirmwareAndRNGProperties(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest1"
	src.Firmware = source.FirmwareUEFI
	gc := caps.GuestCaps{VirtioRNG: true}
	opts := Build(src, gc, nil)
	if opts.Properties["hw_firmware_type"] != "uefi" {
		t.Errorf("hw_firmware_type = %q, want uefi", opts.Properties["hw_firmware_type"])
	}
	if opts.Properties["hw_rng_model"] != "virtio" {
		t.Errorf("hw_rng_model = %q, want virtio", opts.Properties["hw_rng_model"])
	}
}
