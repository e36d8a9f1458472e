// SPDX-License-Identifier: LGPL-3.0-or-later

// Package openstack emits the OpenStack Glance image-properties map of
// spec.md §4.9: metadata only, no API calls. Grounded on the teacher's
// providers/openstack package, which already shapes image metadata as
// a map[string]string via gophercloud's images.CreateOpts.Properties
// (providers/openstack/export.go's UploadImage); this package reuses
// that same typed Properties field as the output shape, repurposed
// from "create this image now" to "describe what its properties would
// be", since image upload itself is the external Copier's job (spec.md
// §6), not this core's.
package openstack

import (
	"strconv"
	"strings"

	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/inspect"
	"kvmigrate/pkg/source"
)

// glanceOSDistro remaps a handful of distro spellings to Glance's
// os_distro vocabulary, per spec.md §4.9.
var glanceOSDistro = map[string]string{
	"archlinux": "arch",
	"sles":      "sled",
}

func hwDiskBus(bus caps.BlockBus) string {
	switch bus {
	case caps.BlockVirtioBlk, caps.BlockVirtioSCSI:
		return "virtio"
	case caps.BlockIDE:
		return "ide"
	default:
		return "scsi"
	}
}

func hwVIFModel(bus caps.NetBus) string {
	switch bus {
	case caps.NetVirtio:
		return "virtio"
	case caps.NetE1000:
		return "e1000"
	default:
		return "rtl8139"
	}
}

func hwVideoModel(v caps.VideoModel) string {
	switch v {
	case caps.VideoQXL:
		return "qxl"
	case caps.VideoCirrus:
		return "cirrus"
	default:
		return "vga"
	}
}

func hwMachineType(m caps.Machine) string {
	switch m {
	case caps.MachineQ35:
		return "q35"
	case caps.MachineVirt:
		return "virt"
	default:
		return "pc"
	}
}

func osVersion(insp *inspect.Inspect) string {
	if insp == nil || insp.MajorVersion == 0 {
		return ""
	}
	if insp.MinorVersion == 0 {
		return strconv.Itoa(insp.MajorVersion)
	}
	return strconv.Itoa(insp.MajorVersion) + "." + strconv.Itoa(insp.MinorVersion)
}

func osDistro(distro string) string {
	if remap, ok := glanceOSDistro[strings.ToLower(distro)]; ok {
		return remap
	}
	return distro
}

// Build assembles the Glance image-properties map for one converted
// guest, using gophercloud's images.CreateOpts as the typed carrier so
// a real upload step can consume Properties directly.
func Build(src *source.Source, gc caps.GuestCaps, insp *inspect.Inspect) images.CreateOpts {
	props := map[string]string{
		"architecture":     gc.Arch,
		"hypervisor_type":  "kvm",
		"vm_mode":          "hvm",
		"hw_disk_bus":      hwDiskBus(gc.BlockBus),
		"hw_vif_model":     hwVIFModel(gc.NetBus),
		"hw_video_model":   hwVideoModel(gc.Video),
		"hw_machine_type":  hwMachineType(gc.Machine),
	}

	if gc.BlockBus == caps.BlockVirtioSCSI {
		props["hw_scsi_model"] = "virtio-scsi"
	}

	if src.Topology != nil {
		props["hw_cpu_sockets"] = strconv.Itoa(src.Topology.Sockets)
		props["hw_cpu_cores"] = strconv.Itoa(src.Topology.Cores)
		props["hw_cpu_threads"] = strconv.Itoa(src.Topology.Threads)
	}

	if insp != nil {
		props["os_type"] = string(insp.Type)
		if insp.Distro != "" {
			props["os_distro"] = osDistro(insp.Distro)
		}
		if v := osVersion(insp); v != "" {
			props["os_version"] = v
		}
	}

	if gc.VirtioRNG {
		props["hw_rng_model"] = "virtio"
	}
	if src.Firmware == source.FirmwareUEFI {
		props["hw_firmware_type"] = "uefi"
	}

	return images.CreateOpts{
		Name:            src.EffectiveName(),
		DiskFormat:      diskFormat(gc),
		ContainerFormat: "bare",
		Properties:      props,
	}
}

func diskFormat(gc caps.GuestCaps) string {
	return "qcow2"
}
