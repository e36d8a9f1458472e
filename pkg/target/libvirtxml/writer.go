// SPDX-License-Identifier: LGPL-3.0-or-later

// Package libvirtxml emits the target libvirt domain XML (spec.md
// §4.9), using the upstream libvirt.org/go/libvirtxml typed bindings
// to marshal — the same library pkg/source/libvirtxml uses to parse,
// now used in the opposite direction.
package libvirtxml

import (
	"fmt"

	lvxml "libvirt.org/go/libvirtxml"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/source"
)

// busPrefix maps a negotiated block bus to the libvirt target-device
// prefix spec.md §4.9 names.
func busPrefix(bus caps.BlockBus) (devPrefix, libvirtBus string) {
	switch bus {
	case caps.BlockVirtioBlk:
		return "vd", "virtio"
	case caps.BlockVirtioSCSI:
		return "sd", "scsi"
	case caps.BlockIDE:
		return "hd", "ide"
	default:
		return "sd", "scsi"
	}
}

// letterAssigner hands out contiguous per-bus target letters starting
// at 'a', per spec.md §4.9 and the drive-letter-injective invariant
// (spec.md §8).
type letterAssigner struct {
	next map[string]int
}

func newLetterAssigner() *letterAssigner {
	return &letterAssigner{next: make(map[string]int)}
}

func (l *letterAssigner) next_(prefix string) string {
	i := l.next[prefix]
	l.next[prefix] = i + 1
	return string(rune('a' + i))
}

// Write renders the target libvirt domain XML for one converted guest.
func Write(src *source.Source, gc caps.GuestCaps) (string, error) {
	domain := &lvxml.Domain{
		Type: "kvm",
		Name: src.EffectiveName(),
	}

	domain.Memory = &lvxml.DomainMemory{Value: uint(src.MemoryBytes / 1024), Unit: "KiB"}
	domain.CurrentMemory = &lvxml.DomainCurrentMemory{Value: uint(src.MemoryBytes / 1024), Unit: "KiB"}
	domain.VCPU = &lvxml.DomainVCPU{Value: src.VCPUs}

	domain.OS = &lvxml.DomainOS{
		Type: &lvxml.DomainOSType{Type: "hvm"},
	}
	switch gc.Machine {
	case caps.MachineQ35:
		domain.OS.Type.Machine = "q35"
	case caps.MachineVirt:
		domain.OS.Type.Machine = "virt"
	default:
		domain.OS.Type.Machine = "pc"
	}

	if gc.ACPI {
		domain.Features = &lvxml.DomainFeatureList{ACPI: &lvxml.DomainFeature{}, APIC: &lvxml.DomainFeatureAPIC{}}
	}

	domain.Devices = &lvxml.DomainDeviceList{}

	assigner := newLetterAssigner()
	devPrefix, libvirtBus := busPrefix(gc.BlockBus)
	for _, d := range src.Disks {
		letter := assigner.next_(devPrefix)
		disk := lvxml.DomainDisk{
			Device: "disk",
			Driver: &lvxml.DomainDiskDriver{Name: "qemu", Type: formatOrDefault(d.Format), Cache: "none"},
			Source: &lvxml.DomainDiskSource{
				File: &lvxml.DomainDiskSourceFile{File: d.QEMUURI},
			},
			Target: &lvxml.DomainDiskTarget{Dev: devPrefix + letter, Bus: libvirtBus},
		}
		domain.Devices.Disks = append(domain.Devices.Disks, disk)
	}

	for _, r := range src.Removables {
		device := "cdrom"
		if r.Kind == source.RemovableFloppy {
			device = "floppy"
		}
		prefix, bus := removableBusPrefix(r.Controller)
		letter := assigner.next_(prefix)
		disk := lvxml.DomainDisk{
			Device: device,
			Driver: &lvxml.DomainDiskDriver{Name: "qemu"},
			Target: &lvxml.DomainDiskTarget{Dev: prefix + letter, Bus: bus},
			ReadOnly: &lvxml.DomainDiskReadOnly{},
		}
		domain.Devices.Disks = append(domain.Devices.Disks, disk)
	}

	var netModel string
	switch gc.NetBus {
	case caps.NetVirtio:
		netModel = "virtio"
	case caps.NetE1000:
		netModel = "e1000"
	default:
		netModel = "rtl8139"
	}
	for _, n := range src.Nics {
		iface := lvxml.DomainInterface{
			MAC:    &lvxml.DomainInterfaceMAC{Address: n.MAC},
			Model:  &lvxml.DomainInterfaceModel{Type: netModel},
			Source: networkSource(n),
		}
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, iface)
	}

	domain.Devices.Inputs = []lvxml.DomainInput{
		{Type: "tablet", Bus: "usb"},
		{Type: "mouse", Bus: "ps2"},
	}
	domain.Devices.Consoles = []lvxml.DomainConsole{
		{Target: &lvxml.DomainConsoleTarget{Type: "serial"}, Source: &lvxml.DomainChardevSource{Pty: &lvxml.DomainChardevSourcePty{}}},
	}

	xmlStr, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal target libvirt domain xml: %w", err)
	}
	return xmlStr, nil
}

func formatOrDefault(format string) string {
	if format == "" {
		return "raw"
	}
	return format
}

func removableBusPrefix(c source.Controller) (string, string) {
	switch c {
	case source.ControllerSATA:
		return "sd", "sata"
	case source.ControllerSCSI:
		return "sd", "scsi"
	default:
		return "hd", "ide"
	}
}

func networkSource(n source.SourceNic) *lvxml.DomainInterfaceSource {
	if n.VnetKind == source.VnetNetwork {
		return &lvxml.DomainInterfaceSource{Network: &lvxml.DomainInterfaceSourceNetwork{Network: n.Vnet}}
	}
	return &lvxml.DomainInterfaceSource{Bridge: &lvxml.DomainInterfaceSourceBridge{Bridge: n.Vnet}}
}
