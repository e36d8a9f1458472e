// SPDX-License-Identifier: LGPL-3.0-or-later

// Package source implements the internal source model that every
// parser (libvirt-XML, OVF-in-OVA, VMX) normalizes its guest
// description into, and that the URI remapper and network mapper
// mutate in place.
package source

// Hypervisor tags the family a Source came from.
type Hypervisor string

const (
	HypervisorXen        Hypervisor = "Xen"
	HypervisorVMware     Hypervisor = "VMware"
	HypervisorQEMU       Hypervisor = "QEMU"
	HypervisorKVM        Hypervisor = "KVM"
	HypervisorVirtualBox Hypervisor = "VirtualBox"
	HypervisorPhysical   Hypervisor = "Physical"
	HypervisorUnknown    Hypervisor = "Unknown"
)

// Firmware is the source firmware type.
type Firmware string

const (
	FirmwareBIOS    Firmware = "BIOS"
	FirmwareUEFI    Firmware = "UEFI"
	FirmwareUnknown Firmware = "Unknown"
)

// Controller is the storage/removable controller bus a disk is attached to.
type Controller string

const (
	ControllerIDE        Controller = "IDE"
	ControllerSCSI       Controller = "SCSI"
	ControllerSATA       Controller = "SATA"
	ControllerVirtioBlk  Controller = "VirtioBlk"
	ControllerVirtioSCSI Controller = "VirtioSCSI"
)

// RemovableKind distinguishes CD-ROM and floppy removables.
type RemovableKind string

const (
	RemovableCDROM  RemovableKind = "CDROM"
	RemovableFloppy RemovableKind = "Floppy"
)

// VnetKind distinguishes bridge-attached from libvirt-network-attached NICs.
type VnetKind string

const (
	VnetBridge  VnetKind = "Bridge"
	VnetNetwork VnetKind = "Network"
)

// DisplayType is the source console/display protocol.
type DisplayType string

const (
	DisplayVNC    DisplayType = "VNC"
	DisplaySpice  DisplayType = "Spice"
	DisplayWindow DisplayType = "Window"
)

// ListenKind discriminates the variants of a display's listen policy.
type ListenKind string

const (
	ListenNone         ListenKind = "None"
	ListenAddress      ListenKind = "Address"
	ListenNetwork      ListenKind = "Network"
	ListenSocket       ListenKind = "Socket"
	ListenExplicitNone ListenKind = "ExplicitNone"
)

// Listen is the tagged-union listen policy of a Display.
//
// Open question (spec.md §9): some source variants carry a socket path
// for <listen type='socket'>, others don't expose it at all. This
// model always carries the optional SocketPath field rather than
// dropping it, so whichever target writer needs it can consume it
// without the information having been silently discarded upstream.
type Listen struct {
	Kind       ListenKind
	Address    string // valid when Kind == ListenAddress
	Network    string // valid when Kind == ListenNetwork
	SocketPath *string // valid when Kind == ListenSocket; nil means "no path given"
}

// Display describes the source's console/display configuration.
type Display struct {
	Type     DisplayType
	Keymap   *string
	Password *string
	Listen   Listen
	Port     *int
}

// VideoModel is a tagged variant of source video hardware.
type VideoModel struct {
	Model string // e.g. "cirrus", "vga", "vmvga", "qxl"
	VRAMKiB int
}

// SoundModel is a tagged variant of source sound hardware.
type SoundModel struct {
	Model string // e.g. "ac97", "es1370", "sb16"
}

// CPUTopology carries the optional sockets/cores/threads breakdown.
// Invariant: if any two of {Sockets, Cores, Threads, VCPUs} are set
// (non-zero) the third must be consistent; Normalize enforces this.
type CPUTopology struct {
	Sockets int
	Cores   int
	Threads int
}

// SourceDisk is one ordered, stable-ID disk on the source side.
type SourceDisk struct {
	ID         int
	QEMUURI    string
	Format     string // e.g. "raw", "qcow2", "vmdk"; empty means unknown/inherit
	Controller Controller
}

// SourceRemovable is an ordered CD-ROM or floppy device.
type SourceRemovable struct {
	Kind       RemovableKind
	Controller Controller
	Slot       *int
}

// SourceNic is one ordered network interface.
type SourceNic struct {
	MAC                string // lowercased, "" if absent/treated-as-absent
	Model              string
	Vnet               string // current (possibly remapped) target name
	VnetOrig           string // the name as parsed from the source, never mutated
	VnetKind           VnetKind
	MappingExplanation string // set by the network mapper; user-facing text
}

// Source represents one powered-off guest as seen from the source side.
//
// Lifecycle: constructed once by a parser; mutated only by the URI
// remapper (Disks) and the network mapper (Nics); owned by the
// pipeline; destroyed at pipeline end. Each disk/NIC is owned by
// exactly one Source (no aliasing).
type Source struct {
	Name   string
	Rename string // "" means keep Name

	Hypervisor Hypervisor

	MemoryBytes int64
	VCPUs       int
	Topology    *CPUTopology
	CPUVendor   string
	CPUModel    string
	Features    map[string]bool // e.g. "acpi", "apic", "pae"

	Firmware Firmware

	Display *Display
	Video   *VideoModel
	Sound   *SoundModel

	Disks      []SourceDisk
	Removables []SourceRemovable
	Nics       []SourceNic
}

// NewSource constructs an empty Source ready for a parser to populate.
func NewSource() *Source {
	return &Source{
		Hypervisor: HypervisorUnknown,
		Firmware:   FirmwareUnknown,
		Features:   make(map[string]bool),
	}
}

// EffectiveName returns Rename if set, otherwise Name.
func (s *Source) EffectiveName() string {
	if s.Rename != "" {
		return s.Rename
	}
	return s.Name
}

// HasFeature reports whether a named CPU feature flag is set.
func (s *Source) HasFeature(name string) bool {
	return s.Features[name]
}

// NormalizeTopology enforces the CPU topology invariant of spec.md §3:
// if any two of {sockets, cores, threads, total vcpus} are known, the
// third is derived; otherwise it errors on inconsistency.
func (s *Source) NormalizeTopology() error {
	if s.Topology == nil {
		return nil
	}
	t := s.Topology
	knownCount := 0
	if t.Sockets > 0 {
		knownCount++
	}
	if t.Cores > 0 {
		knownCount++
	}
	if t.Threads > 0 {
		knownCount++
	}
	total := s.VCPUs

	switch {
	case t.Sockets > 0 && t.Cores > 0 && t.Threads > 0:
		derived := t.Sockets * t.Cores * t.Threads
		if total != 0 && total != derived {
			return &topologyError{total, derived}
		}
		s.VCPUs = derived
	case t.Sockets > 0 && t.Cores > 0 && total > 0:
		if total%(t.Sockets*t.Cores) != 0 {
			return &topologyError{total, t.Sockets * t.Cores}
		}
		t.Threads = total / (t.Sockets * t.Cores)
	case t.Sockets > 0 && t.Threads > 0 && total > 0:
		if total%(t.Sockets*t.Threads) != 0 {
			return &topologyError{total, t.Sockets * t.Threads}
		}
		t.Cores = total / (t.Sockets * t.Threads)
	case t.Cores > 0 && t.Threads > 0 && total > 0:
		if total%(t.Cores*t.Threads) != 0 {
			return &topologyError{total, t.Cores * t.Threads}
		}
		t.Sockets = total / (t.Cores * t.Threads)
	case knownCount <= 1 && total > 0:
		// Not enough information to derive the missing two; leave as-is.
	}
	return nil
}

type topologyError struct {
	total, derived int
}

func (e *topologyError) Error() string {
	return "cpu topology inconsistent: total vcpus and sockets*cores*threads disagree"
}
