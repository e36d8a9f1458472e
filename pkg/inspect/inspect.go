// SPDX-License-Identifier: LGPL-3.0-or-later

// Package inspect defines the read-only Inspect record produced by the
// external filesystem inspector, and the FsInspector interface the
// pipeline uses to attach disks, mount them, and run that inspection
// (spec.md §3/§6). The concrete backend (an external guest-inspection
// tool) is intentionally out of scope here, mirroring the teacher's
// own providers/common/converter.go, which defines a Converter
// interface and leaves every concrete backend to its own package.
package inspect

import "context"

// GuestType is the broad OS family an inspection identified.
type GuestType string

const (
	GuestLinux   GuestType = "linux"
	GuestWindows GuestType = "windows"
	GuestOther   GuestType = "other"
)

// FirmwareOnDisk is what the inspector found by examining the guest's
// partition table and boot files, independent of what the source
// hypervisor claimed.
type FirmwareOnDisk struct {
	UEFI     bool
	ESPDevs  []string // EFI System Partition device paths, when UEFI
}

// WindowsPaths holds the guest-relative paths the Windows converter
// needs; zero value when the guest is not Windows.
type WindowsPaths struct {
	SystemRoot        string // e.g. "/Windows"
	SoftwareHive      string // path to the SOFTWARE hive, relative to SystemRoot
	SystemHive        string // path to the SYSTEM hive, relative to SystemRoot
	CurrentControlSet string // e.g. "ControlSet001"
}

// Application is one installed-software record as surfaced by the inspector.
type Application struct {
	Name    string
	Version string
	Publisher string
}

// Inspect is the read-only result of inspecting one mounted guest.
type Inspect struct {
	RootDevice string
	Type       GuestType
	Distro     string // e.g. "rhel", "ubuntu", "windows"
	Arch       string // e.g. "x86_64", "aarch64"
	MajorVersion int
	MinorVersion int

	PackageFormat  string // e.g. "rpm", "deb", ""
	PackageManager string // e.g. "yum", "apt", ""

	ProductName    string
	ProductVariant string

	Mountpoints []string

	Applications []Application

	Firmware FirmwareOnDisk

	Windows WindowsPaths // zero value unless Type == GuestWindows
}

// HasApplication reports whether an application matching name (exact,
// case-sensitive match on Name) was found.
func (i *Inspect) HasApplication(name string) bool {
	for _, a := range i.Applications {
		if a.Name == name {
			return true
		}
	}
	return false
}

// FsInspector is the capability the pipeline uses to attach a Source's
// disks to an inspection backend, mount the guest filesystems
// read-write, and produce the Inspect record the converters consume.
// Concrete implementations wrap an external inspection tool; none is
// provided here.
type FsInspector interface {
	// AttachDisks makes the given QEMU-URI disks available to the
	// inspector, in SourceDisk order.
	AttachDisks(ctx context.Context, qemuURIs []string) error

	// Inspect mounts the attached disks and returns the Inspect record.
	// Returns InspectionFailed on an unrecognized or corrupt guest.
	Inspect(ctx context.Context) (*Inspect, error)

	// MountAll mounts every filesystem in Inspect.Mountpoints,
	// read-write, so a converter can modify the guest.
	MountAll(ctx context.Context) error

	// Close unmounts everything and detaches the disks, in reverse
	// order of attachment. Safe to call multiple times.
	Close(ctx context.Context) error
}
