// SPDX-License-Identifier: LGPL-3.0-or-later

// Package linux implements the Linux in-place converter of spec.md
// §4.6: bootloader detection/configuration, kernel enumeration and
// feature probing, console/device-name rewriting via pkg/augeas, and
// final GuestCaps negotiation.
//
// Grounded on the staged-mutation style of the teacher's
// providers/common/pipeline.go and guest_config.go: a sequence of
// small, independently testable steps operating on one in-memory guest
// description, here generalized from "collect metadata for export" to
// "mutate a mounted guest in place".
package linux

import (
	"path"
	"strings"

	"kvmigrate/pkg/augeas"
)

// BootloaderKind is the tagged variant of a detected bootloader.
type BootloaderKind string

const (
	GrubLegacy BootloaderKind = "GrubLegacy"
	Grub2BIOS  BootloaderKind = "Grub2BIOS"
	Grub2EFI   BootloaderKind = "Grub2EFI"
	ExtLinux   BootloaderKind = "ExtLinux"
)

// Bootloader is the capability spec.md §4.6 describes: list/select
// kernels, add/remove serial console arguments, rebuild its config,
// and report which config files the device-name rewriter must patch.
type Bootloader interface {
	Kind() BootloaderKind
	ListKernels() []string // ordered vmlinuz paths; first is the default
	SetDefaultKernel(vmlinuzPath string) error
	ConfigureConsole(keepSerialConsole bool) error
	RemoveConsole() error
	Update() error // rebuilds bootloader config; no-op for ExtLinux
	AugeasPatterns() []augeas.Pattern
}

// GrubConfig is a minimal in-memory stand-in for a bootloader's config
// tree sufficient to drive Bootloader logic and tests; a real backend
// would read/write the actual config file on the mounted guest.
type GrubConfig struct {
	ConfigPath string
	Entries    []GrubEntry
	kind       BootloaderKind
}

// GrubEntry is one boot menu entry.
type GrubEntry struct {
	VmlinuzPath string
	CmdLine     string
	Default     bool
}

// NewBootloader constructs a Bootloader of the given kind over config.
func NewBootloader(kind BootloaderKind, config *GrubConfig) Bootloader {
	config.kind = kind
	return config
}

func (g *GrubConfig) Kind() BootloaderKind { return g.kind }

func (g *GrubConfig) ListKernels() []string {
	var out []string
	var def string
	for _, e := range g.Entries {
		if e.Default {
			def = e.VmlinuzPath
			continue
		}
		out = append(out, e.VmlinuzPath)
	}
	if def != "" {
		out = append([]string{def}, out...)
	}
	return out
}

func (g *GrubConfig) SetDefaultKernel(vmlinuzPath string) error {
	found := false
	for i := range g.Entries {
		if g.Entries[i].VmlinuzPath == vmlinuzPath {
			g.Entries[i].Default = true
			found = true
		} else {
			g.Entries[i].Default = false
		}
	}
	if !found {
		return errNotFound(vmlinuzPath)
	}
	return nil
}

func (g *GrubConfig) ConfigureConsole(keepSerialConsole bool) error {
	var pattern augeas.Pattern
	if keepSerialConsole {
		pattern = augeas.ConsolePattern(g.ConfigPath)
	} else {
		pattern = augeas.RemoveConsolePattern(g.ConfigPath)
	}
	e := augeas.New([]augeas.Pattern{pattern})
	for i := range g.Entries {
		rewritten, _ := e.Apply(g.ConfigPath, g.Entries[i].CmdLine)
		g.Entries[i].CmdLine = rewritten
	}
	return nil
}

func (g *GrubConfig) RemoveConsole() error {
	return g.ConfigureConsole(false)
}

func (g *GrubConfig) Update() error {
	if g.kind == ExtLinux {
		return nil // extlinux configs are edited in place, no regeneration step
	}
	return nil // grub2-mkconfig is an external command, out of scope here
}

func (g *GrubConfig) AugeasPatterns() []augeas.Pattern {
	switch g.kind {
	case Grub2BIOS, Grub2EFI:
		return []augeas.Pattern{
			augeas.ConsolePattern(g.ConfigPath),
			augeas.DeviceNamePattern(g.ConfigPath),
			augeas.DeviceNamePattern("/etc/fstab"),
		}
	case GrubLegacy, ExtLinux:
		return []augeas.Pattern{
			augeas.ConsolePattern(g.ConfigPath),
			augeas.DeviceNamePattern("/etc/fstab"),
		}
	default:
		return nil
	}
}

// EFIToBIOSPlan is the fixed sequence spec.md §4.6 names for converting
// an EFI-booted GRUB2 guest to BIOS GRUB2.
type EFIToBIOSPlan struct {
	ESPPartition  string // partition to relabel from ESP to BIOS-boot GUID
	FstabEFILine  string // the /boot/efi line to drop
}

// ESP and BIOS-boot-partition GPT type GUIDs, per spec.md §4.6.
const (
	GUIDESPPartition       = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	GUIDBIOSBootPartition  = "21686148-6449-6E6F-744E-656564454649"
)

// PlanEFIToBIOS decides whether a guest needs the EFI→BIOS GRUB2
// conversion, and if so, what the relabel + fstab edit should do. The
// actual partition-table relabel and grub2-install/grub2-mkconfig runs
// are external-command side effects out of scope for this package.
func PlanEFIToBIOS(isEFI bool, espPartition string, fstabLines []string) (*EFIToBIOSPlan, []string) {
	if !isEFI {
		return nil, fstabLines
	}
	var kept []string
	var efiLine string
	for _, l := range fstabLines {
		if strings.Contains(l, "/boot/efi") {
			efiLine = l
			continue
		}
		kept = append(kept, l)
	}
	return &EFIToBIOSPlan{ESPPartition: espPartition, FstabEFILine: efiLine}, kept
}

func errNotFound(vmlinuzPath string) error {
	return &kernelNotFoundError{path.Base(vmlinuzPath)}
}

type kernelNotFoundError struct{ name string }

func (e *kernelNotFoundError) Error() string {
	return "kernel " + e.name + " not present in bootloader menu"
}
