// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"context"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/inspect"
)

// ConversionPolicy carries the caller-chosen in-place-conversion knobs
// of spec.md §6 that aren't part of root_choice or requested_caps:
// whether to keep a guest's existing serial console, and where to find
// the virtio-win driver ISO for Windows guests.
type ConversionPolicy struct {
	KeepSerialConsole bool
	VirtioWinPath     string
}

// GuestConverter performs the in-place OS mutation of spec.md §4.6/§4.7
// once a guest's filesystems are mounted read-write: Linux bootloader
// and kernel rewriting, or Windows driver injection and registry
// edits. A concrete backend drives pkg/convert/linux or
// pkg/convert/windows against the real mounted filesystem FsInspector
// exposed; like FsInspector itself, no concrete backend is provided
// here (see DESIGN.md).
type GuestConverter interface {
	// ConvertLinux mutates a Linux guest in place: picks the default
	// kernel, rewrites console/device-name references, plans any
	// EFI-to-BIOS bootloader change, and negotiates the final
	// GuestCaps against the detected kernel's driver support.
	ConvertLinux(ctx context.Context, insp *inspect.Inspect, requested caps.RequestedGuestCaps, policy ConversionPolicy) (caps.GuestCaps, error)

	// ConvertWindows mutates a Windows guest in place: injects the
	// matching virtio storage/network drivers from policy.VirtioWinPath,
	// registers them for first boot, and returns the resulting GuestCaps.
	ConvertWindows(ctx context.Context, insp *inspect.Inspect, requested caps.RequestedGuestCaps, policy ConversionPolicy) (caps.GuestCaps, error)
}
