// SPDX-License-Identifier: LGPL-3.0-or-later

package linux

import (
	kverrors "kvmigrate/internal/errors"
	"kvmigrate/pkg/caps"
)

// NegotiateGuestCaps derives the final GuestCaps for a Linux guest from
// the chosen default kernel's probed feature support, honoring any
// RequestedGuestCaps the caller supplied. Per spec.md §4.6: a requested
// capability the kernel cannot actually support is an error, never a
// silent downgrade.
func NegotiateGuestCaps(k Kernel, arch string, requested *caps.RequestedGuestCaps) (caps.GuestCaps, error) {
	out := caps.GuestCaps{
		Arch:          arch,
		ACPI:          true,
		VirtioRNG:     k.VirtioRNG,
		VirtioBalloon: k.VirtioBalloon,
		ISAPVPanic:    k.PVPanic,
	}

	switch {
	case k.VirtioBlk:
		out.BlockBus = caps.BlockVirtioBlk
	case k.VirtioSCSI:
		out.BlockBus = caps.BlockVirtioSCSI
	default:
		out.BlockBus = caps.BlockIDE
	}

	if k.VirtioNet {
		out.NetBus = caps.NetVirtio
	} else {
		out.NetBus = caps.NetRTL8139
	}

	out.Video = caps.VideoQXL
	out.Machine = caps.MachineQ35
	if arch == "i686" || arch == "i386" {
		out.Machine = caps.MachineI440FX
	}

	if requested != nil {
		if requested.BlockBus != nil {
			if !blockBusSupported(k, *requested.BlockBus) {
				return caps.GuestCaps{}, kverrors.New(kverrors.NoMatchingDriver, "requested block bus %v not supported by kernel %s", *requested.BlockBus, k.Version)
			}
			out.BlockBus = *requested.BlockBus
		}
		if requested.NetBus != nil {
			if *requested.NetBus == caps.NetVirtio && !k.VirtioNet {
				return caps.GuestCaps{}, kverrors.New(kverrors.NoMatchingDriver, "requested virtio net bus not supported by kernel %s", k.Version)
			}
			out.NetBus = *requested.NetBus
		}
		if requested.Video != nil {
			out.Video = *requested.Video
		}
	}

	return out, nil
}

func blockBusSupported(k Kernel, bus caps.BlockBus) bool {
	switch bus {
	case caps.BlockVirtioBlk:
		return k.VirtioBlk
	case caps.BlockVirtioSCSI:
		return k.VirtioSCSI
	case caps.BlockIDE:
		return true
	default:
		return false
	}
}
