// SPDX-License-Identifier: LGPL-3.0-or-later

// Package caps defines the requested and negotiated guest-capability
// types shared by pkg/convert/linux, pkg/convert/windows and the
// target writers.
package caps

// BlockBus is a negotiated storage controller bus.
type BlockBus string

const (
	BlockVirtioBlk  BlockBus = "VirtioBlk"
	BlockVirtioSCSI BlockBus = "VirtioSCSI"
	BlockIDE        BlockBus = "IDE"
)

// NetBus is a negotiated network controller model.
type NetBus string

const (
	NetVirtio  NetBus = "VirtioNet"
	NetE1000   NetBus = "E1000"
	NetRTL8139 NetBus = "RTL8139"
)

// VideoModel is a negotiated video device model.
type VideoModel string

const (
	VideoQXL    VideoModel = "QXL"
	VideoCirrus VideoModel = "Cirrus"
)

// Machine is a negotiated QEMU machine type.
type Machine string

const (
	MachineI440FX Machine = "I440FX"
	MachineQ35    Machine = "Q35"
	MachineVirt   Machine = "Virt"
)

// RequestedGuestCaps are optional preferences supplied by the caller.
// A non-nil field forces negotiation to honor it or fail with
// NoMatchingDriver (never silently downgrade a requested capability).
type RequestedGuestCaps struct {
	BlockBus *BlockBus
	NetBus   *NetBus
	Video    *VideoModel
}

// GuestCaps is the final negotiated result. Every boolean field is
// true only when the converter verified kernel/driver support for it.
type GuestCaps struct {
	BlockBus       BlockBus
	NetBus         NetBus
	Video          VideoModel
	Machine        Machine
	Arch           string
	ACPI           bool
	VirtioRNG      bool
	VirtioBalloon  bool
	ISAPVPanic     bool
}
