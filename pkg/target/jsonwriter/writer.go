// SPDX-License-Identifier: LGPL-3.0-or-later

// Package jsonwriter emits the stable-key JSON metadata document of
// spec.md §4.9, matching the teacher's own daemon/api JSON response
// shape: plain exported structs marshaled with encoding/json, using a
// custom "unknown"-string type that renders as JSON null.
package jsonwriter

import (
	"bytes"
	"encoding/json"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/inspect"
	"kvmigrate/pkg/source"
)

// MaybeString renders as JSON null when its value is "unknown",
// otherwise as a normal JSON string — per spec.md §4.9's
// `"unknown"` → `null` rule.
type MaybeString string

func (m MaybeString) MarshalJSON() ([]byte, error) {
	if string(m) == "unknown" || string(m) == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(m))
}

type cpuInfo struct {
	Vendor   MaybeString `json:"vendor,omitempty"`
	Model    MaybeString `json:"model,omitempty"`
	Topology *topologyInfo `json:"topology,omitempty"`
}

type topologyInfo struct {
	Sockets int `json:"sockets"`
	Cores   int `json:"cores"`
	Threads int `json:"threads"`
}

type firmwareInfo struct {
	Type string     `json:"type"`
	UEFI *uefiInfo `json:"uefi,omitempty"`
}

type uefiInfo struct {
	Code  string `json:"code"`
	Vars  string `json:"vars"`
	Flags string `json:"flags"`
}

type diskInfo struct {
	Dev    string `json:"dev"`
	Bus    string `json:"bus"`
	Format string `json:"format"`
	File   string `json:"file"`
}

type removableInfo struct {
	Kind string `json:"kind"`
	Bus  string `json:"bus"`
	Slot *int   `json:"slot,omitempty"`
}

type nicInfo struct {
	Vnet     string      `json:"vnet"`
	VnetType string      `json:"vnet-type"`
	Model    MaybeString `json:"model,omitempty"`
	MAC      MaybeString `json:"mac,omitempty"`
}

type guestCapsInfo struct {
	BlockBus      string `json:"block_bus"`
	NetBus        string `json:"net_bus"`
	Video         string `json:"video"`
	Machine       string `json:"machine"`
	Arch          string `json:"arch"`
	ACPI          bool   `json:"acpi"`
	VirtioRNG     bool   `json:"virtio_rng"`
	VirtioBalloon bool   `json:"virtio_balloon"`
	ISAPVPanic    bool   `json:"isa_pvpanic"`
}

// Document is the full stable-key JSON object spec.md §4.9 names.
type Document struct {
	Version    int             `json:"version"`
	Name       string          `json:"name"`
	Memory     int64           `json:"memory"`
	VCPU       int             `json:"vcpu"`
	CPU        *cpuInfo        `json:"cpu,omitempty"`
	Firmware   firmwareInfo    `json:"firmware"`
	Features   []string        `json:"features"`
	Machine    string          `json:"machine"`
	Disks      []diskInfo      `json:"disks"`
	Removables []removableInfo `json:"removables"`
	Nics       []nicInfo       `json:"nics"`
	GuestCaps  guestCapsInfo   `json:"guestcaps"`
	Sound      *string         `json:"sound,omitempty"`
	Display    *string         `json:"display,omitempty"`
	Inspect    *inspectInfo    `json:"inspect,omitempty"`
}

type inspectInfo struct {
	Type           string   `json:"type"`
	Distro         string   `json:"distro"`
	Arch           string   `json:"arch"`
	MajorVersion   int      `json:"major_version"`
	MinorVersion   int      `json:"minor_version"`
	PackageFormat  string   `json:"package_format"`
	PackageManager string   `json:"package_manager"`
	ProductName    string   `json:"product_name"`
	ProductVariant string   `json:"product_variant"`
	Mountpoints    []string `json:"mountpoints"`
}

func busPrefixAndName(bus caps.BlockBus) (devPrefix, busName string) {
	switch bus {
	case caps.BlockVirtioBlk:
		return "vd", "virtio"
	case caps.BlockVirtioSCSI:
		return "sd", "scsi"
	default:
		return "hd", "ide"
	}
}

// Build assembles the Document for one converted guest.
func Build(src *source.Source, gc caps.GuestCaps, insp *inspect.Inspect) *Document {
	doc := &Document{
		Version: 1,
		Name:    src.EffectiveName(),
		Memory:  src.MemoryBytes,
		VCPU:    src.VCPUs,
		Machine: string(gc.Machine),
	}

	if src.CPUVendor != "" || src.CPUModel != "" || src.Topology != nil {
		c := &cpuInfo{Vendor: MaybeString(orUnknown(src.CPUVendor)), Model: MaybeString(orUnknown(src.CPUModel))}
		if src.Topology != nil {
			c.Topology = &topologyInfo{Sockets: src.Topology.Sockets, Cores: src.Topology.Cores, Threads: src.Topology.Threads}
		}
		doc.CPU = c
	}

	doc.Firmware = firmwareInfo{Type: string(src.Firmware)}
	if src.Firmware == source.FirmwareUEFI {
		doc.Firmware.UEFI = &uefiInfo{Code: "OVMF_CODE.fd", Vars: "OVMF_VARS.fd", Flags: "secboot"}
	}

	for name, on := range src.Features {
		if on {
			doc.Features = append(doc.Features, name)
		}
	}

	devPrefix, busName := busPrefixAndName(gc.BlockBus)
	letter := 0
	for _, d := range src.Disks {
		doc.Disks = append(doc.Disks, diskInfo{
			Dev:    devPrefix + string(rune('a'+letter)),
			Bus:    busName,
			Format: orUnknown(d.Format),
			File:   d.QEMUURI,
		})
		letter++
	}

	for _, r := range src.Removables {
		doc.Removables = append(doc.Removables, removableInfo{
			Kind: string(r.Kind),
			Bus:  string(r.Controller),
			Slot: r.Slot,
		})
	}

	for _, n := range src.Nics {
		doc.Nics = append(doc.Nics, nicInfo{
			Vnet:     n.Vnet,
			VnetType: string(n.VnetKind),
			Model:    MaybeString(orUnknown(n.Model)),
			MAC:      MaybeString(orUnknown(n.MAC)),
		})
	}

	doc.GuestCaps = guestCapsInfo{
		BlockBus:      string(gc.BlockBus),
		NetBus:        string(gc.NetBus),
		Video:         string(gc.Video),
		Machine:       string(gc.Machine),
		Arch:          gc.Arch,
		ACPI:          gc.ACPI,
		VirtioRNG:     gc.VirtioRNG,
		VirtioBalloon: gc.VirtioBalloon,
		ISAPVPanic:    gc.ISAPVPanic,
	}

	if src.Sound != nil {
		s := src.Sound.Model
		doc.Sound = &s
	}
	if src.Display != nil {
		d := string(src.Display.Type)
		doc.Display = &d
	}

	if insp != nil {
		doc.Inspect = &inspectInfo{
			Type:           string(insp.Type),
			Distro:         orUnknown(insp.Distro),
			Arch:           orUnknown(insp.Arch),
			MajorVersion:   insp.MajorVersion,
			MinorVersion:   insp.MinorVersion,
			PackageFormat:  orUnknown(insp.PackageFormat),
			PackageManager: orUnknown(insp.PackageManager),
			ProductName:    orUnknown(insp.ProductName),
			ProductVariant: orUnknown(insp.ProductVariant),
			Mountpoints:    insp.Mountpoints,
		}
	}

	return doc
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Write renders doc as indented, newline-terminated UTF-8 JSON, per
// spec.md §6's output-artifact contract for <guest>.json.
func Write(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
