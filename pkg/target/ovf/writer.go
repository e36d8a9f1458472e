// SPDX-License-Identifier: LGPL-3.0-or-later

// Package ovf emits the oVirt/RHV-flavour OVF descriptor of spec.md
// §4.9: a VirtualHardwareSection with ResourceType-coded items,
// referencing each disk through the flavour's expected file layout.
//
// Grounded on the struct-literal envelope construction + xml.MarshalIndent
// approach of
// other_examples/20df98ca_Hazanel-hyperV-to-ova__ova-ovfFormater.go.go,
// adapted from a Hyper-V-sourced OVF export to a KVM-target,
// oVirt/RHV-flavoured one.
package ovf

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/source"
)

// Flavour selects the disk-file-layout and VM-type conventions of the
// target oVirt/RHV variant, per spec.md §4.9.
type Flavour string

const (
	OVirt                  Flavour = "OVirt"
	RHVExportStorageDomain Flavour = "RHVExportStorageDomain"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// ResourceType codes used below, mirroring DMTF CIM_ResourceAllocationSettingData.
const (
	resCPU    = 3
	resMemory = 4
	resIDE    = 5
	resSCSI   = 6
	resNIC    = 10
	resDisk   = 17
)

type Envelope struct {
	XMLName        xml.Name       `xml:"ovf:Envelope"`
	XmlnsOvf       string         `xml:"xmlns:ovf,attr"`
	XmlnsRasd      string         `xml:"xmlns:rasd,attr"`
	XmlnsVssd      string         `xml:"xmlns:vssd,attr"`
	XmlnsXsi       string         `xml:"xmlns:xsi,attr"`
	References     References     `xml:"References"`
	DiskSection    DiskSection    `xml:"DiskSection"`
	NetworkSection NetworkSection `xml:"NetworkSection"`
	VirtualSystem  VirtualSystem  `xml:"VirtualSystem"`
}

type References struct {
	Files []File `xml:"File"`
}

type File struct {
	ID   string `xml:"ovf:id,attr"`
	Href string `xml:"ovf:href,attr"`
	Size int64  `xml:"ovf:size,attr"`
}

type DiskSection struct {
	Info  string `xml:"Info"`
	Disks []Disk `xml:"Disk"`
}

type Disk struct {
	DiskID                  string `xml:"ovf:diskId,attr"`
	Capacity                int64  `xml:"ovf:capacity,attr"`
	CapacityAllocationUnits string `xml:"ovf:capacityAllocationUnits,attr"`
	FileRef                 string `xml:"ovf:fileRef,attr"`
	Format                  string `xml:"ovf:format,attr"`
}

type NetworkSection struct {
	Info     string    `xml:"Info"`
	Networks []Network `xml:"Network"`
}

type Network struct {
	Name        string `xml:"ovf:name,attr"`
	Description string `xml:"Description"`
}

type VirtualSystem struct {
	ID              string                  `xml:"ovf:id,attr"`
	Name            string                  `xml:"Name"`
	OperatingSystem OperatingSystemSection  `xml:"OperatingSystemSection"`
	VirtualHardware VirtualHardwareSection  `xml:"VirtualHardwareSection"`
}

type OperatingSystemSection struct {
	ID     int    `xml:"ovf:id,attr"`
	OSType string `xml:"ovf:osType,attr"`
}

type VirtualHardwareSection struct {
	Info  string `xml:"Info"`
	Items []Item `xml:"Item"`
}

type Item struct {
	InstanceID      string `xml:"rasd:InstanceID"`
	ResourceType    int    `xml:"rasd:ResourceType"`
	ElementName     string `xml:"rasd:ElementName"`
	Description     string `xml:"rasd:Description,omitempty"`
	HostResource    string `xml:"rasd:HostResource,omitempty"`
	Parent          string `xml:"rasd:Parent,omitempty"`
	AddressOnParent string `xml:"rasd:AddressOnParent,omitempty"`
	Address         string `xml:"rasd:Address,omitempty"`
	ResourceSubType string `xml:"rasd:ResourceSubType,omitempty"`
	VirtualQuantity int64  `xml:"rasd:VirtualQuantity,omitempty"`
	Connection      string `xml:"rasd:Connection,omitempty"`
}

// DiskFileLayout names the file this flavour expects for disk at id,
// per the flavour's file-naming convention.
func DiskFileLayout(flavour Flavour, guestName string, diskID int, imageUUID string) string {
	switch flavour {
	case RHVExportStorageDomain:
		return fmt.Sprintf("images/%s/%s", imageUUID, imageUUID)
	default: // OVirt
		return fmt.Sprintf("%s-sd%d.ovf", guestName, diskID)
	}
}

// Write renders the OVF envelope for src/gc under the named flavour.
func Write(flavour Flavour, src *source.Source, gc caps.GuestCaps, diskSizes map[int]int64, imageUUIDs map[int]string) ([]byte, error) {
	var files []File
	var disks []Disk
	var items []Item
	instanceID := 0

	nextID := func() string {
		id := instanceID
		instanceID++
		return strconv.Itoa(id)
	}

	items = append(items, Item{
		InstanceID:      nextID(),
		ResourceType:    resCPU,
		ElementName:     fmt.Sprintf("%d virtual CPU(s)", src.VCPUs),
		VirtualQuantity: int64(src.VCPUs),
	})
	items = append(items, Item{
		InstanceID:      nextID(),
		ResourceType:    resMemory,
		ElementName:     fmt.Sprintf("%dMB of memory", src.MemoryBytes/1024/1024),
		VirtualQuantity: src.MemoryBytes / 1024 / 1024,
	})

	controllerResType := resIDE
	controllerSubType := ""
	if gc.BlockBus == caps.BlockVirtioSCSI {
		controllerResType = resSCSI
		controllerSubType = "VirtioSCSI"
	}
	controllerID := nextID()
	items = append(items, Item{
		InstanceID:      controllerID,
		ResourceType:    controllerResType,
		ElementName:     "Controller 0",
		ResourceSubType: controllerSubType,
	})

	for i, d := range src.Disks {
		fileRef := fmt.Sprintf("file%d", d.ID)
		diskID := fmt.Sprintf("vmdisk%d", d.ID)
		imageUUID := imageUUIDs[d.ID]
		if imageUUID == "" {
			imageUUID = diskID
		}
		href := DiskFileLayout(flavour, src.EffectiveName(), d.ID, imageUUID)
		size := diskSizes[d.ID]

		files = append(files, File{ID: fileRef, Href: href, Size: size})
		disks = append(disks, Disk{
			DiskID:                  diskID,
			Capacity:                size,
			CapacityAllocationUnits: "byte",
			FileRef:                 fileRef,
			Format:                  "http://www.vmware.com/interfaces/specifications/vmdk.html#streamOptimized",
		})
		items = append(items, Item{
			InstanceID:      nextID(),
			ResourceType:    resDisk,
			ElementName:     fmt.Sprintf("Hard Disk %d", i+1),
			HostResource:    fmt.Sprintf("ovf:/disk/%s", diskID),
			Parent:          controllerID,
			AddressOnParent: strconv.Itoa(i),
		})
	}

	var networks []Network
	for i, n := range src.Nics {
		name := n.Vnet
		if name == "" {
			name = fmt.Sprintf("VM Network %d", i+1)
		}
		networks = append(networks, Network{Name: name, Description: fmt.Sprintf("Network interface %d", i+1)})
		items = append(items, Item{
			InstanceID:      nextID(),
			ResourceType:    resNIC,
			ElementName:     fmt.Sprintf("Ethernet %d", i+1),
			ResourceSubType: netResourceSubType(gc),
			Connection:      name,
		})
	}

	env := &Envelope{
		XmlnsOvf:   "http://schemas.dmtf.org/ovf/envelope/1",
		XmlnsRasd:  "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_ResourceAllocationSettingData",
		XmlnsVssd:  "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_VirtualSystemSettingData",
		XmlnsXsi:   "http://www.w3.org/2001/XMLSchema-instance",
		References: References{Files: files},
		DiskSection: DiskSection{
			Info:  "List of the virtual disks",
			Disks: disks,
		},
		NetworkSection: NetworkSection{
			Info:     "The list of logical networks",
			Networks: networks,
		},
		VirtualSystem: VirtualSystem{
			ID:   src.EffectiveName(),
			Name: src.EffectiveName(),
			OperatingSystem: OperatingSystemSection{
				ID:     1,
				OSType: osTypeFor(gc.Arch),
			},
			VirtualHardware: VirtualHardwareSection{
				Info:  "Virtual hardware requirements",
				Items: items,
			},
		},
	}

	body, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal target ovf envelope: %w", err)
	}
	return append([]byte(xmlHeader), body...), nil
}

func netResourceSubType(gc caps.GuestCaps) string {
	switch gc.NetBus {
	case caps.NetVirtio:
		return "VirtIO"
	case caps.NetE1000:
		return "E1000"
	default:
		return "rtl8139"
	}
}

func osTypeFor(arch string) string {
	if arch == "" {
		return "otherLinuxGuest"
	}
	if arch == "x86_64" {
		return "otherLinux64Guest"
	}
	return "otherLinuxGuest"
}
