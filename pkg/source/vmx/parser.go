// SPDX-License-Identifier: LGPL-3.0-or-later

// Package vmx parses VMware .vmx key=value descriptors into the
// internal source.Source model (spec.md §4.4).
//
// No library in the retrieved pack parses VMX; it is a VMware-specific
// flat key=value format with no schema, so the namespace tree
// (tree.go) is hand-rolled on bufio.Scanner + strings, in the style of
// the teacher's own config/config.go line-oriented parsing. See
// DESIGN.md for the standard-library justification.
package vmx

import (
	"fmt"
	"strings"

	kverrors "kvmigrate/internal/errors"
	"kvmigrate/pkg/source"
)

// Parse parses raw .vmx text into a Source plus the transient
// ParsedDisk list. resolveDiskPath resolves a descriptor-relative
// filename (the .vmx "filename" field) to an absolute path and
// reports whether it names a block device.
func Parse(vmx []byte, resolveDiskPath func(descriptorLine string) (path string, isBlock bool, err error)) (*source.Source, []source.ParsedDisk, error) {
	tree, err := ParseTree(vmx)
	if err != nil {
		return nil, nil, err
	}

	src := source.NewSource()
	src.Hypervisor = source.HypervisorVMware

	src.Name, _ = tree.String("displayname")
	if strings.TrimSpace(src.Name) == "" {
		return nil, nil, kverrors.New(kverrors.SourceParseError, "vmx has no displayName")
	}

	src.MemoryBytes = 1024 * 1024 * 1024
	if mb, ok := tree.Int64("memsize"); ok && mb > 0 {
		src.MemoryBytes = mb * 1024 * 1024
	}

	src.VCPUs = 1
	if n, ok := tree.Int("numvcpus"); ok && n > 0 {
		src.VCPUs = n
	}
	if cores, ok := tree.Int("cpuid.corespersocket"); ok && cores > 0 && src.VCPUs%cores == 0 {
		src.Topology = &source.CPUTopology{Sockets: src.VCPUs / cores, Cores: cores, Threads: 1}
	}

	src.Firmware = source.FirmwareBIOS
	if v, ok := tree.String("firmware"); ok && strings.EqualFold(v, "efi") {
		src.Firmware = source.FirmwareUEFI
	}

	if v, ok := tree.String("guestos"); ok {
		src.CPUModel = v // best-effort: vmx has no separate CPU model field, guestOS hints at the family
	}

	// Each device namespace is a single root-level dot-segment like
	// "scsi0:0" (the colon is not a dot-separator), so device slots are
	// enumerated at the top level and filtered by a recognized
	// controller-kind prefix, not nested under "scsi0".
	rootNamespaces := tree.Namespaces("")

	var parsed []source.ParsedDisk
	nextID := 1
	for _, name := range sortedNamespaces(rootNamespaces) {
		ctlPrefix, isDevice := controllerBusFromNamespace(name)
		if !isDevice {
			continue
		}
		file, ok := tree.String(name + ".filename")
		if !ok {
			continue
		}
		devType, _ := tree.String(name + ".devicetype")
		if strings.Contains(devType, "cdrom") {
			src.Removables = append(src.Removables, source.SourceRemovable{
				Kind:       source.RemovableCDROM,
				Controller: controllerFromPrefix(ctlPrefix),
				Slot:       parseSlotIndex(name),
			})
			continue
		}

		path, isBlock, err := resolveDiskPath(file)
		if err != nil {
			return nil, nil, kverrors.Wrap(kverrors.SourceParseError, err, "resolve vmx disk %q", file)
		}
		originKind := source.OriginFile
		if isBlock {
			originKind = source.OriginBlockDev
		}
		disk := source.SourceDisk{ID: nextID, Controller: controllerFromPrefix(ctlPrefix)}
		parsed = append(parsed, source.ParsedDisk{Disk: disk, Origin: source.Origin{Kind: originKind, Path: path}})
		nextID++
	}
	if len(parsed) == 0 {
		return nil, nil, kverrors.New(kverrors.SourceParseError, "vmx has no disk devices")
	}
	for _, pd := range parsed {
		src.Disks = append(src.Disks, pd.Disk)
	}

	ethernetNamespaces := make(map[string]bool)
	for _, name := range rootNamespaces {
		ethernetNamespaces[name] = true
	}
	for i := 0; i < 10; i++ {
		prefix := fmt.Sprintf("ethernet%d", i)
		if !ethernetNamespaces[prefix] {
			// Absent either because it was never defined, or because
			// present=FALSE pruned the whole namespace (spec.md §4.4).
			continue
		}
		mac, _ := tree.String(prefix + ".generatedaddress")
		if mac == "" {
			mac, _ = tree.String(prefix + ".address")
		}
		vnet, _ := tree.String(prefix + ".networkname")
		if vnet == "" {
			vnet = fmt.Sprintf("eth%d", i)
		}
		model, _ := tree.String(prefix + ".virtualdev")
		src.Nics = append(src.Nics, source.SourceNic{
			MAC:      strings.ToLower(mac),
			Model:    model,
			Vnet:     vnet,
			VnetOrig: vnet,
			VnetKind: source.VnetNetwork,
		})
	}

	return src, parsed, nil
}

func controllerFromPrefix(prefix string) source.Controller {
	switch {
	case strings.HasPrefix(prefix, "scsi"):
		return source.ControllerSCSI
	case strings.HasPrefix(prefix, "sata"):
		return source.ControllerSATA
	case strings.HasPrefix(prefix, "ide"), strings.HasPrefix(prefix, "nvme"):
		return source.ControllerIDE
	default:
		return source.ControllerIDE
	}
}

// controllerBusFromNamespace recognizes a root-level device namespace
// like "scsi0:0" and returns its controller-bus prefix ("scsi0").
func controllerBusFromNamespace(name string) (busPrefix string, ok bool) {
	colon := strings.IndexByte(name, ':')
	if colon < 0 {
		return "", false
	}
	busPrefix = name[:colon]
	for _, kind := range []string{"scsi", "ide", "sata", "nvme"} {
		if strings.HasPrefix(busPrefix, kind) {
			return busPrefix, true
		}
	}
	return "", false
}

func parseSlotIndex(slotName string) *int {
	colon := strings.IndexByte(slotName, ':')
	if colon < 0 {
		return nil
	}
	var v int
	if _, err := fmt.Sscanf(slotName[colon+1:], "%d", &v); err != nil {
		return nil
	}
	return &v
}

// sortedNamespaces gives deterministic disk-enumeration order since
// map iteration order is randomized and disk IDs must be stable.
func sortedNamespaces(names []string) []string {
	out := append([]string(nil), names...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
