// SPDX-License-Identifier: LGPL-3.0-or-later

// Package libvirtxml parses a libvirt domain XML document into the
// internal source.Source model (spec.md §4.2), using the upstream
// libvirt.org/go/libvirtxml typed bindings instead of a hand-rolled
// encoding/xml struct tree.
package libvirtxml

import (
	"fmt"
	"strconv"
	"strings"

	lvxml "libvirt.org/go/libvirtxml"

	kverrors "kvmigrate/internal/errors"
	"kvmigrate/pkg/source"
)

// VolumeResolver looks up the backing path of a libvirt storage-pool
// volume, for <disk type='volume'> sources. The real lookup goes
// through a libvirt connection; that dependency lives outside this
// package so tests can supply a fake.
type VolumeResolver func(pool, volume string) (path string, isBlock bool, err error)

// Parse parses a libvirt domain XML document into a Source plus the
// transient ParsedDisk list the URI remapper consumes.
func Parse(xmlDoc []byte, resolveVolume VolumeResolver) (*source.Source, []source.ParsedDisk, error) {
	var domain lvxml.Domain
	if err := domain.Unmarshal(string(xmlDoc)); err != nil {
		return nil, nil, kverrors.Wrap(kverrors.SourceParseError, err, "parse libvirt domain XML")
	}

	if domain.Type == "" {
		return nil, nil, kverrors.New(kverrors.SourceParseError, "/domain/@type is mandatory")
	}
	if strings.TrimSpace(domain.Name) == "" {
		return nil, nil, kverrors.New(kverrors.SourceParseError, "/domain/name must not be empty")
	}

	src := source.NewSource()
	src.Name = domain.Name
	src.Hypervisor = hypervisorFromType(domain.Type)

	parseMemory(&domain, src)
	parseVCPUAndTopology(&domain, src)
	parseFeatures(&domain, src)
	parseCPUModel(&domain, src)

	virtioSCSIControllers := virtioSCSIControllerIDs(&domain)

	if domain.Devices != nil {
		parseGraphics(domain.Devices.Graphics, src)
	}

	var parsed []source.ParsedDisk
	nextID := 1
	if domain.Devices != nil {
		for _, d := range domain.Devices.Disks {
			if d.Device != "disk" && d.Device != "" {
				continue // removables handled separately below
			}
			pd, err := parseDisk(d, nextID, virtioSCSIControllers, resolveVolume)
			if err != nil {
				return nil, nil, err
			}
			if pd == nil {
				continue
			}
			parsed = append(parsed, *pd)
			nextID++
		}
	}
	if len(parsed) == 0 {
		return nil, nil, kverrors.New(kverrors.SourceParseError, "domain has no non-removable disk")
	}
	for _, pd := range parsed {
		src.Disks = append(src.Disks, pd.Disk)
	}

	if domain.Devices != nil {
		for _, d := range domain.Devices.Disks {
			if d.Device != "cdrom" && d.Device != "floppy" {
				continue
			}
			src.Removables = append(src.Removables, parseRemovable(d, virtioSCSIControllers))
		}
	}

	if domain.Devices != nil {
		for _, iface := range domain.Devices.Interfaces {
			src.Nics = append(src.Nics, parseNic(iface))
		}
	}

	return src, parsed, nil
}

func hypervisorFromType(t string) source.Hypervisor {
	switch strings.ToLower(t) {
	case "xen":
		return source.HypervisorXen
	case "vmware":
		return source.HypervisorVMware
	case "qemu":
		return source.HypervisorQEMU
	case "kvm":
		return source.HypervisorKVM
	case "vbox", "virtualbox":
		return source.HypervisorVirtualBox
	default:
		return source.HypervisorUnknown
	}
}

// parseMemory applies the §4.2 default of 1 MiB when absent; libvirt
// XML memory units are KiB unless the Unit attribute says otherwise.
func parseMemory(domain *lvxml.Domain, src *source.Source) {
	if domain.Memory == nil || domain.Memory.Value == 0 {
		src.MemoryBytes = 1024 * 1024
		return
	}
	src.MemoryBytes = int64(unitToBytes(domain.Memory.Value, domain.Memory.Unit))
}

func unitToBytes(value uint, unit string) uint64 {
	mult := uint64(1024) // KiB default
	switch strings.ToLower(unit) {
	case "b", "bytes":
		mult = 1
	case "k", "kib", "":
		mult = 1024
	case "m", "mib":
		mult = 1024 * 1024
	case "g", "gib":
		mult = 1024 * 1024 * 1024
	}
	return uint64(value) * mult
}

func parseVCPUAndTopology(domain *lvxml.Domain, src *source.Source) {
	var vcpu int
	if domain.VCPU != nil {
		vcpu = int(domain.VCPU.Value)
	}

	if domain.CPU != nil && domain.CPU.Topology != nil {
		topo := domain.CPU.Topology
		src.Topology = &source.CPUTopology{
			Sockets: int(topo.Sockets),
			Cores:   int(topo.Cores),
			Threads: int(topo.Threads),
		}
		if vcpu == 0 && topo.Sockets > 0 && topo.Cores > 0 && topo.Threads > 0 {
			vcpu = int(topo.Sockets * topo.Cores * topo.Threads)
		}
	}

	if vcpu == 0 {
		vcpu = 1
	}
	src.VCPUs = vcpu
}

func parseFeatures(domain *lvxml.Domain, src *source.Source) {
	if domain.Features == nil {
		return
	}
	if domain.Features.ACPI != nil {
		src.Features["acpi"] = true
	}
	if domain.Features.APIC != nil {
		src.Features["apic"] = true
	}
	if domain.Features.PAE != nil {
		src.Features["pae"] = true
	}
}

func parseCPUModel(domain *lvxml.Domain, src *source.Source) {
	if domain.CPU == nil {
		return
	}
	if domain.CPU.Model != nil {
		src.CPUModel = domain.CPU.Model.Value
	}
	src.CPUVendor = domain.CPU.Vendor
}

// virtioSCSIControllerIDs sets the single key "present" when any SCSI
// controller has a virtio-scsi model (individual controller indexes
// are not tracked), per §4.2's rule: "scsi
// becomes VirtioSCSI iff a <controller model='virtio-scsi'> exists in
// the same domain".
func virtioSCSIControllerIDs(domain *lvxml.Domain) map[string]bool {
	ids := make(map[string]bool)
	if domain.Devices == nil {
		return ids
	}
	for _, c := range domain.Devices.Controllers {
		if strings.EqualFold(c.Type, "scsi") && strings.EqualFold(c.Model, "virtio-scsi") {
			ids["present"] = true
		}
	}
	return ids
}

func controllerFromBus(bus string, virtioSCSIPresent map[string]bool) source.Controller {
	switch strings.ToLower(bus) {
	case "ide":
		return source.ControllerIDE
	case "sata":
		return source.ControllerSATA
	case "virtio":
		return source.ControllerVirtioBlk
	case "scsi":
		if virtioSCSIPresent["present"] {
			return source.ControllerVirtioSCSI
		}
		return source.ControllerSCSI
	default:
		return source.ControllerIDE
	}
}

func parseDisk(d lvxml.DomainDisk, id int, virtioSCSIPresent map[string]bool, resolveVolume VolumeResolver) (*source.ParsedDisk, error) {
	var origin source.Origin
	var format string
	if d.Driver != nil {
		format = d.Driver.Type
	}

	switch {
	case d.Source == nil:
		return nil, kverrors.New(kverrors.SourceParseError, "disk has no <source>")
	case d.Source.Block != nil:
		origin = source.Origin{Kind: source.OriginBlockDev, Path: d.Source.Block.Dev}
	case d.Source.File != nil:
		origin = source.Origin{Kind: source.OriginFile, Path: d.Source.File.File}
	case d.Source.Network != nil:
		net := d.Source.Network
		if !strings.EqualFold(net.Protocol, "nbd") {
			return nil, kverrors.New(kverrors.UnsupportedSource, "network disk protocol %q not supported (only nbd)", net.Protocol)
		}
		host, port := "localhost", "10809"
		if len(net.Hosts) > 0 {
			if net.Hosts[0].Name != "" {
				host = net.Hosts[0].Name
			}
			if net.Hosts[0].Port != "" {
				port = net.Hosts[0].Port
			}
		}
		return &source.ParsedDisk{
			Disk: source.SourceDisk{
				ID:         id,
				QEMUURI:    fmt.Sprintf("nbd:%s:%s", host, port),
				Format:     format,
				Controller: targetController(d, virtioSCSIPresent),
			},
			Origin: source.Origin{Kind: source.OriginDontRewrite},
		}, nil
	case d.Source.Volume != nil:
		if resolveVolume == nil {
			return nil, kverrors.New(kverrors.SourceParseError, "disk references a storage-pool volume but no volume resolver was supplied")
		}
		path, isBlock, err := resolveVolume(d.Source.Volume.Pool, d.Source.Volume.Volume)
		if err != nil {
			return nil, kverrors.Wrap(kverrors.SourceParseError, err, "resolve volume %s/%s", d.Source.Volume.Pool, d.Source.Volume.Volume)
		}
		if isBlock {
			origin = source.Origin{Kind: source.OriginBlockDev, Path: path}
		} else {
			origin = source.Origin{Kind: source.OriginFile, Path: path}
		}
	default:
		return nil, kverrors.New(kverrors.SourceParseError, "disk <source> has no recognized child")
	}

	return &source.ParsedDisk{
		Disk: source.SourceDisk{
			ID:         id,
			Format:     format,
			Controller: targetController(d, virtioSCSIPresent),
		},
		Origin: origin,
	}, nil
}

func targetController(d lvxml.DomainDisk, virtioSCSIPresent map[string]bool) source.Controller {
	if d.Target == nil {
		return source.ControllerIDE
	}
	return controllerFromBus(d.Target.Bus, virtioSCSIPresent)
}

// recognizedDevPrefixes strips a drive-letter prefix to recover the
// numeric slot, per §4.2's removable slot-derivation rule.
var recognizedDevPrefixes = []string{"hd", "sd", "vd", "xvd", "fd"}

func parseRemovable(d lvxml.DomainDisk, virtioSCSIPresent map[string]bool) source.SourceRemovable {
	kind := source.RemovableCDROM
	if d.Device == "floppy" {
		kind = source.RemovableFloppy
	}
	r := source.SourceRemovable{
		Kind:       kind,
		Controller: targetController(d, virtioSCSIPresent),
	}
	if d.Target != nil {
		if slot, ok := slotFromDev(d.Target.Dev); ok {
			r.Slot = &slot
		}
	}
	return r
}

func slotFromDev(dev string) (int, bool) {
	for _, prefix := range recognizedDevPrefixes {
		if strings.HasPrefix(dev, prefix) {
			tail := dev[len(prefix):]
			return driveTailToIndex(tail)
		}
	}
	return 0, false
}

// driveTailToIndex converts a drive-letter tail ("a", "b", ... "z",
// "aa", ...) into a zero-based index, or parses a bare numeric tail.
func driveTailToIndex(tail string) (int, bool) {
	if tail == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(tail); err == nil {
		return n, true
	}
	idx := 0
	for _, ch := range strings.ToLower(tail) {
		if ch < 'a' || ch > 'z' {
			return 0, false
		}
		idx = idx*26 + int(ch-'a'+1)
	}
	return idx - 1, true
}

func parseNic(iface lvxml.DomainInterface) source.SourceNic {
	n := source.SourceNic{}
	if iface.MAC != nil && iface.MAC.Address != "" && iface.MAC.Address != "00:00:00:00:00:00" {
		n.MAC = strings.ToLower(iface.MAC.Address)
	}
	if iface.Model != nil {
		n.Model = iface.Model.Type
	}
	if iface.Source != nil {
		switch {
		case iface.Source.Bridge != nil:
			n.VnetKind = source.VnetBridge
			n.VnetOrig = iface.Source.Bridge.Bridge
		case iface.Source.Network != nil:
			n.VnetKind = source.VnetNetwork
			n.VnetOrig = iface.Source.Network.Network
		}
	}
	if n.VnetKind == source.VnetBridge && n.VnetOrig == "" {
		n.VnetOrig = fmt.Sprintf("eth%d", 0)
	}
	n.Vnet = n.VnetOrig
	return n
}

func parseGraphics(graphics []lvxml.DomainGraphic, src *source.Source) {
	if len(graphics) == 0 {
		src.Display = nil
		return
	}
	g := graphics[0] // "First <graphics> only" per §4.2

	disp := &source.Display{Listen: source.Listen{Kind: source.ListenNone}}
	switch {
	case g.VNC != nil:
		disp.Type = source.DisplayVNC
		applyCommonGraphics(g.VNC.Keymap, g.VNC.Passwd, g.VNC.Listeners, g.VNC.Port, disp)
	case g.Spice != nil:
		disp.Type = source.DisplaySpice
		applyCommonGraphics(g.Spice.Keymap, g.Spice.Passwd, g.Spice.Listeners, g.Spice.Port, disp)
	case g.SDL != nil, g.Desktop != nil:
		// Unsupported display types (§4.2): display = None; no warning
		// is recorded.
		src.Display = nil
		return
	default:
		src.Display = nil
		return
	}
	src.Display = disp
}

func applyCommonGraphics(keymap, passwd string, listeners []lvxml.DomainGraphicListener, port int, disp *source.Display) {
	if keymap != "" {
		k := keymap
		disp.Keymap = &k
	}
	if passwd != "" {
		p := passwd
		disp.Password = &p
	}
	if port > 0 {
		p := port
		disp.Port = &p
	}
	if len(listeners) == 0 {
		return
	}
	l := listeners[0]
	switch strings.ToLower(l.Type) {
	case "address":
		disp.Listen = source.Listen{Kind: source.ListenAddress, Address: l.Address}
	case "network":
		disp.Listen = source.Listen{Kind: source.ListenNetwork, Network: l.Network}
	case "socket":
		if l.Socket != "" {
			sp := l.Socket
			disp.Listen = source.Listen{Kind: source.ListenSocket, SocketPath: &sp}
		} else {
			disp.Listen = source.Listen{Kind: source.ListenSocket}
		}
	case "none":
		disp.Listen = source.Listen{Kind: source.ListenExplicitNone}
	}
}
