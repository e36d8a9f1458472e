// SPDX-License-Identifier: LGPL-3.0-or-later

package windows

import (
	"fmt"

	"kvmigrate/pkg/hive"
)

// classGUIDStorage is the fixed storage-controller class GUID spec.md
// §4.7 names for CriticalDeviceDatabase entries.
const classGUIDStorage = "{4D36E97B-E325-11CE-BFC1-08002BE10318}"

// VirtioPCIID is one recognized legacy or modern virtio PCI device ID
// for a storage driver.
type VirtioPCIID struct {
	Driver string // "viostor" or "vioscsi"
	PCIID  string // e.g. "VEN_1AF4&DEV_1001&SUBSYS_00021AF4&REV_00"
}

// VirtioStoragePCIIDs is the fixed table of legacy and modern PCI IDs
// for viostor and vioscsi, per spec.md §4.7.
var VirtioStoragePCIIDs = []VirtioPCIID{
	{"viostor", "VEN_1AF4&DEV_1001&SUBSYS_00021AF4&REV_00"}, // legacy virtio-blk
	{"viostor", "VEN_1AF4&DEV_1042&SUBSYS_11001AF4&REV_01"}, // modern virtio-blk
	{"vioscsi", "VEN_1AF4&DEV_1004&SUBSYS_00081AF4&REV_00"}, // legacy virtio-scsi
	{"vioscsi", "VEN_1AF4&DEV_1048&SUBSYS_11001AF4&REV_01"}, // modern virtio-scsi
}

// versionBlob is the fixed Version binary blob spec.md §4.7 calls for
// under DriverPackages\...\Configurations\<config>.
var versionBlob = []byte{0x00, 0x00, 0x00, 0x00}

// RegisterStorageDriver writes the Services key for driver and, per the
// scheme probed from h, either the pre-Win8 CriticalDeviceDatabase
// entries or the Win8+ DriverDatabase entries for every PCI ID that
// names this driver.
func RegisterStorageDriver(h *hive.Hive, driver string) error {
	servicesPath := `ControlSet001\Services\` + driver
	if err := h.SetValue(servicesPath, "Type", hive.Value{Type: hive.REGDWORD, DW: 0x1}); err != nil {
		return err
	}
	if err := h.SetValue(servicesPath, "Start", hive.Value{Type: hive.REGDWORD, DW: 0x0}); err != nil {
		return err
	}
	if err := h.SetValue(servicesPath, "Group", hive.Value{Type: hive.REGSZ, Str: "SCSI miniport"}); err != nil {
		return err
	}
	if err := h.SetValue(servicesPath, "ErrorControl", hive.Value{Type: hive.REGDWORD, DW: 0x1}); err != nil {
		return err
	}
	imagePath := `system32\drivers\` + driver + ".sys"
	if err := h.SetValue(servicesPath, "ImagePath", hive.Value{Type: hive.REGExpandSZ, Str: imagePath}); err != nil {
		return err
	}

	if h.HasKey("DriverDatabase") {
		return registerWin8Plus(h, driver)
	}
	return registerPreWin8(h, driver)
}

func registerPreWin8(h *hive.Hive, driver string) error {
	for _, id := range VirtioStoragePCIIDs {
		if id.Driver != driver {
			continue
		}
		path := `ControlSet001\Control\CriticalDeviceDatabase\PCI#` + id.PCIID
		if err := h.SetValue(path, "Service", hive.Value{Type: hive.REGSZ, Str: driver}); err != nil {
			return err
		}
		if err := h.SetValue(path, "ClassGUID", hive.Value{Type: hive.REGSZ, Str: classGUIDStorage}); err != nil {
			return err
		}
	}
	return nil
}

func registerWin8Plus(h *hive.Hive, driver string) error {
	infFile := driver + ".inf"
	config := driver + "_config"

	if err := h.SetValue(`DriverDatabase\DriverInfFiles\`+infFile, driver, hive.Value{Type: hive.REGMultiSZ, Str: infFile}); err != nil {
		return err
	}

	for _, id := range VirtioStoragePCIIDs {
		if id.Driver != driver {
			continue
		}
		devicePath := `DriverDatabase\DeviceIds\PCI\` + id.PCIID
		if err := h.SetValue(devicePath, infFile, hive.Value{Type: hive.REGSZ, Str: infFile}); err != nil {
			return err
		}
	}

	pkgPath := fmt.Sprintf(`DriverDatabase\DriverPackages\%s\Configurations\%s`, infFile, config)
	if err := h.SetValue(pkgPath, "ConfigFlags", hive.Value{Type: hive.REGDWORD, DW: 0}); err != nil {
		return err
	}
	if err := h.SetValue(pkgPath, "Service", hive.Value{Type: hive.REGSZ, Str: driver}); err != nil {
		return err
	}
	return h.SetValue(pkgPath, "Version", hive.Value{Type: hive.REGBinary, Bin: versionBlob})
}

// FirstbootLayout is the set of paths spec.md §4.7 names for the
// firstboot scaffolding.
type FirstbootLayout struct {
	RootDir    string // "<Program Files>\Guestfs\Firstboot"
	LauncherBat string
	ScriptsDir string
}

// NewFirstbootLayout builds the firstboot directory layout rooted at
// programFiles.
func NewFirstbootLayout(programFiles string) FirstbootLayout {
	root := programFiles + `\Guestfs\Firstboot`
	return FirstbootLayout{
		RootDir:     root,
		LauncherBat: root + `\firstboot.bat`,
		ScriptsDir:  root + `\scripts`,
	}
}

// RegisterFirstbootRunOnce writes the RunOnce registry entry that
// launches the firstboot batch file at next boot.
func RegisterFirstbootRunOnce(h *hive.Hive, layout FirstbootLayout) error {
	return h.SetValue(`ControlSet001\Control\Session Manager\RunOnce`, "GuestfsFirstboot", hive.Value{
		Type: hive.REGExpandSZ,
		Str:  layout.LauncherBat,
	})
}
