// SPDX-License-Identifier: LGPL-3.0-or-later

package windows

import (
	"testing"

	"kvmigrate/pkg/hive"
)

func TestRegisterStorageDriverPreWin8Scheme(t *testing.T) {
	h, _ := hive.Open("SYSTEM")
	defer h.Close()

	if err := RegisterStorageDriver(h, "viostor"); err != nil {
		t.Fatal(err)
	}

	v, ok := h.Value(`ControlSet001\Services\viostor`, "ImagePath")
	if !ok || v.Str != `system32\drivers\viostor.sys` {
		t.Errorf("ImagePath = %+v, ok=%v", v, ok)
	}

	cdd, ok := h.Value(`ControlSet001\Control\CriticalDeviceDatabase\PCI#VEN_1AF4&DEV_1001&SUBSYS_00021AF4&REV_00`, "Service")
	if !ok || cdd.Str != "viostor" {
		t.Errorf("CriticalDeviceDatabase Service = %+v, ok=%v", cdd, ok)
	}
}

func TestRegisterStorageDriverWin8PlusSchemeWhenDriverDatabasePresent(t *testing.T) {
	h, _ := hive.Open("SYSTEM")
	defer h.Close()
	if _, err := h.CreateKey(`DriverDatabase\DriverInfFiles`); err != nil {
		t.Fatal(err)
	}

	if err := RegisterStorageDriver(h, "vioscsi"); err != nil {
		t.Fatal(err)
	}

	v, ok := h.Value(`DriverDatabase\DriverPackages\vioscsi.inf\Configurations\vioscsi_config`, "Service")
	if !ok || v.Str != "vioscsi" {
		t.Errorf("DriverPackages Service = %+v, ok=%v", v, ok)
	}

	if h.HasKey(`ControlSet001\Control\CriticalDeviceDatabase`) {
		t.Error("did not expect pre-Win8 CriticalDeviceDatabase entries when DriverDatabase scheme is used")
	}
}

func TestNewFirstbootLayoutPaths(t *testing.T) {
	layout := NewFirstbootLayout(`C:\Program Files`)
	if layout.LauncherBat != `C:\Program Files\Guestfs\Firstboot\firstboot.bat` {
		t.Errorf("LauncherBat = %q", layout.LauncherBat)
	}
	if layout.ScriptsDir != `C:\Program Files\Guestfs\Firstboot\scripts` {
		t.Errorf("ScriptsDir = %q", layout.ScriptsDir)
	}
}

func TestRegisterFirstbootRunOnce(t *testing.T) {
	h, _ := hive.Open("SYSTEM")
	defer h.Close()
	layout := NewFirstbootLayout(`C:\Program Files`)
	if err := RegisterFirstbootRunOnce(h, layout); err != nil {
		t.Fatal(err)
	}
	v, ok := h.Value(`ControlSet001\Control\Session Manager\RunOnce`, "GuestfsFirstboot")
	if !ok || v.Str != layout.LauncherBat {
		t.Errorf("RunOnce value = %+v, ok=%v", v, ok)
	}
}
