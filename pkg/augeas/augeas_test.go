// SPDX-License-Identifier: LGPL-3.0-or-later

package augeas

import (
	"strings"
	"testing"
)

func TestApplyConsoleRewrite(t *testing.T) {
	e := New([]Pattern{ConsolePattern("/boot/grub2/grub.cfg")})
	content := "linux /vmlinuz root=/dev/vda1 console=xvc0 ro\n"
	out, changed := e.Apply("/boot/grub2/grub.cfg", content)
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if !strings.Contains(out, "console=ttyS0") || strings.Contains(out, "xvc0") {
		t.Errorf("out = %q", out)
	}
}

func TestApplyRemoveConsole(t *testing.T) {
	e := New([]Pattern{RemoveConsolePattern("/boot/grub2/grub.cfg")})
	content := "linux /vmlinuz root=/dev/vda1 console=hvc0 ro\n"
	out, changed := e.Apply("/boot/grub2/grub.cfg", content)
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if strings.Contains(out, "console=") {
		t.Errorf("out = %q, want console= removed", out)
	}
}

func TestDeviceNamePatternPreservesUUIDAndLabel(t *testing.T) {
	e := New([]Pattern{DeviceNamePattern("/etc/fstab")})
	content := "/dev/sda1 / ext4 defaults 0 1\nUUID=1234-5678 /boot ext4 defaults 0 2\nLABEL=swap swap swap defaults 0 0\n/dev/hdb2 /data ext4 defaults 0 2\n"
	out, changed := e.Apply("/etc/fstab", content)
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
	if !strings.Contains(out, "/dev/vda1") || !strings.Contains(out, "/dev/vdb2") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "UUID=1234-5678") || !strings.Contains(out, "LABEL=swap") {
		t.Errorf("UUID/LABEL entries must be left untouched: %q", out)
	}
}

func TestApplyNoMatchingPathLeavesContentUnchanged(t *testing.T) {
	e := New([]Pattern{DeviceNamePattern("/etc/fstab")})
	content := "/dev/sda1 / ext4 defaults 0 1\n"
	out, changed := e.Apply("/boot/grub2/grub.cfg", content)
	if changed != 0 || out != content {
		t.Errorf("expected no change for unrelated path, got changed=%d out=%q", changed, out)
	}
}
