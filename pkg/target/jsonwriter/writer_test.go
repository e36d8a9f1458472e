// SPDX-License-Identifier: LGPL-3.0-or-later

package jsonwriter

import (
	"encoding/json"
	"strings"
	"testing"

	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/source"
)

func TestBuildAndWriteStableKeys(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest1"
	src.MemoryBytes = 1024 * 1024 * 1024
	src.VCPUs = 2
	src.Disks = []source.SourceDisk{{ID: 1, QEMUURI: "/tmp/disk.raw", Format: "raw"}}
	src.Nics = []source.SourceNic{{Vnet: "br0", VnetKind: source.VnetBridge}}

	gc := caps.GuestCaps{BlockBus: caps.BlockVirtioBlk, NetBus: caps.NetVirtio, Machine: caps.MachineQ35, Arch: "x86_64"}

	doc := Build(src, gc, nil)
	out, err := Write(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(out), "\n") {
		t.Error("expected newline-terminated JSON output")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"version", "name", "memory", "vcpu", "firmware", "features", "machine", "disks", "removables", "nics", "guestcaps"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("missing expected key %q in %v", key, parsed)
		}
	}
}

func TestMaybeStringRendersUnknownAsNull(t *testing.T) {
	out, err := json.Marshal(MaybeString("unknown"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "null" {
		t.Errorf("MarshalJSON = %s, want null", out)
	}
}

func TestMaybeStringRendersKnownValueAsString(t *testing.T) {
	out, err := json.Marshal(MaybeString("rhel"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"rhel"` {
		t.Errorf("MarshalJSON = %s, want \"rhel\"", out)
	}
}

func TestBuildNicModelUnknownWhenEmpty(t *testing.T) {
	src := source.NewSource()
	src.Name = "guest1"
	src.Nics = []source.SourceNic{{Vnet: "br0", VnetKind: source.VnetBridge}}
	gc := caps.GuestCaps{BlockBus: caps.BlockIDE, NetBus: caps.NetRTL8139}
	doc := Build(src, gc, nil)
	out, _ := Write(doc)
	if !strings.Contains(string(out), `"model": null`) {
		t.Errorf("expected nic model to render as null when unset, got %s", out)
	}
}
