// SPDX-License-Identifier: LGPL-3.0-or-later

package netmap

import (
	"testing"

	"kvmigrate/pkg/source"
)

// TestScenario5NetworkMapping implements spec.md §8 scenario 5.
func TestScenario5NetworkMapping(t *testing.T) {
	m := New()
	if err := m.AddMACRule("52:54:00:01:02:03", source.VnetNetwork, "nancy"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddMACRule("52:54:00:01:02:04", source.VnetBridge, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDefaultNetwork("default_network"); err != nil {
		t.Fatal(err)
	}

	nics := []source.SourceNic{
		{MAC: "52:54:00:01:02:03", VnetOrig: "br0", VnetKind: source.VnetBridge},
		{MAC: "52:54:00:01:02:04", VnetOrig: "br1", VnetKind: source.VnetBridge},
	}
	m.Apply(nics)

	if nics[0].VnetKind != source.VnetNetwork || nics[0].Vnet != "nancy" {
		t.Errorf("nic 1 = (%s, %s), want (Network, nancy)", nics[0].VnetKind, nics[0].Vnet)
	}
	if nics[1].VnetKind != source.VnetBridge || nics[1].Vnet != "bob" {
		t.Errorf("nic 2 = (%s, %s), want (Bridge, bob)", nics[1].VnetKind, nics[1].Vnet)
	}
}

func TestDuplicateRuleRejected(t *testing.T) {
	m := New()
	if err := m.AddMACRule("aa:bb:cc:dd:ee:ff", source.VnetBridge, "br0"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddMACRule("AA:BB:CC:DD:EE:FF", source.VnetBridge, "br1"); err == nil {
		t.Error("expected duplicate MAC rule (case-insensitive) to be rejected")
	}
	if err := m.SetDefaultBridge("virbr0"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDefaultBridge("virbr1"); err == nil {
		t.Error("expected duplicate default bridge rule to be rejected")
	}
}

func TestPrecedenceDefaultBridgeFallback(t *testing.T) {
	m := New()
	if err := m.AddBridgeRule("br0", "virbr5"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDefaultBridge("virbr0"); err != nil {
		t.Fatal(err)
	}
	nics := []source.SourceNic{
		{VnetOrig: "br0", VnetKind: source.VnetBridge},
		{VnetOrig: "br9", VnetKind: source.VnetBridge},
	}
	m.Apply(nics)
	if nics[0].Vnet != "virbr5" {
		t.Errorf("nic 1 vnet = %s, want virbr5 (matched rule)", nics[0].Vnet)
	}
	if nics[1].Vnet != "virbr0" {
		t.Errorf("nic 2 vnet = %s, want virbr0 (default fallback)", nics[1].Vnet)
	}
}

func TestNoRuleLeavesUnchanged(t *testing.T) {
	m := New()
	nics := []source.SourceNic{{VnetOrig: "eth0", VnetKind: source.VnetBridge, Vnet: "eth0"}}
	m.Apply(nics)
	if nics[0].Vnet != "eth0" {
		t.Errorf("vnet = %s, want unchanged eth0", nics[0].Vnet)
	}
}
