// SPDX-License-Identifier: LGPL-3.0-or-later

// Package netmap implements the NetworkMap of spec.md §4.8: a set of
// MAC/name/default rules applied to each source NIC in a fixed
// precedence order, with a uniqueness invariant on rule addition.
package netmap

import (
	"fmt"
	"strings"

	kverrors "kvmigrate/internal/errors"
	"kvmigrate/pkg/source"
)

// Rule is the (kind, name) a NIC is mapped to.
type Rule struct {
	Kind source.VnetKind
	Name string
}

// NetworkMap holds the three mapping tiers of §4.8, with lookup
// precedence (1) per-MAC, (2) per-input-vnet-name, (3) default.
type NetworkMap struct {
	byMAC         map[string]Rule // key: lowercased MAC
	byBridgeName  map[string]Rule // key: input bridge name
	byNetworkName map[string]Rule // key: input network name
	defaultBridge *Rule
	defaultNetwork *Rule
}

// New returns an empty NetworkMap.
func New() *NetworkMap {
	return &NetworkMap{
		byMAC:         make(map[string]Rule),
		byBridgeName:  make(map[string]Rule),
		byNetworkName: make(map[string]Rule),
	}
}

// AddMACRule maps a specific MAC address to a target (kind, name).
// Adding the same MAC twice is a fatal configuration error (§8 invariant).
func (m *NetworkMap) AddMACRule(mac string, kind source.VnetKind, name string) error {
	mac = strings.ToLower(mac)
	if _, exists := m.byMAC[mac]; exists {
		return kverrors.New(kverrors.InvalidArgument, "duplicate network-map rule for MAC %s", mac)
	}
	m.byMAC[mac] = Rule{Kind: kind, Name: name}
	return nil
}

// AddBridgeRule maps an input bridge name to an output bridge name.
func (m *NetworkMap) AddBridgeRule(inputName, outputName string) error {
	if _, exists := m.byBridgeName[inputName]; exists {
		return kverrors.New(kverrors.InvalidArgument, "duplicate network-map rule for bridge %q", inputName)
	}
	m.byBridgeName[inputName] = Rule{Kind: source.VnetBridge, Name: outputName}
	return nil
}

// AddNetworkRule maps an input libvirt-network name to an output network name.
func (m *NetworkMap) AddNetworkRule(inputName, outputName string) error {
	if _, exists := m.byNetworkName[inputName]; exists {
		return kverrors.New(kverrors.InvalidArgument, "duplicate network-map rule for network %q", inputName)
	}
	m.byNetworkName[inputName] = Rule{Kind: source.VnetNetwork, Name: outputName}
	return nil
}

// SetDefaultBridge sets the fallback bridge rule. A second call is a
// fatal configuration error.
func (m *NetworkMap) SetDefaultBridge(outputName string) error {
	if m.defaultBridge != nil {
		return kverrors.New(kverrors.InvalidArgument, "duplicate default bridge rule")
	}
	r := Rule{Kind: source.VnetBridge, Name: outputName}
	m.defaultBridge = &r
	return nil
}

// SetDefaultNetwork sets the fallback network rule. A second call is a
// fatal configuration error.
func (m *NetworkMap) SetDefaultNetwork(outputName string) error {
	if m.defaultNetwork != nil {
		return kverrors.New(kverrors.InvalidArgument, "duplicate default network rule")
	}
	r := Rule{Kind: source.VnetNetwork, Name: outputName}
	m.defaultNetwork = &r
	return nil
}

// Apply resolves every NIC in nics against the map, in place, following
// the six-step precedence of spec.md §4.8 and recording a human
// readable MappingExplanation on each.
func (m *NetworkMap) Apply(nics []source.SourceNic) {
	for i := range nics {
		n := &nics[i]
		if n.MAC != "" {
			if r, ok := m.byMAC[strings.ToLower(n.MAC)]; ok {
				n.VnetKind = r.Kind
				n.Vnet = r.Name
				n.MappingExplanation = fmt.Sprintf("mapped by MAC %s to %s %q", n.MAC, r.Kind, r.Name)
				continue
			}
		}
		if n.VnetKind == source.VnetNetwork {
			if r, ok := m.byNetworkName[n.VnetOrig]; ok {
				n.Vnet = r.Name
				n.MappingExplanation = fmt.Sprintf("mapped network %q to %q", n.VnetOrig, r.Name)
				continue
			}
			if m.defaultNetwork != nil {
				n.Vnet = m.defaultNetwork.Name
				n.MappingExplanation = fmt.Sprintf("mapped to default network %q", m.defaultNetwork.Name)
				continue
			}
		}
		if n.VnetKind == source.VnetBridge {
			if r, ok := m.byBridgeName[n.VnetOrig]; ok {
				n.Vnet = r.Name
				n.MappingExplanation = fmt.Sprintf("mapped bridge %q to %q", n.VnetOrig, r.Name)
				continue
			}
			if m.defaultBridge != nil {
				n.Vnet = m.defaultBridge.Name
				n.MappingExplanation = fmt.Sprintf("mapped to default bridge %q", m.defaultBridge.Name)
				continue
			}
		}
		n.MappingExplanation = "left unchanged, no matching rule"
	}
}
