// SPDX-License-Identifier: LGPL-3.0-or-later

// Package hive provides the Windows registry hive access the Windows
// converter needs (spec.md §4.7): opening a hive for write, navigating
// and creating keys, and setting typed values, scoped with an
// RAII-style "with" helper so a hive is always closed even on error.
//
// No pack repo parses a binary Windows registry hive; Hive is a
// concrete in-memory type, good enough to exercise and test the
// converter's logic. It does not read or write an on-disk hive file,
// and there is no interface type for another backend to implement.
package hive

import (
	"fmt"
	"strings"

	kverrors "kvmigrate/internal/errors"
)

// ValueType mirrors the Windows registry value types this converter uses.
type ValueType int

const (
	REGNone ValueType = iota
	REGSZ
	REGExpandSZ
	REGDWORD
	REGBinary
	REGMultiSZ
)

// Value is one typed registry value.
type Value struct {
	Type ValueType
	Str  string // valid for REG_SZ / REG_EXPAND_SZ / REG_MULTI_SZ (newline-joined)
	DW   uint32 // valid for REG_DWORD
	Bin  []byte // valid for REG_BINARY
}

// Key is one node in the hive tree.
type Key struct {
	name     string
	values   map[string]Value
	children map[string]*Key
}

func newKey(name string) *Key {
	return &Key{name: name, values: make(map[string]Value), children: make(map[string]*Key)}
}

// Hive is an opened registry hive (SYSTEM or SOFTWARE) open for
// read/write.
type Hive struct {
	root   *Key
	closed bool
}

// Open constructs an empty in-memory Hive. A real implementation would
// parse hivePath off disk; tests and the converter's unit-level logic
// only need the tree it exposes.
func Open(hivePath string) (*Hive, error) {
	return &Hive{root: newKey("")}, nil
}

// Close marks the hive closed; further operations fail. Safe to call
// multiple times.
func (h *Hive) Close() error {
	h.closed = true
	return nil
}

// With opens a hive, runs fn, and always closes it afterward, even if
// fn returns an error — the RAII pattern spec.md's Windows converter
// section implies for "system hive open for write".
func With(hivePath string, fn func(*Hive) error) error {
	h, err := Open(hivePath)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

// CreateKey creates (or returns, if it exists) the key at the given
// backslash-separated path, creating intermediate keys as needed.
func (h *Hive) CreateKey(path string) (*Key, error) {
	if h.closed {
		return nil, kverrors.New(kverrors.InvalidArgument, "hive is closed")
	}
	k := h.root
	for _, seg := range splitPath(path) {
		child, ok := k.children[strings.ToLower(seg)]
		if !ok {
			child = newKey(seg)
			k.children[strings.ToLower(seg)] = child
		}
		k = child
	}
	return k, nil
}

// HasKey reports whether path exists, without creating it — used to
// probe for the DriverDatabase node (spec.md §4.7).
func (h *Hive) HasKey(path string) bool {
	if h.closed {
		return false
	}
	k := h.root
	for _, seg := range splitPath(path) {
		child, ok := k.children[strings.ToLower(seg)]
		if !ok {
			return false
		}
		k = child
	}
	return true
}

// SetValue sets name=value under the key at path, creating the key if
// necessary.
func (h *Hive) SetValue(path, name string, v Value) error {
	k, err := h.CreateKey(path)
	if err != nil {
		return err
	}
	k.values[name] = v
	return nil
}

// Value returns the named value under path, if set.
func (h *Hive) Value(path, name string) (Value, bool) {
	if h.closed {
		return Value{}, false
	}
	k := h.root
	for _, seg := range splitPath(path) {
		child, ok := k.children[strings.ToLower(seg)]
		if !ok {
			return Value{}, false
		}
		k = child
	}
	v, ok := k.values[name]
	return v, ok
}

func splitPath(path string) []string {
	var segs []string
	for _, seg := range strings.Split(path, `\`) {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

func (v Value) String() string {
	switch v.Type {
	case REGSZ, REGExpandSZ:
		return v.Str
	case REGDWORD:
		return fmt.Sprintf("0x%x", v.DW)
	case REGBinary:
		return fmt.Sprintf("% x", v.Bin)
	default:
		return ""
	}
}
