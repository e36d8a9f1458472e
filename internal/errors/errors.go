// SPDX-License-Identifier: LGPL-3.0-or-later

// Package errors implements the conversion pipeline's error taxonomy:
// a small, closed set of error kinds with well-defined recoverability
// and a mapping onto process exit codes.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by how the pipeline must react to it.
type Kind int

const (
	// InvalidArgument covers bad caller input (CLI options, malformed
	// network-map rules, unknown root_choice). Not recoverable.
	InvalidArgument Kind = iota
	// SourceParseError covers malformed libvirt XML / OVF / VMX input.
	SourceParseError
	// UnsupportedSource covers structurally valid but unconvertible
	// sources (e.g. a Xen PV-only kernel).
	UnsupportedSource
	// DependencyMissing covers a required external tool not found on PATH.
	DependencyMissing
	// AuthFailed covers authentication failure against a source transport.
	AuthFailed
	// ManifestMismatch covers an OVA manifest digest disagreement.
	ManifestMismatch
	// InspectionFailed covers FsInspector being unable to identify the guest.
	InspectionFailed
	// NoMatchingDriver covers a requested bus/driver with no guest-side
	// support; may be recovered by downgrading to a legacy bus.
	NoMatchingDriver
	// TransientCommand covers a subprocess failure that is worth one retry.
	TransientCommand
	// ExternalCommandFailed covers a subprocess that failed after any retries.
	ExternalCommandFailed
	// Cancelled covers SIGINT-driven unwind.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case SourceParseError:
		return "SourceParseError"
	case UnsupportedSource:
		return "UnsupportedSource"
	case DependencyMissing:
		return "DependencyMissing"
	case AuthFailed:
		return "AuthFailed"
	case ManifestMismatch:
		return "ManifestMismatch"
	case InspectionFailed:
		return "InspectionFailed"
	case NoMatchingDriver:
		return "NoMatchingDriver"
	case TransientCommand:
		return "TransientCommand"
	case ExternalCommandFailed:
		return "ExternalCommandFailed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Recoverable reports whether the pipeline may locally absorb an error
// of this kind (log a warning) instead of propagating it to the caller.
func (k Kind) Recoverable() bool {
	switch k {
	case NoMatchingDriver, TransientCommand:
		return true
	default:
		return false
	}
}

// Error is the typed error value returned by every fallible pipeline stage.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Fields carries kind-specific structured context, e.g. for
	// SourceParseError: {"file": ..., "line": ...}; for ManifestMismatch:
	// {"expected": ..., "actual": ...}; for DependencyMissing: {"tool": ...}.
	Fields map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, New(kind, "")) by comparing Kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error with no cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error carrying cause as its wrapped error.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithField returns e with a structured field attached, for chaining
// at the construction site: errors.New(...).WithField("tool", "virt-cat").
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// KindOf extracts the Kind of err, if it (or something it wraps) is an *Error.
// Unrecognized errors are treated as ExternalCommandFailed so that exit-code
// mapping always has a sane default.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ExternalCommandFailed
}

// ExitCode maps a pipeline error onto the process exit codes of spec §6:
// 0 success, 1 user error, 2 source/inspection error, 3 conversion
// failed, 77 test skipped. nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case InvalidArgument:
		return 1
	case SourceParseError, UnsupportedSource, AuthFailed, ManifestMismatch, InspectionFailed, DependencyMissing:
		return 2
	case NoMatchingDriver, TransientCommand, ExternalCommandFailed, Cancelled:
		return 3
	default:
		return 3
	}
}
