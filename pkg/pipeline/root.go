// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	kverrors "kvmigrate/internal/errors"
)

// RootChoiceKind discriminates the four ways a caller disambiguates
// among multiple bootable OS roots on one disk set (spec.md §6).
type RootChoiceKind string

const (
	RootAsk    RootChoiceKind = "Ask"
	RootSingle RootChoiceKind = "Single"
	RootFirst  RootChoiceKind = "First"
	RootDev    RootChoiceKind = "Dev"
)

// RootChoice is the tagged-union root_choice input of spec.md §6.
// Dev is valid only when Kind == RootDev.
type RootChoice struct {
	Kind RootChoiceKind
	Dev  string
}

// AskFunc is the interactive collaborator RootAsk consults, supplied
// by the CLI front-end. A nil AskFunc with RootAsk is InvalidArgument
// (spec.md's original_source/ supplement: "Ask" always needs a
// concrete disambiguation path even with exactly one root).
type AskFunc func(roots []string) (string, error)

// ResolveRoot picks one OS root out of the roots FsInspector.list_os_roots()
// returned, per the root_choice policy of spec.md §6. roots must be
// non-empty; InspectionFailed should already have been returned
// upstream for the zero-roots case.
func ResolveRoot(roots []string, choice RootChoice, ask AskFunc) (string, error) {
	if len(roots) == 0 {
		return "", kverrors.New(kverrors.InspectionFailed, "no OS roots found")
	}

	switch choice.Kind {
	case RootSingle:
		if len(roots) != 1 {
			return "", kverrors.New(kverrors.InvalidArgument, "root_choice=Single but %d roots were found", len(roots))
		}
		return roots[0], nil

	case RootFirst:
		return roots[0], nil

	case RootDev:
		for _, r := range roots {
			if r == choice.Dev {
				return r, nil
			}
		}
		return "", kverrors.New(kverrors.InvalidArgument, "root_choice device %q is not among the discovered roots %v", choice.Dev, roots)

	case RootAsk:
		// Always goes through the disambiguation path, even with a
		// single root, per the original's convention of never silently
		// resolving "ask" on the caller's behalf.
		if ask == nil {
			return "", kverrors.New(kverrors.InvalidArgument, "root_choice=Ask requires an interactive collaborator, none attached")
		}
		return ask(roots)

	default:
		return "", kverrors.New(kverrors.InvalidArgument, "unknown root_choice kind %q", choice.Kind)
	}
}
