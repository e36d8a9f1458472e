// SPDX-License-Identifier: LGPL-3.0-or-later

package errors

import (
	"errors"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"invalid argument", New(InvalidArgument, "bad flag"), 1},
		{"source parse", New(SourceParseError, "bad xml"), 2},
		{"manifest mismatch", New(ManifestMismatch, "digest"), 2},
		{"no matching driver", New(NoMatchingDriver, "no vioscsi"), 3},
		{"cancelled", New(Cancelled, "sigint"), 3},
		{"plain go error", errors.New("boom"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecoverable(t *testing.T) {
	if !NoMatchingDriver.Recoverable() {
		t.Error("NoMatchingDriver should be recoverable")
	}
	if !TransientCommand.Recoverable() {
		t.Error("TransientCommand should be recoverable")
	}
	if InvalidArgument.Recoverable() {
		t.Error("InvalidArgument should not be recoverable")
	}
}

func TestErrorIs(t *testing.T) {
	err := Wrap(AuthFailed, errors.New("401"), "vcenter login failed")
	if !errors.Is(err, New(AuthFailed, "")) {
		t.Error("expected errors.Is to match on Kind")
	}
	if errors.Is(err, New(ManifestMismatch, "")) {
		t.Error("did not expect match on a different Kind")
	}
}

func TestWithField(t *testing.T) {
	err := New(DependencyMissing, "tool not found").WithField("tool", "grub2-install")
	if err.Fields["tool"] != "grub2-install" {
		t.Errorf("expected tool field to be set, got %v", err.Fields)
	}
}
