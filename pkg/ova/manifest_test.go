// SPDX-License-Identifier: LGPL-3.0-or-later

package ova

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"
	"testing"
)

func TestParseManifestValidLines(t *testing.T) {
	mf := "SHA1(disk1.vmdk)= " + strings.Repeat("ab", 20) + "\r\nsha256(disk2.vmdk)= " + strings.Repeat("cd", 32) + "\n"
	entries, warnings := ParseManifest([]byte(mf))
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Algorithm != "SHA1" || entries[0].File != "disk1.vmdk" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Algorithm != "SHA256" || entries[1].File != "disk2.vmdk" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestParseManifestMalformedLineWarnsNotErrors(t *testing.T) {
	mf := "this is not a manifest line\nSHA1(ok.vmdk)= " + strings.Repeat("11", 20)
	entries, warnings := ParseManifest([]byte(mf))
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
}

func TestVerifyMatchingDigestSucceeds(t *testing.T) {
	content := []byte("disk contents")
	sum := sha1.Sum(content)
	entries := []ManifestEntry{{Algorithm: "SHA1", File: "disk1.vmdk", Digest: sum[:]}}
	resolve := func(file string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(string(content))), nil
	}
	warnings, err := Verify(entries, resolve)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestVerifyMismatchIsFatal(t *testing.T) {
	bad, _ := hex.DecodeString(strings.Repeat("00", 20))
	entries := []ManifestEntry{{Algorithm: "SHA1", File: "disk1.vmdk", Digest: bad}}
	resolve := func(file string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("disk contents")), nil
	}
	if _, err := Verify(entries, resolve); err == nil {
		t.Error("expected ManifestMismatch error")
	}
}

func TestVerifyMissingFileIsWarningOnly(t *testing.T) {
	entries := []ManifestEntry{{Algorithm: "SHA1", File: "ghost.vmdk", Digest: []byte{1, 2, 3}}}
	resolve := func(file string) (io.ReadCloser, error) {
		return nil, io.ErrUnexpectedEOF
	}
	warnings, err := Verify(entries, resolve)
	if err != nil {
		t.Fatalf("Verify() error = %v, want nil (missing file is a warning)", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
}
