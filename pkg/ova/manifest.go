// SPDX-License-Identifier: LGPL-3.0-or-later

package ova

import (
	"bufio"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	kverrors "kvmigrate/internal/errors"
)

// ManifestEntry is one parsed `ALGO(file)= hex` line.
type ManifestEntry struct {
	Algorithm string // "SHA1" or "SHA256", uppercased
	File      string
	Digest    []byte
}

// ParseManifest parses a .mf file's contents per spec.md §4.1: lines of
// the form `SHA1(file)= hex` or `SHA256(file)= hex`, case-insensitive
// algorithm, optional trailing \r. Unparseable lines produce a warning
// (returned separately), never a fatal error.
func ParseManifest(mf []byte) (entries []ManifestEntry, warnings []string) {
	scanner := bufio.NewScanner(strings.NewReader(string(mf)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, err := parseManifestLine(line)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("manifest line %d: %v", lineNo, err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, warnings
}

func parseManifestLine(line string) (ManifestEntry, error) {
	open := strings.IndexByte(line, '(')
	close := strings.IndexByte(line, ')')
	eq := strings.IndexByte(line, '=')
	if open < 0 || close < open || eq < close {
		return ManifestEntry{}, fmt.Errorf("malformed line %q", line)
	}
	algo := strings.ToUpper(strings.TrimSpace(line[:open]))
	if algo != "SHA1" && algo != "SHA256" {
		return ManifestEntry{}, fmt.Errorf("unsupported algorithm %q", algo)
	}
	file := line[open+1 : close]
	hexDigest := strings.TrimSpace(line[eq+1:])
	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("invalid hex digest %q: %w", hexDigest, err)
	}
	return ManifestEntry{Algorithm: algo, File: file, Digest: digest}, nil
}

// Verify checks every manifest entry against the file resolve opens
// for it, in constant time. A file listed but missing is reported
// as a warning; any digest mismatch is a fatal ManifestMismatch.
func Verify(entries []ManifestEntry, resolve func(file string) (io.ReadCloser, error)) (warnings []string, err error) {
	for _, e := range entries {
		r, openErr := resolve(e.File)
		if openErr != nil {
			warnings = append(warnings, fmt.Sprintf("manifest entry %q not found in archive: %v", e.File, openErr))
			continue
		}
		got, hashErr := digestOf(e.Algorithm, r)
		closeErr := r.Close()
		if hashErr != nil {
			return warnings, kverrors.Wrap(kverrors.ManifestMismatch, hashErr, "hash %q", e.File)
		}
		if closeErr != nil {
			return warnings, kverrors.Wrap(kverrors.ManifestMismatch, closeErr, "close %q", e.File)
		}
		if subtle.ConstantTimeCompare(got, e.Digest) != 1 {
			return warnings, kverrors.New(kverrors.ManifestMismatch, "digest mismatch for %q (%s)", e.File, e.Algorithm)
		}
	}
	return warnings, nil
}

func digestOf(algorithm string, r io.Reader) ([]byte, error) {
	var h hash.Hash
	switch algorithm {
	case "SHA1":
		h = sha1.New()
	case "SHA256":
		h = sha256.New()
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// OpenMember returns a ReadCloser for a named archive member in either
// archive mode, for manifest verification purposes.
func (a *Archive) OpenMember(name string) (io.ReadCloser, error) {
	switch a.Mode {
	case ModeDirectory:
		path, err := a.ResolvePath(name)
		if err != nil {
			return nil, err
		}
		return os.Open(path)
	case ModeTarOptimized:
		m, ok := a.Members[name]
		if !ok {
			return nil, kverrors.New(kverrors.SourceParseError, "tar member %q not found", name)
		}
		f, err := os.Open(a.TarPath)
		if err != nil {
			return nil, err
		}
		return &boundedReadCloser{f: f, remaining: m.Size, offset: m.Offset}, nil
	default:
		return nil, kverrors.New(kverrors.InvalidArgument, "unknown archive mode %s", a.Mode)
	}
}

// boundedReadCloser reads exactly Size bytes starting at Offset from f,
// then reports io.EOF, closing f on Close.
type boundedReadCloser struct {
	f         *os.File
	offset    int64
	remaining int64
	started   bool
}

func (b *boundedReadCloser) Read(p []byte) (int, error) {
	if !b.started {
		if _, err := b.f.Seek(b.offset, io.SeekStart); err != nil {
			return 0, err
		}
		b.started = true
	}
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.f.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *boundedReadCloser) Close() error {
	return b.f.Close()
}
