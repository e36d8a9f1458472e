// SPDX-License-Identifier: LGPL-3.0-or-later

package ova

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	kverrors "kvmigrate/internal/errors"
)

// OpenMode is the resolved handling strategy for an opened OVA.
type OpenMode string

const (
	// ModeDirectory means every member is a real file under Dir.
	ModeDirectory OpenMode = "Directory"
	// ModeTarOptimized means only .ovf/.mf were extracted into Dir;
	// disks are addressed by byte range inside TarPath.
	ModeTarOptimized OpenMode = "TarOptimized"
)

// TarMember records a disk's byte range inside an uncompressed tar.
type TarMember struct {
	Name   string
	Offset int64 // (block_number + 1) * 512
	Size   int64
}

// Archive is an opened OVA ready for the OVF/VMX parser and the disk copier.
type Archive struct {
	Mode OpenMode

	// Dir holds .ovf/.mf (and, in ModeDirectory, every other member).
	Dir string

	// TarPath and Members are set only when Mode == ModeTarOptimized.
	TarPath string
	Members map[string]TarMember
}

// DiskCompressedFunc reports whether a named OVF disk href is marked
// compressed in the OVF descriptor; TarOptimized is only eligible when
// every disk is uncompressed (spec.md §4.1).
type DiskCompressedFunc func(href string) bool

// Open applies the spec.md §4.1 opening policy: directories pass
// through, tars are optimized when the copy engine supports byte-range
// access and no disk is compressed, zips are always fully unpacked,
// and gzip/xz are uncompressed one layer and re-dispatched.
func Open(path string, tempDir string, copyEngineSupportsByteRange bool, diskCompressed DiskCompressedFunc) (*Archive, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatDirectory:
		return &Archive{Mode: ModeDirectory, Dir: path}, nil

	case FormatTar:
		return openTar(path, tempDir, copyEngineSupportsByteRange, diskCompressed)

	case FormatZip:
		return openZip(path, tempDir)

	case FormatGzip:
		inner, err := decompressOneLayer(path, tempDir, "ova-gunzip-*.tar", func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
		if err != nil {
			return nil, err
		}
		return Open(inner, tempDir, copyEngineSupportsByteRange, diskCompressed)

	case FormatXz:
		inner, err := decompressOneLayer(path, tempDir, "ova-unxz-*.tar", func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
		if err != nil {
			return nil, err
		}
		return Open(inner, tempDir, copyEngineSupportsByteRange, diskCompressed)

	default:
		return nil, kverrors.New(kverrors.UnsupportedSource, "unrecognized OVA container format for %q", path)
	}
}

// decompressOneLayer fully decompresses a single-stream gzip/xz file to
// a temp file and verifies the result looks like a tar, per spec.md
// §4.1 ("uncompress enough to detect the inner format").
func decompressOneLayer(path, tempDir, pattern string, newReader func(io.Reader) (io.Reader, error)) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", kverrors.Wrap(kverrors.SourceParseError, err, "open %q", path)
	}
	defer in.Close()

	zr, err := newReader(in)
	if err != nil {
		return "", kverrors.Wrap(kverrors.SourceParseError, err, "init decompressor for %q", path)
	}

	out, err := os.CreateTemp(tempDir, pattern)
	if err != nil {
		return "", kverrors.Wrap(kverrors.SourceParseError, err, "create temp file")
	}
	defer out.Close()

	if _, err := io.Copy(out, zr); err != nil {
		return "", kverrors.Wrap(kverrors.SourceParseError, err, "decompress %q", path)
	}

	format, err := DetectFormat(out.Name())
	if err != nil || format != FormatTar {
		return "", kverrors.New(kverrors.UnsupportedSource, "decompressed content of %q is not a tar archive", path)
	}
	return out.Name(), nil
}

// openTar decides between ModeTarOptimized and a full unpack.
func openTar(path, tempDir string, copyEngineSupportsByteRange bool, diskCompressed DiskCompressedFunc) (*Archive, error) {
	members, err := indexTar(path)
	if err != nil {
		return nil, err
	}

	eligible := copyEngineSupportsByteRange
	if eligible && diskCompressed != nil {
		for name := range members {
			if isDiskMember(name) && diskCompressed(name) {
				eligible = false
				break
			}
		}
	}

	dir, err := os.MkdirTemp(tempDir, "ova-meta-*")
	if err != nil {
		return nil, kverrors.Wrap(kverrors.SourceParseError, err, "create meta dir")
	}

	if !eligible {
		return unpackTarFully(path, dir, members)
	}

	if err := extractMetaOnly(path, dir, members); err != nil {
		return nil, err
	}
	return &Archive{Mode: ModeTarOptimized, Dir: dir, TarPath: path, Members: members}, nil
}

func isDiskMember(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".vmdk", ".raw", ".img", ".qcow2", ".vhd", ".vhdx":
		return true
	}
	return false
}

// indexTar walks an uncompressed tar once, recording each member's
// header-relative block number so TarByteRange can compute offsets
// without a second pass.
func indexTar(path string) (map[string]TarMember, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.SourceParseError, err, "open tar %q", path)
	}
	defer f.Close()

	members := make(map[string]TarMember)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, kverrors.Wrap(kverrors.SourceParseError, err, "index tar %q", path)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		pos, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, kverrors.Wrap(kverrors.SourceParseError, err, "seek in tar %q", path)
		}
		// pos is just past the header, i.e. the data start offset
		// already; tar readers always seek to block boundaries so this
		// is itself a multiple of 512 and equal to (block+1)*512.
		members[hdr.Name] = TarMember{Name: hdr.Name, Offset: pos, Size: hdr.Size}
	}
	return members, nil
}

func extractMetaOnly(path, destDir string, members map[string]TarMember) error {
	f, err := os.Open(path)
	if err != nil {
		return kverrors.Wrap(kverrors.SourceParseError, err, "open tar %q", path)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return kverrors.Wrap(kverrors.SourceParseError, err, "extract meta from tar %q", path)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		ext := strings.ToLower(filepath.Ext(hdr.Name))
		if ext != ".ovf" && ext != ".mf" {
			continue
		}
		if err := extractRegularFile(destDir, hdr.Name, tr); err != nil {
			return err
		}
	}
	return nil
}

func unpackTarFully(path, destDir string, members map[string]TarMember) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.SourceParseError, err, "open tar %q", path)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, kverrors.Wrap(kverrors.SourceParseError, err, "unpack tar %q", path)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := extractRegularFile(destDir, hdr.Name, tr); err != nil {
			return nil, err
		}
	}
	return &Archive{Mode: ModeDirectory, Dir: destDir}, nil
}

func openZip(path, tempDir string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.SourceParseError, err, "open zip %q", path)
	}
	defer zr.Close()

	destDir, err := os.MkdirTemp(tempDir, "ova-unzip-*")
	if err != nil {
		return nil, kverrors.Wrap(kverrors.SourceParseError, err, "create unzip dir")
	}

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, kverrors.Wrap(kverrors.SourceParseError, err, "open zip member %q", zf.Name)
		}
		err = extractRegularFile(destDir, zf.Name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
	}
	return &Archive{Mode: ModeDirectory, Dir: destDir}, nil
}

// extractRegularFile writes one archive member under destDir, after
// canonicalizing name so an untrusted archive entry cannot escape
// destDir (spec.md §4.1 "Security").
func extractRegularFile(destDir, name string, r io.Reader) error {
	cleanRel := filepath.Clean(string(filepath.Separator) + name)
	target := filepath.Join(destDir, cleanRel)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) && target != filepath.Clean(destDir) {
		return kverrors.New(kverrors.SourceParseError, "archive member %q escapes unpack directory", name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return kverrors.Wrap(kverrors.SourceParseError, err, "create dir for %q", name)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return kverrors.Wrap(kverrors.SourceParseError, err, "create %q", target)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return kverrors.Wrap(kverrors.SourceParseError, err, "write %q", target)
	}
	return nil
}

// ResolvePath resolves an href relative to a Directory-mode archive,
// canonicalizing and verifying it stays inside Dir.
func (a *Archive) ResolvePath(href string) (string, error) {
	if a.Mode != ModeDirectory {
		return "", kverrors.New(kverrors.InvalidArgument, "ResolvePath called on a %s archive", a.Mode)
	}
	cleanRel := filepath.Clean(string(filepath.Separator) + href)
	target := filepath.Join(a.Dir, cleanRel)
	absDir, err := filepath.Abs(a.Dir)
	if err != nil {
		return "", kverrors.Wrap(kverrors.SourceParseError, err, "resolve archive dir")
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", kverrors.Wrap(kverrors.SourceParseError, err, "resolve %q", href)
	}
	if !strings.HasPrefix(absTarget, absDir+string(filepath.Separator)) {
		return "", kverrors.New(kverrors.SourceParseError, "href %q escapes unpack directory", href)
	}
	if _, err := os.Stat(absTarget); err != nil {
		return "", kverrors.Wrap(kverrors.SourceParseError, err, "stat %q", href)
	}
	return absTarget, nil
}

// TarByteRangeURI builds the json: URI the copy engine uses to stream a
// disk directly out of an uncompressed tar (spec.md §4.1).
func (a *Archive) TarByteRangeURI(href string) (string, error) {
	if a.Mode != ModeTarOptimized {
		return "", kverrors.New(kverrors.InvalidArgument, "TarByteRangeURI called on a %s archive", a.Mode)
	}
	m, ok := a.Members[href]
	if !ok {
		return "", kverrors.New(kverrors.SourceParseError, "tar member %q not found", href)
	}
	return tarByteRangeJSON(a.TarPath, m.Offset, m.Size), nil
}
