// SPDX-License-Identifier: LGPL-3.0-or-later

// Package windows implements the Windows in-place converter of
// spec.md §4.7: virtio driver-package selection from a VIRTIO_WIN tree
// or mounted ISO, driver installation, registry edits via pkg/hive,
// firstboot scaffolding, and the anti-virus guard.
//
// Grounded, like pkg/convert/linux, on the staged-mutation style of
// the teacher's providers/common/pipeline.go and guest_config.go.
package windows

import (
	"path"
	"regexp"
	"strings"
)

// GuestTarget identifies the Windows version/arch/variant the driver
// selector matches files against.
type GuestTarget struct {
	Arch   string // "i386" or "amd64" ("x86" path segments classify as "i386")
	Major  int
	Minor  int
	Client bool // true for client SKUs (XP/Vista/7/8/8.1/10), false for server SKUs
}

// DriverFile is one file discovered under a VIRTIO_WIN tree, classified
// by its containing directory path.
type DriverFile struct {
	Path      string
	Arch      string
	Major     int
	Minor     int
	Client    bool
	Extension string
}

var allowedExtensions = map[string]bool{".cat": true, ".inf": true, ".pdb": true, ".sys": true}

// osSegment names one recognized (major, minor, client) path segment,
// in the order spec.md §4.7 lists them. A table of segment tuples
// consulted in order, per the Redesign Flag favoring table-based
// matching over free-form regex.
type osSegment struct {
	segment string
	major   int
	minor   int
	client  bool
}

var osSegments = []osSegment{
	{"xp", 5, 1, true},
	{"2k3", 5, 2, false},
	{"vista", 6, 0, true},
	{"2k8", 6, 0, false},
	{"w7", 6, 1, true},
	{"2k8r2", 6, 1, false},
	{"w8", 6, 2, true},
	{"2k12", 6, 2, false},
	{"w8.1", 6, 3, true},
	{"2k12r2", 6, 3, false},
	{"w10", 10, 0, true},
	{"2k16", 10, 0, false},
}

var archSegments = map[string]string{
	"i386":  "i386",
	"x86":   "i386",
	"amd64": "amd64",
}

// ClassifyPath derives (arch, major, minor, client) from a VIRTIO_WIN
// directory path by case-insensitive segment matching, per spec.md
// §4.7. Returns ok=false if no recognized OS segment or arch segment
// is present in the path.
func ClassifyPath(filePath string) (DriverFile, bool) {
	segs := strings.Split(toSlash(filePath), "/")
	var arch string
	var major, minor int
	var client bool
	var haveOS, haveArch bool

	for _, raw := range segs {
		seg := strings.ToLower(raw)
		if a, ok := archSegments[seg]; ok {
			arch = a
			haveArch = true
			continue
		}
		for _, os := range osSegments {
			if seg == os.segment {
				major, minor, client = os.major, os.minor, os.client
				haveOS = true
				break
			}
		}
	}

	if !haveOS || !haveArch {
		return DriverFile{}, false
	}

	ext := strings.ToLower(path.Ext(filePath))
	return DriverFile{
		Path:      filePath,
		Arch:      arch,
		Major:     major,
		Minor:     minor,
		Client:    client,
		Extension: ext,
	}, allowedExtensions[ext]
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// SelectDrivers walks the classified files under a VIRTIO_WIN tree and
// returns those matching target exactly on arch/major/minor/client,
// restricted to the cat/inf/pdb/sys extensions.
func SelectDrivers(files []string, target GuestTarget) []DriverFile {
	var out []DriverFile
	for _, f := range files {
		df, ok := ClassifyPath(f)
		if !ok {
			continue
		}
		if df.Arch == target.Arch && df.Major == target.Major && df.Minor == target.Minor && df.Client == target.Client {
			out = append(out, df)
		}
	}
	return out
}

// storageDriverProbeOrder is the probe set spec.md §4.7 names for
// selecting the storage driver, in probe order. "Virtio_SCSI" requests
// force vioscsi regardless of probe order.
var storageDriverProbeOrder = []string{"virtio_blk", "vrtioblk", "viostor", "vioscsi"}

// SelectStorageDriver picks the storage driver basename (without
// extension) to install, given the set of available driver names
// (lowercase, no extension) among the selected files, and whether the
// caller explicitly requested virtio-scsi.
func SelectStorageDriver(available map[string]bool, requestVirtioSCSI bool) (string, bool) {
	if requestVirtioSCSI {
		if available["vioscsi"] {
			return "vioscsi", true
		}
		return "", false
	}
	for _, name := range storageDriverProbeOrder {
		if available[name] {
			return name, true
		}
	}
	return "", false
}

// antivirusMarkers are the case-insensitive name/publisher patterns
// spec.md §4.7 lists for the anti-virus guard.
var antivirusMarkers = regexp.MustCompile(`(?i)(virus|kaspersky|mcafee|norton|sophos|avg technologies)`)

// Application is the minimal installed-application record the
// anti-virus guard scans; mirrors pkg/inspect.Application.
type Application struct {
	Name      string
	Publisher string
}

// DetectAntivirus scans installed applications for names/publishers
// matching known anti-virus products. It never blocks conversion —
// callers attach the returned warnings to the conversion report.
func DetectAntivirus(apps []Application) []string {
	var warnings []string
	for _, app := range apps {
		if antivirusMarkers.MatchString(app.Name) || antivirusMarkers.MatchString(app.Publisher) {
			warnings = append(warnings, "possible anti-virus product detected: "+app.Name+" ("+app.Publisher+"); virtio driver installation may be blocked or flagged")
		}
	}
	return warnings
}
