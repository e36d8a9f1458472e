// SPDX-License-Identifier: LGPL-3.0-or-later

package linux

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Kernel is one detected installed kernel plus the features probed for
// it, per spec.md §4.6's kernel-detection algorithm.
type Kernel struct {
	Package      string // owning package name, e.g. "kernel-5.14.0-1"
	Version      string // derived from the module directory tail
	VmlinuzPath  string
	ModulesDir   string
	InitramfsPath string
	Modules      []string
	Arch         string
	Debug        bool
	IsXenParavirt bool

	VirtioBlk    bool
	VirtioSCSI   bool
	VirtioNet    bool
	VirtioRNG    bool
	VirtioBalloon bool
	PVPanic      bool

	Identity KernelIdentity
}

// KernelIdentity is the (device, inode) pair used to intersect the
// package-manager's enumerated kernels with what a bootloader actually
// lists as bootable, per spec.md §4.6.
type KernelIdentity struct {
	Dev uint64
	Ino uint64
}

var (
	kernelPackagePrefixes = []string{"kernel", "kernel-", "linux-image-"}
	moduleDirVersionRe    = regexp.MustCompile(`^/lib/modules/([^/]+)/?$`)
	kdumpInitramfsRe      = regexp.MustCompile(`(?i)kdump`)
	debugPackageRe        = regexp.MustCompile(`(?i)-debug(-|$)`)
)

// StatFunc is how callers supply (dev, ino) for a path without this
// package depending on a particular filesystem-inspection backend.
type StatFunc func(path string) (dev, ino uint64, err error)

// PackageInfo is the minimal package-manager record the enumeration
// step needs: a name and the file list it owns.
type PackageInfo struct {
	Name  string
	Files []string
}

// IsKernelPackage reports whether a package name matches one of the
// recognized kernel package naming schemes.
func IsKernelPackage(name string) bool {
	for _, prefix := range kernelPackagePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// DetectKernels enumerates installed kernels from the guest's package
// list: for each kernel package, finds its vmlinuz, module directory
// (and thus version), matching initramfs, and module list, then probes
// virtio/PV-panic feature support and architecture.
func DetectKernels(packages []PackageInfo, moduleExists func(modDir, name string) bool, elfArch func(path string) (string, error)) ([]Kernel, []string) {
	var kernels []Kernel
	var warnings []string

	for _, pkg := range packages {
		if !IsKernelPackage(pkg.Name) {
			continue
		}
		var vmlinuz, modDir string
		var initramfsCandidates []string
		for _, f := range pkg.Files {
			base := filepath.Base(f)
			if strings.HasPrefix(base, "vmlinuz-") || base == "vmlinuz" {
				vmlinuz = f
			}
			if m := moduleDirVersionRe.FindStringSubmatch(f); m != nil {
				modDir = f
			}
			if strings.Contains(base, "initramfs") || strings.Contains(base, "initrd") {
				initramfsCandidates = append(initramfsCandidates, f)
			}
		}
		if vmlinuz == "" {
			warnings = append(warnings, "package "+pkg.Name+": no vmlinuz found, skipping")
			continue
		}

		version := versionFromModuleDir(modDir)
		if version == "" {
			version = versionFromVmlinuzName(vmlinuz)
		}

		initramfs := pickInitramfs(initramfsCandidates)

		k := Kernel{
			Package:       pkg.Name,
			Version:       version,
			VmlinuzPath:   vmlinuz,
			ModulesDir:    modDir,
			InitramfsPath: initramfs,
			Debug:         debugPackageRe.MatchString(pkg.Name),
		}

		if elfArch != nil {
			if arch, err := elfArch(vmlinuz); err == nil {
				k.Arch = arch
			}
		}

		if moduleExists != nil {
			k.VirtioBlk = moduleExists(modDir, "virtio_blk")
			k.VirtioSCSI = moduleExists(modDir, "virtio_scsi")
			k.VirtioNet = moduleExists(modDir, "virtio_net")
			k.VirtioRNG = moduleExists(modDir, "virtio_rng") || moduleExists(modDir, "virtio-rng")
			k.VirtioBalloon = moduleExists(modDir, "virtio_balloon")
			k.PVPanic = moduleExists(modDir, "pvpanic")
			k.IsXenParavirt = moduleExists(modDir, "xen-platform-pci") || strings.Contains(pkg.Name, "xen")
		}

		kernels = append(kernels, k)
	}

	return kernels, warnings
}

func versionFromModuleDir(modDir string) string {
	m := moduleDirVersionRe.FindStringSubmatch(modDir)
	if m == nil {
		return ""
	}
	return m[1]
}

func versionFromVmlinuzName(vmlinuz string) string {
	base := filepath.Base(vmlinuz)
	return strings.TrimPrefix(base, "vmlinuz-")
}

// pickInitramfs applies the shortest-filename tiebreak, excluding any
// kdump-specific initramfs, per spec.md §4.6.
func pickInitramfs(candidates []string) string {
	var best string
	for _, c := range candidates {
		if kdumpInitramfsRe.MatchString(c) {
			continue
		}
		if best == "" || len(filepath.Base(c)) < len(filepath.Base(best)) {
			best = c
		}
	}
	return best
}

// IdentityOf resolves the (dev, ino) identity of a kernel's vmlinuz
// file via stat, recording it on the Kernel for later intersection
// against the bootloader's own kernel list.
func IdentityOf(k *Kernel, stat StatFunc) error {
	dev, ino, err := stat(k.VmlinuzPath)
	if err != nil {
		return err
	}
	k.Identity = KernelIdentity{Dev: dev, Ino: ino}
	return nil
}

// IntersectWithBootloader keeps only the detected kernels whose
// (dev, ino) identity also appears among the bootloader's listed
// vmlinuz paths (resolved through the same stat function), per
// spec.md §4.6: package-manager enumeration and bootloader-menu
// enumeration must agree on what is actually bootable.
func IntersectWithBootloader(kernels []Kernel, bootloaderVmlinuzPaths []string, stat StatFunc) []Kernel {
	bootable := make(map[KernelIdentity]bool)
	for _, p := range bootloaderVmlinuzPaths {
		if dev, ino, err := stat(p); err == nil {
			bootable[KernelIdentity{Dev: dev, Ino: ino}] = true
		}
	}
	var out []Kernel
	for _, k := range kernels {
		if bootable[k.Identity] {
			out = append(out, k)
		}
	}
	return out
}

// SortKernelsForDefault orders kernels by the stable tiebreak key
// spec.md §4.6 gives for choosing the new default: prefer non-debug,
// prefer virtio_blk support, prefer virtio_net support, then the
// highest epoch, then the highest version — in that priority order.
func SortKernelsForDefault(kernels []Kernel) {
	sort.SliceStable(kernels, func(i, j int) bool {
		a, b := kernels[i], kernels[j]
		if a.Debug != b.Debug {
			return !a.Debug // non-debug sorts first
		}
		if a.VirtioBlk != b.VirtioBlk {
			return a.VirtioBlk
		}
		if a.VirtioNet != b.VirtioNet {
			return a.VirtioNet
		}
		if ea, eb := epochOf(a.Version), epochOf(b.Version); ea != eb {
			return ea > eb
		}
		return compareVersions(a.Version, b.Version) > 0
	})
}

func epochOf(version string) int {
	if i := strings.Index(version, ":"); i >= 0 {
		n := 0
		for _, r := range version[:i] {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	return 0
}

// compareVersions does a segment-wise numeric/lexical comparison
// good enough to order kernel version strings like "5.14.0-100" vs
// "5.14.0-99" correctly (numeric segments compare numerically).
func compareVersions(a, b string) int {
	as := splitVersion(a)
	bs := splitVersion(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := toInt(as[i])
		bn, berr := toInt(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if as[i] < bs[i] {
			return -1
		}
		return 1
	}
	return len(as) - len(bs)
}

func splitVersion(v string) []string {
	return regexp.MustCompile(`[.\-_]`).Split(v, -1)
}

func toInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconvErr{}
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return 0, strconvErr{}
	}
	return n, nil
}

type strconvErr struct{}

func (strconvErr) Error() string { return "not numeric" }
