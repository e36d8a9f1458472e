// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"kvmigrate/pkg/source"
)

// OutputKind discriminates the output_spec variants of spec.md §6.
type OutputKind string

const (
	OutputLibvirt   OutputKind = "Libvirt"
	OutputLocal     OutputKind = "Local"
	OutputRhv       OutputKind = "Rhv"
	OutputRhvUpload OutputKind = "RhvUpload"
	OutputJSON      OutputKind = "Json"
	OutputOpenstack OutputKind = "Openstack"
	OutputNull      OutputKind = "Null"
	OutputVdsm      OutputKind = "Vdsm"
)

// RhvSpec carries the `-o rhv` fields of spec.md §6.
type RhvSpec struct {
	StorageDomainPath string
	ImageUUIDs        []string // one per source disk, index-aligned; generated if empty
	VolUUIDs          []string // one per source disk, index-aligned; generated if empty
	VMUUID            string   // generated if empty
	VMType            string
	Compat            string // "0.10" or "1.1"
}

// RhvUploadSpec carries the `-o rhv-upload` fields of spec.md §6. The
// actual HTTPS PUT session is an external collaborator; this core only
// ever shapes the request, never performs it.
type RhvUploadSpec struct {
	APIURL       string
	PasswordFile string
	Direct       bool
	CAFile       string
}

// OpenstackSpec carries the `-o openstack` fields of spec.md §6.
type OpenstackSpec struct {
	ServerID      string
	GuestID       string
	DevDiskByID   bool
}

// VdsmSpec is the VDSM output variant; spec.md leaves its fields
// unspecified ("..."), so only the discriminator itself is modeled.
type VdsmSpec struct{}

// OutputSpec is the tagged-union output_spec input of spec.md §6.
type OutputSpec struct {
	Kind OutputKind

	LibvirtURI string
	LocalDir   string
	Rhv        RhvSpec
	RhvUpload  RhvUploadSpec
	JSONDir    string
	JSONDisksPattern string
	Openstack  OpenstackSpec
	Vdsm       VdsmSpec
}

// ResolveRhvUUIDs fills in any empty ImageUUIDs/VolUUIDs/VMUUID with
// freshly generated UUIDs, one per disk, matching virt-v2v's own
// fallback when the caller doesn't supply them (SPEC_FULL.md
// supplement from original_source/).
func ResolveRhvUUIDs(spec *RhvSpec, diskCount int) {
	if spec.VMUUID == "" {
		spec.VMUUID = uuid.NewString()
	}
	for len(spec.ImageUUIDs) < diskCount {
		spec.ImageUUIDs = append(spec.ImageUUIDs, uuid.NewString())
	}
	for len(spec.VolUUIDs) < diskCount {
		spec.VolUUIDs = append(spec.VolUUIDs, uuid.NewString())
	}
}

// RhvMetaRecord is one `<file>.meta` companion, per spec.md §6.
type RhvMetaRecord struct {
	Domain      string
	VolType     string
	Format      string
	DiskType    int // 1 = system disk, 2 = data disk (SPEC_FULL.md supplement)
	Description string
	Size        int64
	CTime       int64
	MTime       int64
	Image       string
	PUUID       string
	Legality    string
	PoolUUID    string
	Type        string
}

// DiskTypeFor derives the RHV DISKTYPE of a disk from its position:
// index 0 is the system disk (1), everything after is a data disk (2),
// matching virt-v2v's convention (SPEC_FULL.md supplement).
func DiskTypeFor(diskIndex int) int {
	if diskIndex == 0 {
		return 1
	}
	return 2
}

// WriteRhvMeta renders one `.meta` key=value record, terminated by the
// literal EOF marker line, per spec.md §6.
func WriteRhvMeta(w io.Writer, m RhvMetaRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "DOMAIN=%s\n", m.Domain)
	fmt.Fprintf(&b, "VOLTYPE=%s\n", m.VolType)
	fmt.Fprintf(&b, "FORMAT=%s\n", m.Format)
	fmt.Fprintf(&b, "DISKTYPE=%d\n", m.DiskType)
	fmt.Fprintf(&b, "DESCRIPTION=%s\n", m.Description)
	fmt.Fprintf(&b, "SIZE=%d\n", m.Size)
	fmt.Fprintf(&b, "CTIME=%d\n", m.CTime)
	fmt.Fprintf(&b, "MTIME=%d\n", m.MTime)
	fmt.Fprintf(&b, "IMAGE=%s\n", m.Image)
	fmt.Fprintf(&b, "PUUID=%s\n", m.PUUID)
	fmt.Fprintf(&b, "LEGALITY=%s\n", m.Legality)
	fmt.Fprintf(&b, "POOL_UUID=%s\n", m.PoolUUID)
	fmt.Fprintf(&b, "TYPE=%s\n", m.Type)
	b.WriteString("EOF\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// BuildRhvMetaRecords builds one RhvMetaRecord per source disk, in
// disk order, filling Image from the (already-resolved) Rhv.ImageUUIDs
// and PoolUUID from Rhv.VolUUIDs; PUUID is always the all-zero UUID.
func BuildRhvMetaRecords(src *source.Source, diskSizes map[int]int64, rhv RhvSpec, description string, nowUnix int64) []RhvMetaRecord {
	records := make([]RhvMetaRecord, len(src.Disks))
	for i, d := range src.Disks {
		records[i] = RhvMetaRecord{
			Domain:      rhv.StorageDomainPath,
			VolType:     "SPARSE",
			Format:      diskFormatFor(d.Format),
			DiskType:    DiskTypeFor(i),
			Description: description,
			Size:        diskSizes[d.ID],
			CTime:       nowUnix,
			MTime:       nowUnix,
			Image:       valueOr(rhv.ImageUUIDs, i),
			PUUID:       "00000000-0000-0000-0000-000000000000",
			Legality:    "LEGAL",
			PoolUUID:    valueOr(rhv.VolUUIDs, i),
			Type:        "SPARSE",
		}
	}
	return records
}

func diskFormatFor(format string) string {
	if format == "" {
		return "COW"
	}
	switch strings.ToLower(format) {
	case "raw":
		return "RAW"
	default:
		return "COW"
	}
}

func valueOr(vals []string, i int) string {
	if i < len(vals) {
		return vals[i]
	}
	return ""
}
