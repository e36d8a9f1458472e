// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"

	kverrors "kvmigrate/internal/errors"
	"kvmigrate/logger"
	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/copier"
	"kvmigrate/pkg/inspect"
	"kvmigrate/pkg/netmap"
	"kvmigrate/pkg/source"
	"kvmigrate/pkg/target/jsonwriter"
	"kvmigrate/pkg/target/libvirtxml"
	"kvmigrate/pkg/target/openstack"
	"kvmigrate/pkg/target/ovf"
)

// LibvirtDefiner defines a parsed domain against a live libvirt
// connection (the "Libvirt{uri?}" output transport of spec.md §6). No
// pure-Go implementation exists in this core (see DESIGN.md); a nil
// Definer makes Convert return the rendered domain XML in the result
// instead of handing it off.
type LibvirtDefiner interface {
	Define(ctx context.Context, uri, domainXML string) error
}

// OpenstackUploader creates a Glance image from a converted disk (the
// "Openstack" output transport). A nil Uploader makes Convert return
// the built images.CreateOpts in the result instead of calling Glance.
type OpenstackUploader interface {
	Create(ctx context.Context, opts images.CreateOpts, diskPath string) (imageID string, err error)
}

// RhvUploader performs the rhv-upload HTTPS PUT session against
// imageio. A nil Uploader leaves the OVF/.meta artifacts on local disk
// for a separate upload step.
type RhvUploader interface {
	Upload(ctx context.Context, spec RhvUploadSpec, diskPath string) error
}

// Pipeline ties together every stage of spec.md §5: parse source,
// attach/inspect/mount, resolve the boot root, convert the guest in
// place, negotiate capabilities, remap networks, copy disks, write the
// target. It is single-threaded and synchronous except for the three
// parallelism points spec.md §5 names (the Copier's own internal disk
// copy, child-process invocation, and uid/gid-switching child forks),
// none of which Pipeline itself spawns.
//
// Grounded on the staged orchestration of the teacher's
// providers/common/pipeline.go and migration_orchestrator.go, adapted
// from "collect export metadata across N stages" to "convert one guest
// across N stages", with every scoped resource released through a
// CleanupStack instead of the teacher's ad hoc defer chains.
type Pipeline struct {
	Log       logger.Logger
	Inspector inspect.FsInspector
	Converter GuestConverter
	Copier    copier.Copier

	LibvirtDefiner    LibvirtDefiner
	OpenstackUploader OpenstackUploader
	RhvUploader       RhvUploader
}

// New constructs a Pipeline from its required collaborators. The
// optional live-handoff collaborators (LibvirtDefiner,
// OpenstackUploader, RhvUploader) are left nil and may be set directly.
func New(log logger.Logger, insp inspect.FsInspector, conv GuestConverter, cop copier.Copier) *Pipeline {
	return &Pipeline{Log: log, Inspector: insp, Converter: conv, Copier: cop}
}

// ConvertRequest is the full set of inputs spec.md §6 describes for
// one conversion run.
type ConvertRequest struct {
	Source        SourceSpec
	RequestedCaps caps.RequestedGuestCaps
	NetworkMap    *netmap.NetworkMap
	Output        OutputSpec
	RootChoice    RootChoice
	Ask           AskFunc
	Policy        ConversionPolicy
	DstFormat     string // target disk image format, e.g. "qcow2"
	Progress      copier.ProgressFunc
	Description   string
}

// ConvertResult is what Convert produced, for the CLI front-end to
// report or hand off.
type ConvertResult struct {
	VMName        string
	Caps          caps.GuestCaps
	DiskPaths     []string // final converted disk paths, in disk order
	DomainXML     string   // set when Output.Kind == OutputLibvirt and no LibvirtDefiner was attached
	OpenstackOpts *images.CreateOpts
	RhvMeta       []RhvMetaRecord
}

// Convert runs the full pipeline for one guest. It installs a SIGINT
// handler that cancels ctx and unwinds every scoped resource in LIFO
// order before returning; the same unwind runs on any other exit path,
// success or error.
func (p *Pipeline) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			p.Log.Warn("received SIGINT, cancelling in-flight stage")
			cancel()
		case <-ctx.Done():
		}
	}()

	cleanup := NewCleanupStack(p.Log)
	defer func() {
		if errs := cleanup.Unwind(); len(errs) > 0 {
			p.Log.Warn("one or more cleanup steps failed", "count", len(errs))
		}
	}()

	src, err := ParseSource(req.Source)
	if err != nil {
		return nil, err
	}

	qemuURIs := make([]string, len(src.Disks))
	for i, d := range src.Disks {
		qemuURIs[i] = d.QEMUURI
	}

	if err := p.Inspector.AttachDisks(ctx, qemuURIs); err != nil {
		return nil, kverrors.Wrap(kverrors.InspectionFailed, err, "attach source disks")
	}
	cleanup.Push("detach source disks", func() error { return p.Inspector.Close(ctx) })

	insp, err := p.Inspector.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, kverrors.Wrap(kverrors.Cancelled, err, "inspect")
	}

	rootDevice, err := ResolveRoot(insp.Mountpoints, req.RootChoice, req.Ask)
	if err != nil {
		return nil, err
	}
	insp.RootDevice = rootDevice

	if err := p.Inspector.MountAll(ctx); err != nil {
		return nil, kverrors.Wrap(kverrors.InspectionFailed, err, "mount guest filesystems")
	}

	gc, err := p.convertGuest(ctx, insp, req.RequestedCaps, req.Policy)
	if err != nil {
		return nil, err
	}

	if req.NetworkMap != nil {
		req.NetworkMap.Apply(src.Nics)
	}

	switch req.Output.Kind {
	case OutputRhv, OutputRhvUpload, OutputVdsm:
		ResolveRhvUUIDs(&req.Output.Rhv, len(src.Disks))
	}

	diskPaths, diskSizes, err := p.copyDisks(ctx, src, req.Output, req.DstFormat, req.Progress, cleanup)
	if err != nil {
		return nil, err
	}

	result := &ConvertResult{VMName: src.Name, Caps: gc, DiskPaths: diskPaths}
	if err := p.writeOutput(ctx, src, gc, insp, req, diskPaths, diskSizes, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) convertGuest(ctx context.Context, insp *inspect.Inspect, requested caps.RequestedGuestCaps, policy ConversionPolicy) (caps.GuestCaps, error) {
	switch insp.Type {
	case inspect.GuestLinux:
		gc, err := p.Converter.ConvertLinux(ctx, insp, requested, policy)
		if err != nil {
			return caps.GuestCaps{}, err
		}
		return gc, nil
	case inspect.GuestWindows:
		gc, err := p.Converter.ConvertWindows(ctx, insp, requested, policy)
		if err != nil {
			return caps.GuestCaps{}, err
		}
		return gc, nil
	default:
		return caps.GuestCaps{}, kverrors.New(kverrors.UnsupportedSource, "guest type %q has no in-place converter", insp.Type)
	}
}

func (p *Pipeline) copyDisks(ctx context.Context, src *source.Source, out OutputSpec, dstFormat string, progress copier.ProgressFunc, cleanup *CleanupStack) ([]string, map[int]int64, error) {
	dstPaths := make([]string, len(src.Disks))
	tasks := make([]copier.Task, len(src.Disks))
	for i, d := range src.Disks {
		dst, err := dstDiskPath(out, src, d, i, dstFormat)
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, nil, kverrors.Wrap(kverrors.ExternalCommandFailed, err, "create output directory")
		}
		dstPaths[i] = dst
		tasks[i] = copier.Task{SrcURI: d.QEMUURI, DstURI: dst, DstFormat: dstFormat}
	}

	if err := p.Copier.Convert(ctx, tasks, progress); err != nil {
		return nil, nil, err
	}

	sizes := make(map[int]int64, len(src.Disks))
	for i, d := range src.Disks {
		info, err := os.Stat(dstPaths[i])
		if err != nil {
			return nil, nil, kverrors.Wrap(kverrors.ExternalCommandFailed, err, "stat converted disk %q", dstPaths[i])
		}
		sizes[d.ID] = info.Size()
	}
	return dstPaths, sizes, nil
}

// dstDiskPath computes the final on-disk path for one converted disk,
// keyed by the output transport. Kinds that hand off to a live service
// (Libvirt, Openstack, RhvUpload without direct=false) still need a
// local scratch copy to hand to that service, so every kind resolves
// to a concrete path.
func dstDiskPath(out OutputSpec, src *source.Source, d source.SourceDisk, index int, dstFormat string) (string, error) {
	name := diskFileName(src, d, index, dstFormat)
	switch out.Kind {
	case OutputLocal:
		return filepath.Join(out.LocalDir, name), nil
	case OutputJSON:
		return filepath.Join(out.JSONDir, name), nil
	case OutputRhv, OutputRhvUpload, OutputVdsm:
		return filepath.Join(out.Rhv.StorageDomainPath, "images", imageUUIDFor(out.Rhv, index), volUUIDFor(out.Rhv, index)), nil
	case OutputOpenstack:
		return filepath.Join(os.TempDir(), fmt.Sprintf("kvmigrate-%s-%s", src.Name, name)), nil
	case OutputLibvirt:
		return filepath.Join(os.TempDir(), fmt.Sprintf("kvmigrate-%s-%s", src.Name, name)), nil
	case OutputNull:
		return os.DevNull, nil
	default:
		return "", kverrors.New(kverrors.InvalidArgument, "unknown output_spec kind %q", out.Kind)
	}
}

func diskFileName(src *source.Source, d source.SourceDisk, index int, format string) string {
	if format == "" {
		format = "qcow2"
	}
	return fmt.Sprintf("%s-disk%d.%s", src.Name, index+1, format)
}

func imageUUIDFor(rhv RhvSpec, i int) string { return valueOr(rhv.ImageUUIDs, i) }
func volUUIDFor(rhv RhvSpec, i int) string   { return valueOr(rhv.VolUUIDs, i) }

func (p *Pipeline) writeOutput(ctx context.Context, src *source.Source, gc caps.GuestCaps, insp *inspect.Inspect, req ConvertRequest, diskPaths []string, diskSizes map[int]int64, result *ConvertResult) error {
	switch req.Output.Kind {
	case OutputNull:
		return nil

	case OutputLocal:
		return nil // disks already landed in Output.LocalDir

	case OutputJSON:
		doc := jsonwriter.Build(src, gc, insp)
		data, err := jsonwriter.Write(doc)
		if err != nil {
			return err
		}
		name := req.Output.JSONDisksPattern
		if name == "" {
			name = src.Name + ".json"
		}
		return os.WriteFile(filepath.Join(req.Output.JSONDir, name), data, 0o644)

	case OutputLibvirt:
		xml, err := libvirtxml.Write(src, gc)
		if err != nil {
			return err
		}
		if p.LibvirtDefiner == nil {
			result.DomainXML = xml
			p.Log.Warn("no live libvirt connection attached, domain XML produced but not defined")
			return nil
		}
		return p.LibvirtDefiner.Define(ctx, req.Output.LibvirtURI, xml)

	case OutputOpenstack:
		opts := openstack.Build(src, gc, insp)
		result.OpenstackOpts = &opts
		if p.OpenstackUploader == nil {
			p.Log.Warn("no openstack image client attached, CreateOpts produced but not uploaded")
			return nil
		}
		_, err := p.OpenstackUploader.Create(ctx, opts, diskPaths[0])
		return err

	case OutputRhv, OutputRhvUpload, OutputVdsm:
		return p.writeRhv(ctx, src, gc, req, diskPaths, diskSizes, result)

	default:
		return kverrors.New(kverrors.InvalidArgument, "unknown output_spec kind %q", req.Output.Kind)
	}
}

func (p *Pipeline) writeRhv(ctx context.Context, src *source.Source, gc caps.GuestCaps, req ConvertRequest, diskPaths []string, diskSizes map[int]int64, result *ConvertResult) error {
	rhv := req.Output.Rhv
	ResolveRhvUUIDs(&rhv, len(src.Disks))

	flavour := ovf.OVirt
	if req.Output.Kind == OutputVdsm {
		flavour = ovf.RHVExportStorageDomain
	}

	imageUUIDs := make(map[int]string, len(src.Disks))
	for i, d := range src.Disks {
		imageUUIDs[d.ID] = valueOr(rhv.ImageUUIDs, i)
	}

	ovfBytes, err := ovf.Write(flavour, src, gc, diskSizes, imageUUIDs)
	if err != nil {
		return err
	}
	ovfPath := filepath.Join(rhv.StorageDomainPath, "master", "vms", rhv.VMUUID, rhv.VMUUID+".ovf")
	if err := os.MkdirAll(filepath.Dir(ovfPath), 0o755); err != nil {
		return kverrors.Wrap(kverrors.ExternalCommandFailed, err, "create OVF directory")
	}
	if err := os.WriteFile(ovfPath, ovfBytes, 0o644); err != nil {
		return kverrors.Wrap(kverrors.ExternalCommandFailed, err, "write OVF descriptor")
	}

	records := BuildRhvMetaRecords(src, diskSizes, rhv, req.Description, time.Now().Unix())
	result.RhvMeta = records
	for i, rec := range records {
		metaPath := diskPaths[i] + ".meta"
		f, err := os.Create(metaPath)
		if err != nil {
			return kverrors.Wrap(kverrors.ExternalCommandFailed, err, "create %q", metaPath)
		}
		err = WriteRhvMeta(f, rec)
		f.Close()
		if err != nil {
			return kverrors.Wrap(kverrors.ExternalCommandFailed, err, "write %q", metaPath)
		}
	}

	if req.Output.Kind == OutputRhvUpload && p.RhvUploader != nil {
		for _, d := range diskPaths {
			if err := p.RhvUploader.Upload(ctx, req.Output.RhvUpload, d); err != nil {
				return err
			}
		}
	} else if req.Output.Kind == OutputRhvUpload {
		p.Log.Warn("no rhv-upload client attached, OVF/.meta artifacts left on local disk")
	}
	return nil
}
