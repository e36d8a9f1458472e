// SPDX-License-Identifier: LGPL-3.0-or-later

// Command kvmigrate converts one powered-off guest from a source
// hypervisor format into a KVM-bootable disk and target description,
// per spec.md: parse source → attach/inspect/mount → convert in place
// → negotiate capabilities → remap networks → copy disks → write target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pterm/pterm"

	kverrors "kvmigrate/internal/errors"
	"kvmigrate/config"
	"kvmigrate/logger"
	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/copier"
	"kvmigrate/pkg/inspect"
	"kvmigrate/pkg/netmap"
	"kvmigrate/pkg/pipeline"
	"kvmigrate/progress"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("kvmigrate", flag.ContinueOnError)

	var (
		libvirtXML   = fs.String("i-libvirtxml", "", "read source domain from this libvirt XML file")
		ovaPath      = fs.String("i-ova", "", "read source from this OVA file")
		vmxPath      = fs.String("i-vmx", "", "read source from this VMX file")
		diskPath     = fs.String("i-disk", "", "convert this single disk image with no source metadata")
		diskFormat   = fs.String("i-disk-format", "", "format of -i-disk; left empty, it is detected from the file extension and magic bytes")
		dstFormat    = fs.String("of", "qcow2", "output disk format (qcow2, raw)")
		outputKind   = fs.String("o", "local", "output transport: local, json, rhv, rhv-upload, openstack, libvirt, vdsm, null")
		outputDir    = fs.String("os", "", "output directory (local/json transports) or RHV storage domain path (rhv/rhv-upload/vdsm)")
		rootChoice   = fs.String("root", "first", `boot root to convert when more than one is found: "ask", "first", or a /dev path`)
		configPath   = fs.String("config", "", "path to a kvmigrate YAML config file")
		showVersion  = fs.Bool("version", false, "print version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return kverrors.ExitCode(kverrors.New(kverrors.InvalidArgument, "%v", err))
	}
	if *showVersion {
		fmt.Println("kvmigrate " + version)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		pterm.Error.Println(err)
		return kverrors.ExitCode(err)
	}

	log := logger.NewWithConfig(logger.Config{Level: cfg.LogLevel, Format: "text", Output: os.Stderr})

	src, err := sourceSpecFromFlags(*libvirtXML, *ovaPath, *vmxPath, *diskPath, *diskFormat)
	if err != nil {
		pterm.Error.Println(err)
		return kverrors.ExitCode(err)
	}

	out, err := outputSpecFromFlags(*outputKind, *outputDir)
	if err != nil {
		pterm.Error.Println(err)
		return kverrors.ExitCode(err)
	}

	rc, err := rootChoiceFromFlag(*rootChoice)
	if err != nil {
		pterm.Error.Println(err)
		return kverrors.ExitCode(err)
	}

	// FsInspector and GuestConverter wrap an external guest-inspection
	// tool (spec.md §3/§6); this core defines their contract but ships
	// no concrete backend (see DESIGN.md), so a production build links
	// one in here. Without it there is nothing this binary can safely do.
	inspector, converter := concreteBackends(log)
	if inspector == nil || converter == nil {
		err := kverrors.New(kverrors.DependencyMissing, "no FsInspector/GuestConverter backend linked into this binary")
		pterm.Error.Println(err)
		return kverrors.ExitCode(err)
	}

	p := pipeline.New(log, inspector, converter, copier.NewQemuImg(log))

	req := pipeline.ConvertRequest{
		Source:        src,
		RequestedCaps: caps.RequestedGuestCaps{},
		NetworkMap:    netmap.New(),
		Output:        out,
		RootChoice:    rc,
		Ask:           askOnStdin,
		Policy: pipeline.ConversionPolicy{
			KeepSerialConsole: cfg.Conversion.KeepSerialConsole,
			VirtioWinPath:     cfg.Conversion.VirtioWinPath,
		},
		DstFormat: *dstFormat,
		Progress:  newDiskProgress(cfg),
	}

	pterm.DefaultBasicText.Println("kvmigrate " + version)
	result, err := p.Convert(context.Background(), req)
	if err != nil {
		pterm.Error.Println(err)
		return kverrors.ExitCode(err)
	}

	pterm.Success.Printf("converted %q: %d disk(s) written\n", result.VMName, len(result.DiskPaths))
	for i, d := range result.DiskPaths {
		pterm.Info.Printf("  disk %d: %s\n", i+1, d)
	}
	return 0
}

// concreteBackends returns the FsInspector/GuestConverter backend this
// binary links against. Neither has a pure-Go implementation in this
// core (spec.md §3's FsInspector and pkg/pipeline's GuestConverter are
// both defined as external collaborators only), so this is the one
// seam a downstream build replaces with a real one.
func concreteBackends(log logger.Logger) (inspect.FsInspector, pipeline.GuestConverter) {
	return nil, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnvironment(), nil
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.InvalidArgument, err, "load config %q", path)
	}
	return cfg, nil
}

func sourceSpecFromFlags(libvirtXML, ova, vmx, disk, diskFormat string) (pipeline.SourceSpec, error) {
	set := 0
	for _, v := range []string{libvirtXML, ova, vmx, disk} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return pipeline.SourceSpec{}, kverrors.New(kverrors.InvalidArgument, "one of -i-libvirtxml, -i-ova, -i-vmx, -i-disk is required")
	case set > 1:
		return pipeline.SourceSpec{}, kverrors.New(kverrors.InvalidArgument, "only one source may be given")
	case libvirtXML != "":
		return pipeline.SourceSpec{Kind: pipeline.SourceLibvirtXml, Path: libvirtXML}, nil
	case ova != "":
		return pipeline.SourceSpec{Kind: pipeline.SourceOva, Path: ova}, nil
	case vmx != "":
		return pipeline.SourceSpec{Kind: pipeline.SourceVmx, Path: vmx}, nil
	default:
		return pipeline.SourceSpec{Kind: pipeline.SourceDisk, Path: disk, DiskFormat: diskFormat}, nil
	}
}

func outputSpecFromFlags(kind, dir string) (pipeline.OutputSpec, error) {
	switch kind {
	case "local":
		if dir == "" {
			return pipeline.OutputSpec{}, kverrors.New(kverrors.InvalidArgument, "-os is required for -o local")
		}
		return pipeline.OutputSpec{Kind: pipeline.OutputLocal, LocalDir: dir}, nil
	case "json":
		if dir == "" {
			return pipeline.OutputSpec{}, kverrors.New(kverrors.InvalidArgument, "-os is required for -o json")
		}
		return pipeline.OutputSpec{Kind: pipeline.OutputJSON, JSONDir: dir}, nil
	case "rhv":
		if dir == "" {
			return pipeline.OutputSpec{}, kverrors.New(kverrors.InvalidArgument, "-os is required for -o rhv (storage domain path)")
		}
		return pipeline.OutputSpec{Kind: pipeline.OutputRhv, Rhv: pipeline.RhvSpec{StorageDomainPath: dir}}, nil
	case "rhv-upload":
		return pipeline.OutputSpec{Kind: pipeline.OutputRhvUpload}, nil
	case "vdsm":
		return pipeline.OutputSpec{Kind: pipeline.OutputVdsm, Rhv: pipeline.RhvSpec{StorageDomainPath: dir}}, nil
	case "openstack":
		return pipeline.OutputSpec{Kind: pipeline.OutputOpenstack}, nil
	case "libvirt":
		return pipeline.OutputSpec{Kind: pipeline.OutputLibvirt}, nil
	case "null":
		return pipeline.OutputSpec{Kind: pipeline.OutputNull}, nil
	default:
		return pipeline.OutputSpec{}, kverrors.New(kverrors.InvalidArgument, "unknown -o value %q", kind)
	}
}

func rootChoiceFromFlag(v string) (pipeline.RootChoice, error) {
	switch v {
	case "ask":
		return pipeline.RootChoice{Kind: pipeline.RootAsk}, nil
	case "first":
		return pipeline.RootChoice{Kind: pipeline.RootFirst}, nil
	case "single":
		return pipeline.RootChoice{Kind: pipeline.RootSingle}, nil
	case "":
		return pipeline.RootChoice{}, kverrors.New(kverrors.InvalidArgument, "-root is required")
	default:
		return pipeline.RootChoice{Kind: pipeline.RootDev, Dev: v}, nil
	}
}

func askOnStdin(roots []string) (string, error) {
	pterm.Warning.Println("multiple boot roots found:")
	for i, r := range roots {
		pterm.Printf("  [%d] %s\n", i+1, r)
	}
	var choice int
	_, err := fmt.Scanln(&choice)
	if err != nil || choice < 1 || choice > len(roots) {
		return "", kverrors.New(kverrors.InvalidArgument, "invalid root selection")
	}
	return roots[choice-1], nil
}

// newDiskProgress returns a copier.ProgressFunc backed by a
// progressbar.ProgressBar per disk, created lazily on that disk's
// first callback. The copier runs disk-copy tasks one at a time, so
// no synchronization is needed between bars. cfg.ProgressStyle ==
// "quiet" suppresses rendering entirely (a nil ProgressFunc, which
// copier.Convert already treats as a no-op); cfg.RefreshRate and
// cfg.ShowETA otherwise tune the bar.
func newDiskProgress(cfg *config.Config) func(taskIndex, percent int) {
	if cfg.ProgressStyle == "quiet" {
		return nil
	}
	bars := make(map[int]*progress.BarProgress)
	return func(taskIndex, percent int) {
		bar, ok := bars[taskIndex]
		if !ok {
			bar = progress.NewDiskCopyProgress(os.Stderr, taskIndex, cfg.RefreshRate, cfg.ShowETA)
			bar.Start(100, fmt.Sprintf("disk %d", taskIndex+1))
			bars[taskIndex] = bar
		}
		bar.Update(int64(percent))
		if percent >= 100 {
			bar.Finish()
		}
	}
}
