// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvmigrate/logger"
	"kvmigrate/pkg/caps"
	"kvmigrate/pkg/copier"
	"kvmigrate/pkg/inspect"
)

type fakeInspector struct {
	insp    *inspect.Inspect
	attach  []string
	closed  bool
	mounted bool
}

func (f *fakeInspector) AttachDisks(ctx context.Context, qemuURIs []string) error {
	f.attach = qemuURIs
	return nil
}

func (f *fakeInspector) Inspect(ctx context.Context) (*inspect.Inspect, error) {
	return f.insp, nil
}

func (f *fakeInspector) MountAll(ctx context.Context) error {
	f.mounted = true
	return nil
}

func (f *fakeInspector) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type fakeConverter struct {
	linuxCalls, windowsCalls int
}

func (f *fakeConverter) ConvertLinux(ctx context.Context, insp *inspect.Inspect, requested caps.RequestedGuestCaps, policy ConversionPolicy) (caps.GuestCaps, error) {
	f.linuxCalls++
	return caps.GuestCaps{BlockBus: caps.BlockVirtioBlk, NetBus: caps.NetVirtio, Machine: caps.MachineQ35, Arch: insp.Arch}, nil
}

func (f *fakeConverter) ConvertWindows(ctx context.Context, insp *inspect.Inspect, requested caps.RequestedGuestCaps, policy ConversionPolicy) (caps.GuestCaps, error) {
	f.windowsCalls++
	return caps.GuestCaps{BlockBus: caps.BlockVirtioSCSI, NetBus: caps.NetVirtio, Machine: caps.MachineI440FX, Arch: insp.Arch}, nil
}

type fakeCopier struct {
	tasks []copier.Task
}

func (f *fakeCopier) Convert(ctx context.Context, tasks []copier.Task, progress copier.ProgressFunc) error {
	f.tasks = tasks
	for i, t := range tasks {
		if err := os.WriteFile(t.DstURI, []byte("converted"), 0o644); err != nil {
			return err
		}
		if progress != nil {
			progress(i, 100)
		}
	}
	return nil
}

func newTestSourceDisk(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "src.qcow2")
	require.NoError(t, os.WriteFile(path, []byte("source disk"), 0o644))
	return path
}

func TestConvertEndToEndLocalOutput(t *testing.T) {
	diskPath := newTestSourceDisk(t)
	outDir := t.TempDir()

	insp := &fakeInspector{insp: &inspect.Inspect{
		Type:        inspect.GuestLinux,
		Arch:        "x86_64",
		Mountpoints: []string{"/dev/sda1"},
	}}
	conv := &fakeConverter{}
	cop := &fakeCopier{}

	p := New(logger.NewTestLogger(t), insp, conv, cop)

	req := ConvertRequest{
		Source:     SourceSpec{Kind: SourceDisk, Path: diskPath, DiskFormat: "qcow2"},
		RootChoice: RootChoice{Kind: RootFirst},
		Output:     OutputSpec{Kind: OutputLocal, LocalDir: outDir},
		DstFormat:  "qcow2",
	}

	result, err := p.Convert(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.DiskPaths, 1)
	assert.FileExists(t, result.DiskPaths[0])
	assert.Equal(t, 1, conv.linuxCalls)
	assert.Equal(t, 0, conv.windowsCalls)
	assert.True(t, insp.mounted)
	assert.True(t, insp.closed)
	assert.Equal(t, caps.BlockVirtioBlk, result.Caps.BlockBus)
}

func TestConvertWindowsGuestDispatchesToConvertWindows(t *testing.T) {
	diskPath := newTestSourceDisk(t)
	outDir := t.TempDir()

	insp := &fakeInspector{insp: &inspect.Inspect{
		Type:        inspect.GuestWindows,
		Arch:        "x86_64",
		Mountpoints: []string{"/dev/sda2"},
	}}
	conv := &fakeConverter{}
	cop := &fakeCopier{}
	p := New(logger.NewTestLogger(t), insp, conv, cop)

	req := ConvertRequest{
		Source:     SourceSpec{Kind: SourceDisk, Path: diskPath, DiskFormat: "qcow2"},
		RootChoice: RootChoice{Kind: RootFirst},
		Output:     OutputSpec{Kind: OutputLocal, LocalDir: outDir},
		DstFormat:  "qcow2",
	}

	_, err := p.Convert(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.windowsCalls)
	assert.Equal(t, 0, conv.linuxCalls)
}

func TestConvertRhvOutputWritesOvfAndMeta(t *testing.T) {
	diskPath := newTestSourceDisk(t)
	domainDir := t.TempDir()

	insp := &fakeInspector{insp: &inspect.Inspect{
		Type:        inspect.GuestLinux,
		Arch:        "x86_64",
		Mountpoints: []string{"/dev/sda1"},
	}}
	conv := &fakeConverter{}
	cop := &fakeCopier{}
	p := New(logger.NewTestLogger(t), insp, conv, cop)

	req := ConvertRequest{
		Source:     SourceSpec{Kind: SourceDisk, Path: diskPath, DiskFormat: "raw"},
		RootChoice: RootChoice{Kind: RootFirst},
		Output:     OutputSpec{Kind: OutputRhv, Rhv: RhvSpec{StorageDomainPath: domainDir}},
		DstFormat:  "raw",
	}

	result, err := p.Convert(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.DiskPaths, 1)
	assert.FileExists(t, result.DiskPaths[0])
	assert.FileExists(t, result.DiskPaths[0]+".meta")
	require.Len(t, result.RhvMeta, 1)
	assert.Equal(t, 1, result.RhvMeta[0].DiskType)
}

func TestConvertRootChoiceAskIsConsulted(t *testing.T) {
	diskPath := newTestSourceDisk(t)
	outDir := t.TempDir()

	insp := &fakeInspector{insp: &inspect.Inspect{
		Type:        inspect.GuestLinux,
		Arch:        "x86_64",
		Mountpoints: []string{"/dev/sda1"},
	}}
	conv := &fakeConverter{}
	cop := &fakeCopier{}
	p := New(logger.NewTestLogger(t), insp, conv, cop)

	asked := false
	req := ConvertRequest{
		Source:     SourceSpec{Kind: SourceDisk, Path: diskPath, DiskFormat: "qcow2"},
		RootChoice: RootChoice{Kind: RootAsk},
		Ask: func(roots []string) (string, error) {
			asked = true
			return roots[0], nil
		},
		Output:    OutputSpec{Kind: OutputLocal, LocalDir: outDir},
		DstFormat: "qcow2",
	}

	_, err := p.Convert(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, asked)
}

func TestConvertUnsupportedGuestTypeErrors(t *testing.T) {
	diskPath := newTestSourceDisk(t)
	outDir := t.TempDir()

	insp := &fakeInspector{insp: &inspect.Inspect{
		Type:        inspect.GuestOther,
		Mountpoints: []string{"/dev/sda1"},
	}}
	conv := &fakeConverter{}
	cop := &fakeCopier{}
	p := New(logger.NewTestLogger(t), insp, conv, cop)

	req := ConvertRequest{
		Source:     SourceSpec{Kind: SourceDisk, Path: diskPath, DiskFormat: "qcow2"},
		RootChoice: RootChoice{Kind: RootFirst},
		Output:     OutputSpec{Kind: OutputLocal, LocalDir: outDir},
	}

	_, err := p.Convert(context.Background(), req)
	require.Error(t, err)
}
