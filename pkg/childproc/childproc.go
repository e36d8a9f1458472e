// SPDX-License-Identifier: LGPL-3.0-or-later

// Package childproc wraps the external-tool invocation contract of
// spec.md §5.2/§5.3: every helper (tar, unzip, pigz/xz, curl, nbdkit,
// grub-mkconfig, rpm/dpkg) runs synchronously with stdout/stderr
// captured, a non-zero exit is fatal unless explicitly marked
// ignorable, and a command tagged Retryable gets exactly one retry
// before it is fatal (the TransientCommand kind of §7).
//
// Output capture follows the teacher's own providers/common/pipeline.go
// (stdout/stderr pipes drained by streamOutput), simplified to a
// synchronous two-buffer capture since the core never needs to stream
// a long-running helper's output incrementally.
package childproc

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"

	kverrors "kvmigrate/internal/errors"
	"kvmigrate/logger"
)

// Spec describes one external command invocation.
type Spec struct {
	Name      string   // executable name or path, looked up on PATH if bare
	Args      []string
	Dir       string // working directory, "" means inherit
	Retryable bool   // one retry on failure before becoming fatal (TransientCommand)
	Ignorable bool   // non-zero exit is logged as a warning, not fatal
}

// Result is the captured outcome of one invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes spec synchronously, capturing stdout/stderr. A missing
// executable surfaces as DependencyMissing; a non-zero exit (when not
// Ignorable) surfaces as ExternalCommandFailed with the stderr tail
// attached; Retryable specs get one retry first, surfacing
// TransientCommand only if the retry also fails.
func Run(ctx context.Context, log logger.Logger, spec Spec) (*Result, error) {
	if _, err := exec.LookPath(spec.Name); err != nil {
		return nil, kverrors.Wrap(kverrors.DependencyMissing, err, "required tool %q not found on PATH", spec.Name).
			WithField("tool", spec.Name)
	}

	res, err := run(ctx, spec)
	if err == nil {
		return res, nil
	}

	if spec.Ignorable {
		log.Warn("command failed, ignored", "tool", spec.Name, "args", spec.Args, "error", err)
		return res, nil
	}

	if spec.Retryable {
		log.Warn("command failed, retrying once", "tool", spec.Name, "args", spec.Args, "error", err)
		res2, err2 := run(ctx, spec)
		if err2 == nil {
			return res2, nil
		}
		return res2, kverrors.Wrap(kverrors.TransientCommand, err2, "%s failed after one retry", spec.Name).
			WithField("tool", spec.Name).WithField("stderr_tail", tail(res2.Stderr))
	}

	return res, kverrors.Wrap(kverrors.ExternalCommandFailed, err, "%s failed", spec.Name).
		WithField("tool", spec.Name).WithField("stderr_tail", tail(res.Stderr))
}

func run(ctx context.Context, spec Spec) (*Result, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	} else if err == nil {
		res.ExitCode = 0
	}
	return res, err
}

// tail returns at most the last 4096 bytes of s, the stderr snippet
// attached to an ExternalCommandFailed error.
func tail(s string) string {
	const max = 4096
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

// RunAsUser executes spec with the child process's effective uid/gid
// switched to uid/gid before exec, for writing files on root-squashed
// NFS (spec.md §5.3, -o rhv). This is the setuid-child design note
// realized the idiomatic Go way: os/exec already forks and execs a
// fresh process image, and SysProcAttr.Credential performs
// setgid/setuid in that child before the target binary runs, so the
// parent's global teardown (deferred cleanups, signal handlers) never
// runs in the child at all — satisfying "bypass the parent's
// process-wide teardown hooks" without an unsafe raw fork() inside the
// Go runtime.
func RunAsUser(ctx context.Context, uid, gid uint32, spec Spec) (*Result, error) {
	if _, err := exec.LookPath(spec.Name); err != nil {
		return nil, kverrors.Wrap(kverrors.DependencyMissing, err, "required tool %q not found on PATH", spec.Name).
			WithField("tool", spec.Name)
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uid, Gid: gid},
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		return res, kverrors.Wrap(kverrors.ExternalCommandFailed, err, "%s failed running as uid=%d gid=%d", spec.Name, uid, gid).
			WithField("tool", spec.Name).WithField("stderr_tail", tail(res.Stderr))
	}
	return res, nil
}
