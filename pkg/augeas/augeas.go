// SPDX-License-Identifier: LGPL-3.0-or-later

// Package augeas provides the small config-file edit capability the
// Linux converter uses to rewrite console arguments and device names
// in bootloader configs and /etc/fstab (spec.md §4.6). No pack repo
// touches Augeas or a config-file AST; this is a line-oriented, regex
// based stand-in, grounded on the teacher's own line-oriented
// config/config.go parsing style, with a matching pattern-based
// interface ("augeas_patterns()") so the Bootloader abstraction in
// pkg/convert/linux can stay decoupled from any one edit backend.
package augeas

import (
	"bufio"
	"regexp"
	"strings"
)

// Pattern names one kind of line-level edit a Bootloader variant wants
// applied to a config file: a regex capturing the value to replace,
// plus the replacement template ("$1" refers to capture group 1).
type Pattern struct {
	Path        string // config file path, relative to guest root
	Match       *regexp.Regexp
	Replacement string
}

// Editor applies a set of Patterns to in-memory config text.
type Editor struct {
	patterns []Pattern
}

// New returns an Editor that will apply patterns, in order, to any text
// handed to Apply.
func New(patterns []Pattern) *Editor {
	return &Editor{patterns: patterns}
}

// Apply rewrites every line of content matching a pattern whose Path
// equals path, returning the rewritten text and the count of lines
// changed.
func (e *Editor) Apply(path string, content string) (string, int) {
	var patterns []Pattern
	for _, p := range e.patterns {
		if p.Path == path {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return content, 0
	}

	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	changed := 0
	first := true
	for scanner.Scan() {
		if !first {
			out.WriteByte('\n')
		}
		first = false
		line := scanner.Text()
		for _, p := range patterns {
			if p.Match.MatchString(line) {
				rewritten := p.Match.ReplaceAllString(line, p.Replacement)
				if rewritten != line {
					changed++
				}
				line = rewritten
			}
		}
		out.WriteString(line)
	}
	return out.String(), changed
}

// ConsolePattern matches a kernel-argument `console=xvc0` or
// `console=hvc0` token so it can be rewritten to `console=ttyS0` or
// removed, per spec.md §4.6.
func ConsolePattern(path string) Pattern {
	return Pattern{
		Path:        path,
		Match:       regexp.MustCompile(`console=(xvc0|hvc0)`),
		Replacement: "console=ttyS0",
	}
}

// RemoveConsolePattern strips a console=xvc0|hvc0 token entirely
// (the "remove" half of configure_console/remove_console, controlled
// by the keep_serial_console policy).
func RemoveConsolePattern(path string) Pattern {
	return Pattern{
		Path:        path,
		Match:       regexp.MustCompile(`\s*console=(xvc0|hvc0)\b`),
		Replacement: "",
	}
}

// DeviceNamePattern rewrites /dev/hdX or /dev/sdX to /dev/vdX (keeping
// the trailing partition digits), for the IDE/SCSI → virtio migration.
// UUID= and LABEL= entries never match this pattern and are left
// untouched, per spec.md §4.6.
func DeviceNamePattern(path string) Pattern {
	return Pattern{
		Path:        path,
		Match:       regexp.MustCompile(`/dev/(?:hd|sd)([a-z][0-9]*)`),
		Replacement: "/dev/vd$1",
	}
}
