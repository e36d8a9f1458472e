// SPDX-License-Identifier: LGPL-3.0-or-later

// Package pipeline implements the top-level, single-threaded,
// synchronous orchestration of spec.md §5: parse → inspect → convert →
// negotiate caps → map networks → copy disks → write targets, with a
// LIFO cleanup stack covering every scoped resource (temp directories,
// mounted filesystems, opened hives, launched nbdkit processes) and a
// SIGINT handler that cancels the in-flight stage and unwinds that
// stack before exit.
package pipeline

import (
	"sync"

	"kvmigrate/logger"
)

// releaseFunc is one scoped-resource teardown step.
type releaseFunc struct {
	name string
	fn   func() error
}

// CleanupStack is the LIFO stack of spec.md §5 "Scoped resources":
// every created temp directory, mounted filesystem, opened hive, and
// launched nbdkit process registers a release step here, and Unwind
// runs them last-registered-first on every exit path — success, error,
// or signal.
type CleanupStack struct {
	mu    sync.Mutex
	steps []releaseFunc
	log   logger.Logger
}

// NewCleanupStack returns an empty stack that logs each release step
// through log.
func NewCleanupStack(log logger.Logger) *CleanupStack {
	return &CleanupStack{log: log}
}

// Push registers a release step. name is used only for logging.
func (c *CleanupStack) Push(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, releaseFunc{name: name, fn: fn})
}

// Unwind runs every registered release step in LIFO order, regardless
// of whether earlier steps fail, and returns every error encountered
// (nil entries are omitted). Safe to call more than once; a second
// call is a no-op.
func (c *CleanupStack) Unwind() []error {
	c.mu.Lock()
	steps := c.steps
	c.steps = nil
	c.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.fn(); err != nil {
			c.log.Warn("cleanup step failed", "resource", s.name, "error", err)
			errs = append(errs, err)
		} else {
			c.log.Debug("cleanup step released", "resource", s.name)
		}
	}
	return errs
}

// Len reports how many release steps are currently registered, for
// tests asserting a cleanup step was pushed or popped.
func (c *CleanupStack) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}
