// SPDX-License-Identifier: LGPL-3.0-or-later

// Package progress renders per-disk copy progress on top of the
// copier's (taskIndex, percent) callback (spec.md §5.1, §6).
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

type ProgressReporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Close() error
}

type BarProgress struct {
	bar *progressbar.ProgressBar
}

func NewBarProgress(writer io.Writer, options ...progressbar.Option) *BarProgress {
	defaultOptions := []progressbar.Option{
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(65 * time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(writer, "\n")
		}),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	}

	allOptions := append(defaultOptions, options...)

	return &BarProgress{
		bar: progressbar.NewOptions64(0, allOptions...),
	}
}

func (b *BarProgress) Start(total int64, description string) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.ChangeMax64(total)
	b.bar.Describe(description)
	b.bar.Reset()
}

func (b *BarProgress) Update(current int64) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Set64(current)
}

func (b *BarProgress) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}

func (b *BarProgress) Close() error {
	if b == nil || b.bar == nil {
		return nil
	}
	return b.bar.Close()
}

// NewDiskCopyProgress creates a percent-scale bar (0-100) for one
// disk-copy task, matching copier.ProgressFunc's (taskIndex, percent)
// reporting granularity. refreshRate throttles redraws and showETA
// toggles the predicted-time-remaining display, both sourced from
// config.Config so an operator can tune or silence the renderer.
func NewDiskCopyProgress(writer io.Writer, diskIndex int, refreshRate time.Duration, showETA bool) *BarProgress {
	return NewBarProgress(writer,
		progressbar.OptionSetDescription(fmt.Sprintf("disk %d", diskIndex+1)),
		progressbar.OptionSetItsString("%"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(refreshRate),
		progressbar.OptionSetPredictTime(showETA),
	)
}
