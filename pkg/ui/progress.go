package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Progress receives the bytes of one transfer as they are written
type Progress interface {
	io.Writer
	Finish() error
}

// ProgressFactory starts a progress reporter for a transfer of total bytes.
// A negative total means the size is unknown.
type ProgressFactory func(total int64, description string) Progress

// BarProgress draws byte progress bars on out. With an unknown total a bar
// degrades to a running byte counter.
func BarProgress(out io.Writer) ProgressFactory {
	return func(total int64, description string) Progress {
		return progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(out, "\n") }),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
}

// NopProgress reports nothing. Concurrent downloads use it because several
// bars on one terminal would garble each other.
func NopProgress(int64, string) Progress {
	return nopProgress{}
}

type nopProgress struct{}

func (nopProgress) Write(p []byte) (int, error) { return len(p), nil }
func (nopProgress) Finish() error               { return nil }
