package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// RunDisplay prints a single status line tracking a whole catalog run and
// the closing summary. It is safe for use from several workers.
type RunDisplay struct {
	mu         sync.Mutex
	out        io.Writer
	title      string
	total      int
	downloaded int
	skipped    int
	failed     int
	bytes      int64
	startTime  time.Time
	live       bool
}

// NewRunDisplay creates a display for a run over total videos. When live is
// false only the summary is printed.
func NewRunDisplay(out io.Writer, title string, total int, live bool) *RunDisplay {
	return &RunDisplay{
		out:       out,
		title:     title,
		total:     total,
		startTime: time.Now(),
		live:      live,
	}
}

// CompleteDownload records a finished transfer
func (p *RunDisplay) CompleteDownload(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloaded++
	p.bytes += size
	p.printProgress()
}

// SkipDownload records a file that already existed
func (p *RunDisplay) SkipDownload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipped++
	p.printProgress()
}

// FailDownload records a failed item
func (p *RunDisplay) FailDownload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	p.printProgress()
}

func (p *RunDisplay) printProgress() {
	if !p.live {
		return
	}

	done := p.downloaded + p.skipped + p.failed
	const barWidth = 20
	filled := 0
	if p.total > 0 {
		filled = done * barWidth / p.total
		if filled > barWidth {
			filled = barWidth
		}
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d • %s", Cyan(p.title), bar, done, p.total, MustFormatSize(p.bytes))
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", p.failed))
	}
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 100), line)
}

// Complete prints the closing summary
func (p *RunDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintf(p.out, "%s %s: %d downloaded, %d skipped (%s in %s)\n",
		Green("✓"),
		p.title,
		p.downloaded,
		p.skipped,
		MustFormatSize(p.bytes),
		formatDuration(time.Since(p.startTime)),
	)
	if p.failed > 0 {
		fmt.Fprintf(p.out, "  %s %d items failed\n", Red("•"), p.failed)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
