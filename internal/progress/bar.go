package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const barWidth = 40

// Bar renders a single-line terminal progress bar. Downloads take tens of
// seconds each, so redraws are throttled rather than per-tick.
type Bar struct {
	total   int
	current int
	mu      sync.Mutex
	started time.Time
	redrawn time.Time
	done    bool
}

// New creates a bar for a batch of the given size.
func New(total int) *Bar {
	now := time.Now()
	return &Bar{total: total, started: now, redrawn: now}
}

// Increment records one completed item and redraws at most twice a second.
func (b *Bar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++

	now := time.Now()
	if now.Sub(b.redrawn) > 500*time.Millisecond || b.current >= b.total {
		b.render()
		b.redrawn = now
	}
}

// Finish fills the bar and releases the terminal line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return
	}
	b.current = b.total
	b.render()
	fmt.Println()
	b.done = true
}

func (b *Bar) render() {
	if b.done || b.total == 0 {
		return
	}

	elapsed := time.Since(b.started)

	var eta time.Duration
	if b.current > 0 {
		perItem := elapsed / time.Duration(b.current)
		eta = perItem * time.Duration(b.total-b.current)
	}

	filled := barWidth * b.current / b.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Printf("\r[%s] %d/%d (%.1f%%) - Elapsed: %s - ETA: %s   ",
		bar,
		b.current,
		b.total,
		float64(b.current)/float64(b.total)*100,
		formatDuration(elapsed),
		formatDuration(eta),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
