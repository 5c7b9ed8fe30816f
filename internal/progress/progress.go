package progress

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gosuri/uilive"
	"github.com/paulbellamy/ratecounter"
	"golang.org/x/term"
)

const barWidth = 40

// IsTerminal reports whether f is attached to a terminal. The live bar is
// only worth drawing there.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Bar is a live request counter: done/total, percentage, and current rate.
// It is safe to call Increment from many goroutines.
type Bar struct {
	total int64
	done  atomic.Int64
	rate  *ratecounter.RateCounter
	start time.Time
	now   func() time.Time

	live     *uilive.Writer
	interval time.Duration
	buffer   *bytes.Buffer
	close    chan struct{}
	wg       sync.WaitGroup
}

// New creates a bar for total units that redraws to w every interval.
func New(total int, w io.Writer, interval time.Duration) *Bar {
	live := uilive.New()
	live.Out = w
	return &Bar{
		total:    int64(total),
		rate:     ratecounter.NewRateCounter(time.Second),
		now:      time.Now,
		live:     live,
		interval: interval,
		buffer:   bytes.NewBuffer(nil),
		close:    make(chan struct{}),
	}
}

// Increment marks one unit finished.
func (b *Bar) Increment() {
	b.done.Add(1)
	b.rate.Incr(1)
}

// Done returns the number of finished units.
func (b *Bar) Done() int64 {
	return b.done.Load()
}

// Start begins redrawing in the background until Stop.
func (b *Bar) Start() {
	b.start = b.now()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			b.update()
			select {
			case <-b.close:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop draws the final state and stops the redraw loop.
func (b *Bar) Stop() {
	close(b.close)
	b.wg.Wait()
	b.update()
}

func (b *Bar) update() {
	b.buffer.Reset()
	b.Display(b.buffer)
	// ignore write errors, the bar is cosmetic
	_, _ = io.Copy(b.live, b.buffer)
	_ = b.live.Flush()
}

// Display renders the current state as one line.
func (b *Bar) Display(w io.Writer) {
	done := b.done.Load()
	frac := 1.0
	if b.total > 0 {
		frac = float64(done) / float64(b.total)
	}
	if frac > 1 {
		frac = 1
	}

	filled := int(frac * barWidth)
	bar := strings.Repeat("=", filled)
	if filled < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-filled-1)
	}

	elapsed := time.Duration(0)
	if !b.start.IsZero() {
		elapsed = b.now().Sub(b.start).Round(time.Second)
	}
	fmt.Fprintf(w, "[%s] %d/%d (%.1f%%) %d req/s %s\n", bar, done, b.total, frac*100, b.rate.Rate(), elapsed)
}
