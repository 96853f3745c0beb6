// Package progress reports counter-based progress for long-running scans
// and replays, rendering a live-updating line on a terminal and periodic
// log lines otherwise.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Bar tracks progress against an expected total and periodically reports
// it, either as an in-place terminal line or as log lines.
type Bar struct {
	label     string
	total     int64
	current   int64
	isTTY     bool
	out       io.Writer
	log       *logrus.Entry
	lastLog   time.Time
	logEvery  time.Duration
	startedAt time.Time
}

// New creates a Bar that reports progress toward total units of work
// (files, rows, pool entries). total may be zero when the expected size
// is unknown; elapsed-only reporting is used in that case. out is
// typically os.Stdout; logger receives periodic summaries when out is
// not a terminal.
func New(label string, total int64, out *os.File, logger *logrus.Logger) *Bar {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bar{
		label:     label,
		total:     total,
		isTTY:     out != nil && isatty.IsTerminal(out.Fd()),
		out:       out,
		log:       logger.WithField("component", "progress"),
		logEvery:  10 * time.Second,
		startedAt: time.Now(),
	}
}

// Add increments the current count by n and renders an update.
func (b *Bar) Add(n int64) {
	b.current += n
	b.render(false)
}

// Done renders a final update and a newline (if writing to a terminal).
func (b *Bar) Done() {
	b.render(true)
	if b.isTTY {
		fmt.Fprintln(b.out)
	}
}

func (b *Bar) render(final bool) {
	elapsed := time.Since(b.startedAt)

	if b.isTTY {
		if b.total > 0 {
			pct := float64(b.current) / float64(b.total) * 100
			fmt.Fprintf(b.out, "\r%s: %s/%s (%.1f%%) in %s",
				b.label, humanize.Comma(b.current), humanize.Comma(b.total), pct, elapsed.Round(time.Second))
		} else {
			fmt.Fprintf(b.out, "\r%s: %s in %s", b.label, humanize.Comma(b.current), elapsed.Round(time.Second))
		}
		return
	}

	if !final && time.Since(b.lastLog) < b.logEvery {
		return
	}
	b.lastLog = time.Now()

	fields := logrus.Fields{"current": b.current, "elapsed": elapsed.Round(time.Second).String()}
	if b.total > 0 {
		fields["total"] = b.total
	}
	b.log.WithFields(fields).Info(b.label)
}
