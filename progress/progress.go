// Package progress reports completion of long-running phases, either as
// a terminal bar or as periodic log lines when output is not a tty.
package progress

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives completion updates from the fetch loop. The total
// may grow while work is in flight because listing and enrichment run
// concurrently.
type Reporter interface {
	SetTotal(total int64)
	Add(n int64)
	Finish()
}

// Auto picks a terminal bar when stderr is a terminal and a log reporter
// otherwise. Pass total -1 when the amount of work is not yet known.
func Auto(description string, every int, total int64) Reporter {
	if isTerminal(os.Stderr) {
		return NewBar(os.Stderr, description, total)
	}
	return NewLog(description, every)
}

// Bar renders a single-line terminal progress bar.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar builds a bar writing to w. A negative total renders a spinner
// until SetTotal supplies a real maximum.
func NewBar(w io.Writer, description string, total int64) *Bar {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &Bar{bar: bar}
}

func (b *Bar) SetTotal(total int64) {
	b.bar.ChangeMax64(total)
}

func (b *Bar) Add(n int64) {
	_ = b.bar.Add64(n)
}

func (b *Bar) Finish() {
	_ = b.bar.Finish()
}

// Log reports progress as a structured log line every N additions.
type Log struct {
	description string
	every       int64
	count       atomic.Int64
	total       atomic.Int64
}

func NewLog(description string, every int) *Log {
	if every <= 0 {
		every = 1
	}
	return &Log{description: description, every: int64(every)}
}

func (l *Log) SetTotal(total int64) {
	l.total.Store(total)
}

func (l *Log) Add(n int64) {
	count := l.count.Add(n)
	if count%l.every == 0 {
		l.emit(count)
	}
}

func (l *Log) Finish() {
	l.emit(l.count.Load())
}

func (l *Log) emit(count int64) {
	if total := l.total.Load(); total > 0 {
		slog.Info(l.description, slog.Int64("processed", count), slog.Int64("total", total))
		return
	}
	slog.Info(l.description, slog.Int64("processed", count))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
