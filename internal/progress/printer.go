package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Printer tracks a transfer and redraws a single progress line on an
// interactive terminal. On anything else it stays silent until Finish.
type Printer struct {
	w           io.Writer
	format      Format
	interactive bool

	total     uint64
	known     bool
	start     time.Time
	last      time.Time
	bytes     uint64
	lastBytes uint64
}

func NewPrinter(w io.Writer, total uint64, known bool, f Format) *Printer {
	now := f.now()
	return &Printer{
		w:           w,
		format:      f,
		interactive: IsTerminal(w),
		total:       total,
		known:       known,
		start:       now,
		last:        now,
	}
}

// SetInteractive overrides terminal detection.
func (p *Printer) SetInteractive(v bool) {
	p.interactive = v
}

func (p *Printer) sample(now time.Time) Sample {
	return Sample{
		Bytes:          p.bytes,
		Total:          p.total,
		TotalKnown:     p.known,
		Elapsed:        now.Sub(p.start),
		SinceLast:      now.Sub(p.last),
		BytesSinceLast: p.bytes - p.lastBytes,
		Now:            now,
	}
}

// Add records n more transferred bytes.
func (p *Printer) Add(n int) {
	if n <= 0 {
		return
	}
	p.bytes += uint64(n)

	now := p.format.now()
	if p.interactive && p.w != nil {
		fmt.Fprint(p.w, "\r"+p.format.Line(p.sample(now)))
	}
	p.last = now
	p.lastBytes = p.bytes
}

// Write lets a Printer sit behind an io.TeeReader or io.MultiWriter.
func (p *Printer) Write(b []byte) (int, error) {
	p.Add(len(b))
	return len(b), nil
}

func (p *Printer) Bytes() uint64 {
	return p.bytes
}

// Finish returns the summary line. It is written out only on a terminal.
func (p *Printer) Finish() string {
	s := p.format.Summary(p.sample(p.format.now()))
	if p.interactive && p.w != nil {
		fmt.Fprint(p.w, "\r"+s+"\n")
	}
	return s
}
