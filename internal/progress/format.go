package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var sizeUnits = []string{"bytes", "KiB", "MiB", "GiB", "TiB"}

// Format is the explicit number formatting used for progress and table
// output. The zero value groups digits with "," and prints one decimal.
type Format struct {
	ThousandsSep string
	Decimals     int
	Clock        func() time.Time
	TimeLayout   string
}

func DefaultFormat() Format {
	return Format{ThousandsSep: ",", Decimals: 1, Clock: time.Now, TimeLayout: time.TimeOnly}
}

func (f Format) now() time.Time {
	if f.Clock == nil {
		return time.Now()
	}
	return f.Clock()
}

func (f Format) sep() string {
	if f.ThousandsSep == "" || f.ThousandsSep == "#" || f.ThousandsSep == "0" {
		return ""
	}
	return string([]rune(f.ThousandsSep)[:1])
}

func (f Format) pattern(decimals int) string {
	decimals = max(0, min(decimals, 9))
	if s := f.sep(); s != "" {
		return "#" + s + "###." + strings.Repeat("#", decimals)
	}
	return "####." + strings.Repeat("#", decimals)
}

// Integer renders n with digit grouping.
func (f Format) Integer(n uint64) string {
	return humanize.FormatFloat(f.pattern(0), float64(n))
}

// Size renders n bytes in the largest binary unit below 1024.
func (f Format) Size(n float64) string {
	return f.size(n, f.Decimals)
}

func (f Format) size(n float64, decimals int) string {
	unit := sizeUnits[0]
	for _, u := range sizeUnits[1:] {
		if n < 1024 {
			break
		}
		n /= 1024
		unit = u
	}
	return humanize.FormatFloat(f.pattern(decimals), n) + " " + unit
}

func (f Format) eta(r Report) string {
	if !r.ETAKnown() {
		return "unknown"
	}
	layout := f.TimeLayout
	if layout == "" {
		layout = time.TimeOnly
	}
	return r.ETA.Format(layout)
}

// Line renders the incremental progress line for s.
func (f Format) Line(s Sample) string {
	if !s.TotalKnown {
		return fmt.Sprintf("Wrote %s bytes.", f.Integer(s.Bytes))
	}

	r := Compute(s)
	return fmt.Sprintf("Wrote %s of %s (%d%%). Rate %s/s, average %s/s, eta %s.",
		f.Size(float64(s.Bytes)),
		f.Size(float64(s.Total)),
		r.Percent,
		f.size(r.InstantRate, f.Decimals+1),
		f.size(r.AverageRate, f.Decimals+1),
		f.eta(r),
	)
}

// Summary renders the final line once a transfer is over.
func (f Format) Summary(s Sample) string {
	if !s.TotalKnown {
		return fmt.Sprintf("Wrote %s bytes.", f.Integer(s.Bytes))
	}

	r := Compute(s)
	return fmt.Sprintf("Wrote %s of %s bytes (%d%%). Transfer rate %s bytes/s.",
		f.Integer(s.Bytes),
		f.Integer(s.Total),
		r.Percent,
		f.Integer(uint64(r.AverageRate)),
	)
}
