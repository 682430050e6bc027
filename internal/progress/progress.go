// Package progress computes transfer rates and renders progress lines for
// long uploads and downloads.
//
// The numbers are advisory only. Nothing in the transfer path depends on
// them.
package progress

import (
	"time"
)

// Sample is one observation of a running transfer.
type Sample struct {
	Bytes          uint64
	Total          uint64
	TotalKnown     bool
	Elapsed        time.Duration // since the start of the transfer
	SinceLast      time.Duration // since the previous sample
	BytesSinceLast uint64
	Now            time.Time
}

// Report holds rates in bytes per second. ETA is the zero time when it
// cannot be estimated.
type Report struct {
	InstantRate float64
	AverageRate float64
	ETA         time.Time
	Percent     int
}

func (r Report) ETAKnown() bool {
	return !r.ETA.IsZero()
}

func Compute(s Sample) Report {
	var r Report

	if secs := s.Elapsed.Seconds(); secs > 0 {
		r.AverageRate = float64(s.Bytes) / secs
	}
	if secs := s.SinceLast.Seconds(); secs > 0 {
		r.InstantRate = float64(s.BytesSinceLast) / secs
	}

	if !s.TotalKnown {
		return r
	}

	if s.Total == 0 {
		r.Percent = 100
	} else {
		r.Percent = int(100 * s.Bytes / s.Total)
	}

	if r.AverageRate > 0 && s.Bytes <= s.Total {
		left := float64(s.Total-s.Bytes) / r.AverageRate
		r.ETA = s.Now.Add(time.Duration(left * float64(time.Second)))
	}

	return r
}
