package models

import (
	"fmt"
	"sort"
	"time"
)

// Bar is one OHLCV candle. Timestamp is always UTC; callers needing a
// local wall-clock view convert at the edge (see strategy/asia_range_reversal.go).
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Validate checks the OHLCV invariant:
// high >= max(open, close) >= min(open, close) >= low, volume >= 0.
func (b Bar) Validate() error {
	hi := max(b.Open, b.Close)
	lo := min(b.Open, b.Close)
	if b.High < hi {
		return fmt.Errorf("models: bar at %s has high %.4f below max(open,close) %.4f", b.Timestamp, b.High, hi)
	}
	if hi < lo {
		return fmt.Errorf("models: bar at %s has max(open,close) %.4f below min(open,close) %.4f", b.Timestamp, hi, lo)
	}
	if lo < b.Low {
		return fmt.Errorf("models: bar at %s has min(open,close) %.4f below low %.4f", b.Timestamp, lo, b.Low)
	}
	if b.Volume < 0 {
		return fmt.Errorf("models: bar at %s has negative volume %.4f", b.Timestamp, b.Volume)
	}
	return nil
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// BarSeries is an ascending, deduplicated sequence of Bars for one
// (symbol, timeframe). Values are copied out of the series on read;
// callers never mutate a shared backing array.
type BarSeries struct {
	Symbol    string
	Timeframe Timeframe
	Bars      []Bar
}

// NewBarSeries builds a series, sorting ascending and deduplicating by
// timestamp (latest value wins on collision).
func NewBarSeries(symbol string, tf Timeframe, bars []Bar) BarSeries {
	byTS := make(map[int64]Bar, len(bars))
	for _, b := range bars {
		byTS[b.Timestamp.UnixNano()] = b
	}
	out := make([]Bar, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return BarSeries{Symbol: symbol, Timeframe: tf, Bars: out}
}

// Len returns the number of bars.
func (s BarSeries) Len() int { return len(s.Bars) }

// Empty reports whether the series has no bars.
func (s BarSeries) Empty() bool { return len(s.Bars) == 0 }

// First returns the earliest bar, or the zero Bar if empty.
func (s BarSeries) First() Bar {
	if s.Empty() {
		return Bar{}
	}
	return s.Bars[0]
}

// Last returns the most recent bar, or the zero Bar if empty.
func (s BarSeries) Last() Bar {
	if s.Empty() {
		return Bar{}
	}
	return s.Bars[len(s.Bars)-1]
}

// Range returns the [first, last] timestamps, or zero values if empty.
func (s BarSeries) Range() (time.Time, time.Time) {
	if s.Empty() {
		return time.Time{}, time.Time{}
	}
	return s.Bars[0].Timestamp, s.Bars[len(s.Bars)-1].Timestamp
}

// Slice returns a copy of the bars whose timestamp falls in [start, end].
// A zero start/end leaves that bound open.
func (s BarSeries) Slice(start, end time.Time) []Bar {
	out := make([]Bar, 0, len(s.Bars))
	for _, b := range s.Bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// At does a random-access lookup by exact timestamp.
func (s BarSeries) At(ts time.Time) (Bar, bool) {
	// Bars are sorted ascending; a linear scan is fine at the sizes the
	// engine actually deals with (hundreds of bars per fetch).
	for _, b := range s.Bars {
		if b.Timestamp.Equal(ts) {
			return b, true
		}
	}
	return Bar{}, false
}

// Closes extracts the close column.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}
