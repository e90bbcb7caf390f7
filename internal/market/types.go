package market

import (
	"math"
	"time"

	apperrors "trendlab/internal/errors"
)

// Bar represents one OHLCV candle. Bars are immutable once loaded.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Range represents the inclusive [From, To] window a feed is restricted to.
// A zero bound is open.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Clone returns a private copy of bars, one per trial worker.
func Clone(bars []Bar) []Bar {
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out
}

// Closes extracts the close prices.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Validate checks that a series can be consumed bar by bar: non-empty,
// strictly increasing timestamps, finite non-negative prices.
func Validate(bars []Bar) error {
	if len(bars) == 0 {
		return apperrors.New(apperrors.ErrCodeMarketDataUnavailable, "no bars in range")
	}

	for i, b := range bars {
		if b.Time.IsZero() {
			return invalidBar(i, b, "missing timestamp")
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return invalidBar(i, b, "timestamp not after previous bar")
		}
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return invalidBar(i, b, "non-finite value")
			}
			if v < 0 {
				return invalidBar(i, b, "negative value")
			}
		}
	}
	return nil
}

func invalidBar(i int, b Bar, reason string) error {
	return apperrors.New(apperrors.ErrCodeMarketDataInvalid, reason).
		WithContext("index", i).
		WithContext("time", b.Time)
}
