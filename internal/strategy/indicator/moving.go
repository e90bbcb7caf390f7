// Package indicator holds the incremental per-bar accumulators the trend
// strategy is built from. Every indicator consumes one value per bar and
// reports readiness once its warm-up window has been filled.
package indicator

import "math"

// EMA is an exponential moving average seeded with the simple mean of the
// first Period inputs, alpha = 2/(period+1).
type EMA struct {
	period int
	alpha  float64
	count  int
	sum    float64
	value  float64
}

// NewEMA creates an EMA. Periods below 1 are treated as 1.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

// Update feeds x and returns the current average.
func (e *EMA) Update(x float64) float64 {
	e.count++
	if e.count <= e.period {
		e.sum += x
		e.value = e.sum / float64(e.count)
		return e.value
	}
	e.value += e.alpha * (x - e.value)
	return e.value
}

// Value returns the current average; before readiness this is the running mean.
func (e *EMA) Value() float64 { return e.value }

// Ready reports whether the seed window has been consumed.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Period returns the configured window.
func (e *EMA) Period() int { return e.period }

// SMA is a fixed-window simple moving average.
type SMA struct {
	window []float64
	next   int
	count  int
	sum    float64
}

// NewSMA creates an SMA. Periods below 1 are treated as 1.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{window: make([]float64, period)}
}

// Update feeds x and returns the current average.
func (s *SMA) Update(x float64) float64 {
	if s.count == len(s.window) {
		s.sum -= s.window[s.next]
	} else {
		s.count++
	}
	s.window[s.next] = x
	s.sum += x
	s.next = (s.next + 1) % len(s.window)
	return s.Value()
}

// Value returns the mean of the values seen so far in the window.
func (s *SMA) Value() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// Ready reports whether the window is full.
func (s *SMA) Ready() bool { return s.count == len(s.window) }

// Period returns the window length.
func (s *SMA) Period() int { return len(s.window) }

// StdDev is the exponentially weighted standard deviation
// sqrt(max(0, EMA(x²) − EMA(x)²)).
type StdDev struct {
	mean   *EMA
	meanSq *EMA
}

// NewStdDev creates an exponentially weighted standard deviation over period.
func NewStdDev(period int) *StdDev {
	return &StdDev{
		mean:   NewEMA(period),
		meanSq: NewEMA(period),
	}
}

// Update feeds x and returns the current deviation.
func (s *StdDev) Update(x float64) float64 {
	s.mean.Update(x)
	s.meanSq.Update(x * x)
	return s.Value()
}

// Value returns the current deviation, never negative.
func (s *StdDev) Value() float64 {
	m := s.mean.Value()
	variance := s.meanSq.Value() - m*m
	// 浮点误差可能使方差略小于0
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// Ready reports whether both averages are seeded.
func (s *StdDev) Ready() bool { return s.mean.Ready() }

// Period returns the configured window.
func (s *StdDev) Period() int { return s.mean.Period() }

// DivOrZero returns num/den, or 0 when den is 0.
func DivOrZero(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
