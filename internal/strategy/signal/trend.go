package signal

import (
	"trendlab/internal/strategy/indicator"
)

// TrendSignal is an EWMAC generator: the spread between a fast and a slow
// EMA of the close, normalised by price volatility, scaled and capped.
type TrendSignal struct {
	config  Config
	fast    *indicator.EMA
	slow    *indicator.EMA
	average *indicator.SMA
	last    Forecast
}

// NewTrendSignal creates a new trend signal
func NewTrendSignal(config Config) (*TrendSignal, error) {
	if config.SlowMultiple == 0 {
		config.SlowMultiple = DefaultSlowMultiple
	}
	if config.AverageWindow == 0 {
		config.AverageWindow = DefaultAverageWindow
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &TrendSignal{
		config:  config,
		fast:    indicator.NewEMA(config.FastPeriod),
		slow:    indicator.NewEMA(config.FastPeriod * config.SlowMultiple),
		average: indicator.NewSMA(config.AverageWindow),
	}, nil
}

// Update consumes the bar's close and price volatility. A zero volatility
// yields a zero raw forecast. The average only starts accumulating once the
// slow EMA and the volatility are both warmed up.
func (s *TrendSignal) Update(close float64, priceVol indicator.Estimate) Forecast {
	s.fast.Update(close)
	s.slow.Update(close)

	raw := indicator.DivOrZero(s.fast.Value()-s.slow.Value(), priceVol.Value)
	scaled := raw * s.config.Scalar

	average := s.average.Value()
	if s.slow.Ready() && priceVol.Ready {
		average = s.average.Update(scaled)
	}

	s.last = Forecast{
		Raw:     raw,
		Scaled:  scaled,
		Capped:  s.config.Caps.Clamp(scaled),
		Average: average,
	}
	return s.last
}

// Last returns the most recent forecast.
func (s *TrendSignal) Last() Forecast { return s.last }

// Ready reports whether the slow EMA and the forecast average are warmed up.
func (s *TrendSignal) Ready() bool {
	return s.slow.Ready() && s.average.Ready()
}

// Config returns the signal configuration.
func (s *TrendSignal) Config() Config { return s.config }
