// Package sizing turns a combined forecast into a volatility-targeted
// position and decides whether the gap to the current holding is worth
// trading.
package sizing

import (
	"fmt"
)

// DefaultDivisor is the forecast normalisation constant (average absolute
// forecast of 10).
const DefaultDivisor = 10.0

// Target represents a sized position for one bar
type Target struct {
	Size        float64 `json:"size"`
	Percent     float64 `json:"percent"`
	BufferWidth float64 `json:"buffer_width"`
}

// Sizer computes volatility-targeted positions.
type Sizer struct {
	TargetRisk     float64 `json:"target_risk"`
	BufferFraction float64 `json:"buffer_fraction"`
	Divisor        float64 `json:"divisor"`
}

// NewSizer creates a new sizer. A zero divisor falls back to DefaultDivisor.
func NewSizer(targetRisk, bufferFraction, divisor float64) (*Sizer, error) {
	if divisor == 0 {
		divisor = DefaultDivisor
	}
	if targetRisk <= 0 {
		return nil, fmt.Errorf("target risk must be positive, got %v", targetRisk)
	}
	if bufferFraction < 0 {
		return nil, fmt.Errorf("buffer fraction must not be negative, got %v", bufferFraction)
	}
	if divisor < 0 {
		return nil, fmt.Errorf("divisor must be positive, got %v", divisor)
	}
	return &Sizer{
		TargetRisk:     targetRisk,
		BufferFraction: bufferFraction,
		Divisor:        divisor,
	}, nil
}

// Size computes the target for the given capital, capped forecast, price
// and annualised instrument volatility. A zero price or volatility yields
// the zero target.
func (s *Sizer) Size(capital, forecast, price, instrumentVol float64) Target {
	if price == 0 || instrumentVol == 0 {
		return Target{}
	}

	// size = C·F·T / (D·P·σ)
	size := capital * forecast * s.TargetRisk / (s.Divisor * price * instrumentVol)
	// percent = F·T / (D·σ) · 100
	percent := forecast * s.TargetRisk / (s.Divisor * instrumentVol) * 100.0
	// buffer = b·C·T / (P·σ)
	buffer := s.BufferFraction * capital * s.TargetRisk / (price * instrumentVol)

	return Target{
		Size:        size,
		Percent:     percent,
		BufferWidth: buffer,
	}
}
