package signal

// Combiner averages capped forecasts, applies the diversification
// multiplier and caps again.
type Combiner struct {
	fdm  float64
	caps Caps
}

// NewCombiner creates a new combiner
func NewCombiner(fdm float64, caps Caps) (*Combiner, error) {
	if fdm <= 0 {
		return nil, &ErrInvalidConfig{Field: "fdm", Message: "must be positive"}
	}
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	return &Combiner{fdm: fdm, caps: caps}, nil
}

// Combine merges the capped forecasts. With no inputs the result is zero.
func (c *Combiner) Combine(forecasts ...Forecast) Forecast {
	if len(forecasts) == 0 {
		return Forecast{}
	}

	var sum float64
	for _, f := range forecasts {
		sum += f.Capped
	}
	raw := sum / float64(len(forecasts))
	scaled := raw * c.fdm

	return Forecast{
		Raw:    raw,
		Scaled: scaled,
		Capped: c.caps.Clamp(scaled),
	}
}
