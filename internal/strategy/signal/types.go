package signal

// Forecast represents one trend forecast at a bar. Capped is always inside
// [CapMin, CapMax] of the producing config.
type Forecast struct {
	Raw    float64 `json:"raw"`
	Scaled float64 `json:"scaled"`
	Capped float64 `json:"capped"`
	// Average is the rolling mean of Scaled, kept for diagnostics.
	Average float64 `json:"average"`
}

// Caps bounds forecasts. Min is expected to be negative and Max positive.
type Caps struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp limits v to the caps.
func (c Caps) Clamp(v float64) float64 {
	if v > c.Max {
		return c.Max
	}
	if v < c.Min {
		return c.Min
	}
	return v
}

// Config represents a trend signal configuration
type Config struct {
	// FastPeriod is the fast EMA period; the slow EMA uses SlowMultiple times it.
	FastPeriod    int     `json:"fast_period"`
	SlowMultiple  int     `json:"slow_multiple"`
	Scalar        float64 `json:"scalar"`
	Caps          Caps    `json:"caps"`
	AverageWindow int     `json:"average_window"`
}

// DefaultSlowMultiple pairs each fast EMA with one four times slower.
const DefaultSlowMultiple = 4

// DefaultAverageWindow is the diagnostic averaging window.
const DefaultAverageWindow = 32

// ErrInvalidConfig is returned for an unusable signal configuration.
type ErrInvalidConfig struct {
	Field   string
	Message string
}

func (e ErrInvalidConfig) Error() string {
	return "invalid signal config: " + e.Field + " - " + e.Message
}

// Validate validates a signal config
func (c Config) Validate() error {
	if c.FastPeriod < 1 {
		return &ErrInvalidConfig{Field: "fast_period", Message: "must be at least 1"}
	}
	if c.SlowMultiple < 2 {
		return &ErrInvalidConfig{Field: "slow_multiple", Message: "must be at least 2"}
	}
	if c.AverageWindow < 1 {
		return &ErrInvalidConfig{Field: "average_window", Message: "must be at least 1"}
	}
	return c.Caps.Validate()
}

// Validate checks cap ordering.
func (c Caps) Validate() error {
	if c.Min >= c.Max {
		return &ErrInvalidConfig{Field: "caps", Message: "min must be below max"}
	}
	return nil
}
