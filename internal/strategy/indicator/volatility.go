package indicator

// Estimate is a volatility reading for one bar.
type Estimate struct {
	Value  float64 `json:"value"`
	Period int     `json:"period"`
	Ready  bool    `json:"ready"`
}

// Volatility bundles the three readings produced per bar.
type Volatility struct {
	// Price is the deviation of absolute close-to-close changes (sigma_p).
	Price Estimate `json:"price"`
	// Daily is the deviation of percentage returns, per bar.
	Daily Estimate `json:"daily"`
	// Instrument is Daily multiplied by the annual scale (sigma_t).
	Instrument Estimate `json:"instrument"`
}

// VolatilityEstimator tracks price volatility and annualised instrument
// volatility from a close series.
//
// Annualisation multiplies by annualScale directly rather than by its
// square root; callers that want the textbook form pass sqrt(periods).
type VolatilityEstimator struct {
	period      int
	annualScale float64
	price       *StdDev
	pct         *StdDev
	prevClose   float64
	hasPrev     bool
}

// NewVolatilityEstimator creates an estimator over period bars.
func NewVolatilityEstimator(period int, annualScale float64) *VolatilityEstimator {
	return &VolatilityEstimator{
		period:      period,
		annualScale: annualScale,
		price:       NewStdDev(period),
		pct:         NewStdDev(period),
	}
}

// Update consumes the next close. The first close only primes the previous
// value; returns start from the second bar.
func (v *VolatilityEstimator) Update(close float64) Volatility {
	if !v.hasPrev {
		v.prevClose = close
		v.hasPrev = true
		return v.Current()
	}

	delta := close - v.prevClose
	v.price.Update(delta)
	v.pct.Update(DivOrZero(delta, v.prevClose))
	v.prevClose = close

	return v.Current()
}

// Current returns the latest readings without consuming input.
func (v *VolatilityEstimator) Current() Volatility {
	ready := v.price.Ready()
	daily := v.pct.Value()
	return Volatility{
		Price:      Estimate{Value: v.price.Value(), Period: v.period, Ready: ready},
		Daily:      Estimate{Value: daily, Period: v.period, Ready: ready},
		Instrument: Estimate{Value: daily * v.annualScale, Period: v.period, Ready: ready},
	}
}

// Ready reports whether period returns have been observed.
func (v *VolatilityEstimator) Ready() bool { return v.price.Ready() }
