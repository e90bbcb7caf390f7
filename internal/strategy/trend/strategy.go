package trend

import (
	"time"

	"trendlab/internal/market"
	"trendlab/internal/strategy"
	"trendlab/internal/strategy/indicator"
	"trendlab/internal/strategy/signal"
	"trendlab/internal/strategy/sizing"
)

// Name is the registered strategy name.
const Name = "multi_trend"

// Snapshot is the full per-bar state of the pipeline.
type Snapshot struct {
	Time       time.Time            `json:"time"`
	Close      float64              `json:"close"`
	Ready      bool                 `json:"ready"`
	Volatility indicator.Volatility `json:"volatility"`
	Fast       signal.Forecast      `json:"fast"`
	Slow       signal.Forecast      `json:"slow"`
	Combined   signal.Forecast      `json:"combined"`
	Capital    float64              `json:"capital"`
	Target     sizing.Target        `json:"target"`
	Intent     sizing.TradeIntent   `json:"intent"`
}

// MultiTrend is the volatility-targeted two-signal trend strategy.
type MultiTrend struct {
	params   Params
	vol      *indicator.VolatilityEstimator
	signals  [2]*signal.TrendSignal
	combiner *signal.Combiner
	sizer    *sizing.Sizer
	observer strategy.Observer
	last     Snapshot
}

// New creates a new multi-trend strategy
func New(params Params) (*MultiTrend, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	caps := signal.Caps{Min: params.CapMin, Max: params.CapMax}

	fast, err := signal.NewTrendSignal(signal.Config{
		FastPeriod:    params.EWMAC1,
		Scalar:        params.EWMAC1Scalar,
		Caps:          caps,
		AverageWindow: params.AverageWindow,
	})
	if err != nil {
		return nil, err
	}
	slow, err := signal.NewTrendSignal(signal.Config{
		FastPeriod:    params.EWMAC2,
		Scalar:        params.EWMAC2Scalar,
		Caps:          caps,
		AverageWindow: params.AverageWindow,
	})
	if err != nil {
		return nil, err
	}

	combiner, err := signal.NewCombiner(params.FDM, caps)
	if err != nil {
		return nil, err
	}
	sizer, err := sizing.NewSizer(params.TargetRisk, params.Buffer, params.SizingDivisor)
	if err != nil {
		return nil, err
	}

	return &MultiTrend{
		params:   params,
		vol:      indicator.NewVolatilityEstimator(params.SigmaPeriod, params.AnnualScale),
		signals:  [2]*signal.TrendSignal{fast, slow},
		combiner: combiner,
		sizer:    sizer,
	}, nil
}

// Name returns the strategy name
func (s *MultiTrend) Name() string { return Name }

// Params returns the strategy parameters
func (s *MultiTrend) Params() Params { return s.params }

// SetObserver registers a per-bar snapshot observer.
func (s *MultiTrend) SetObserver(o strategy.Observer) { s.observer = o }

// Last returns the snapshot of the most recent bar.
func (s *MultiTrend) Last() Snapshot { return s.last }

// Ready reports whether every indicator has warmed up.
func (s *MultiTrend) Ready() bool {
	return s.vol.Ready() && s.signals[0].Ready() && s.signals[1].Ready()
}

// OnBar runs the per-bar pipeline: volatility, signals, combination,
// sizing against the current account value, then the buffer rule. No order
// is requested before warm-up completes.
func (s *MultiTrend) OnBar(bar market.Bar, account strategy.Account) strategy.Decision {
	vol := s.vol.Update(bar.Close)
	fast := s.signals[0].Update(bar.Close, vol.Price)
	slow := s.signals[1].Update(bar.Close, vol.Price)

	snap := Snapshot{
		Time:       bar.Time,
		Close:      bar.Close,
		Ready:      s.Ready(),
		Volatility: vol,
		Fast:       fast,
		Slow:       slow,
	}

	decision := strategy.Decision{Time: bar.Time, Ready: snap.Ready}
	if snap.Ready {
		snap.Combined = s.combiner.Combine(fast, slow)
		snap.Capital = account.Value()
		snap.Target = s.sizer.Size(snap.Capital, snap.Combined.Capped, bar.Close, vol.Instrument.Value)
		snap.Intent = sizing.Decide(snap.Target, account.Position())

		decision.Order = snap.Intent.Issued
		decision.TargetSize = snap.Target.Size
	}

	s.last = snap
	if s.observer != nil {
		s.observer.Observe(snap)
	}
	return decision
}
