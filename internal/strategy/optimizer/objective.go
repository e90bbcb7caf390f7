package optimizer

import (
	"fmt"
	"math"
)

// Metric names the statistic a study maximises.
type Metric string

const (
	MetricSQN    Metric = "sqn"
	MetricSharpe Metric = "sharpe"
)

// DefaultMaxDrawdownPct is the drawdown ceiling in percent.
const DefaultMaxDrawdownPct = 50.0

// Infeasibility reasons.
const (
	ReasonMarginFailure     = "margin_failure"
	ReasonExcessiveDrawdown = "excessive_drawdown"
)

// Outcome is what a study needs to know about one finished run.
type Outcome struct {
	MarginFailures int
	MaxDrawdownPct float64
	SQN            float64
	Sharpe         float64
}

// Constraints turns a run outcome into an objective value.
type Constraints struct {
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct" default:"50" validate:"gt=0"`
	Metric         Metric  `yaml:"metric" json:"metric" default:"sqn" validate:"oneof=sqn sharpe"`
}

// DefaultConstraints returns the standard feasibility rules.
func DefaultConstraints() Constraints {
	return Constraints{MaxDrawdownPct: DefaultMaxDrawdownPct, Metric: MetricSQN}
}

// Validate checks the constraints
func (c Constraints) Validate() error {
	if c.MaxDrawdownPct <= 0 {
		return fmt.Errorf("max drawdown must be positive, got %v", c.MaxDrawdownPct)
	}
	switch c.Metric {
	case MetricSQN, MetricSharpe:
		return nil
	default:
		return fmt.Errorf("unknown metric %q", c.Metric)
	}
}

// Score applies the feasibility rules in order: any margin failure scores
// zero, then a drawdown above the ceiling scores zero, otherwise the
// selected metric is returned. Non-finite metrics score zero.
func (c Constraints) Score(o Outcome) *TrialResult {
	if o.MarginFailures > 0 {
		return &TrialResult{Objective: 0, Feasible: false, Reason: ReasonMarginFailure}
	}

	ceiling := c.MaxDrawdownPct
	if ceiling <= 0 {
		ceiling = DefaultMaxDrawdownPct
	}
	if o.MaxDrawdownPct > ceiling {
		return &TrialResult{Objective: 0, Feasible: false, Reason: ReasonExcessiveDrawdown}
	}

	value := o.SQN
	if c.Metric == MetricSharpe {
		value = o.Sharpe
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}
	return &TrialResult{Objective: value, Feasible: true}
}
