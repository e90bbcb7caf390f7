package backtest

import (
	"time"
)

// Config represents broker configuration
type Config struct {
	Cash       float64 `yaml:"cash" json:"cash" default:"10000" validate:"gt=0"`
	Commission float64 `yaml:"commission" json:"commission" default:"0.0005" validate:"gte=0"`
	Slippage   float64 `yaml:"slippage" json:"slippage" default:"0.00001" validate:"gte=0"`
	Leverage   float64 `yaml:"leverage" json:"leverage" default:"10" validate:"gte=1"`

	// SlipOpen applies slippage to fills at the bar open. Market orders
	// always fill at the open, so clearing it disables slippage.
	SlipOpen bool `yaml:"slip_open" json:"slip_open" default:"true"`

	// RecordIndicators keeps a per-bar indicator log in the result.
	RecordIndicators bool `yaml:"record_indicators" json:"record_indicators"`
}

// DefaultConfig returns the broker settings the strategy was tuned with.
func DefaultConfig() Config {
	return Config{
		Cash:       10000,
		Commission: 0.0005,
		Slippage:   0.00001,
		Leverage:   10,
		SlipOpen:   true,
	}
}

// Validate validates the broker configuration
func (c Config) Validate() error {
	if c.Cash <= 0 {
		return &ErrInvalidConfig{Field: "cash", Message: "must be positive"}
	}
	if c.Commission < 0 {
		return &ErrInvalidConfig{Field: "commission", Message: "must not be negative"}
	}
	if c.Slippage < 0 {
		return &ErrInvalidConfig{Field: "slippage", Message: "must not be negative"}
	}
	if c.Leverage < 1 {
		return &ErrInvalidConfig{Field: "leverage", Message: "must be at least 1"}
	}
	return nil
}

// Result represents backtest results. Analyzer sections are nil when the
// analyzer had nothing to report.
type Result struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Bars         int       `json:"bars"`
	InitialValue float64   `json:"initial_value"`
	FinalValue   float64   `json:"final_value"`
	Orders       int       `json:"orders"`

	SQN        *SQNStats        `json:"sqn,omitempty"`
	Sharpe     *SharpeStats     `json:"sharpe,omitempty"`
	Trades     *TradeStats      `json:"trades,omitempty"`
	DrawDown   *DrawDownStats   `json:"drawdown,omitempty"`
	Annual     []AnnualReturn   `json:"annual,omitempty"`
	Margin     []MarginEvent    `json:"margin,omitempty"`
	Indicators *IndicatorRecord `json:"indicators,omitempty"`
}

// MaxDrawdownPct returns the maximum drawdown in percent, 0 if unknown.
func (r *Result) MaxDrawdownPct() float64 {
	if r.DrawDown == nil {
		return 0
	}
	return r.DrawDown.Max.Percent
}

// SQNValue returns the SQN, 0 if unknown.
func (r *Result) SQNValue() float64 {
	if r.SQN == nil {
		return 0
	}
	return r.SQN.SQN
}

// SharpeValue returns the Sharpe ratio, 0 if undefined.
func (r *Result) SharpeValue() float64 {
	if r.Sharpe == nil || r.Sharpe.Ratio == nil {
		return 0
	}
	return *r.Sharpe.Ratio
}

// Error types
type ErrInvalidConfig struct {
	Field   string
	Message string
}

func (e ErrInvalidConfig) Error() string {
	return "invalid config: " + e.Field + " - " + e.Message
}

type ErrBacktest struct {
	Message string
	Err     error
}

func (e ErrBacktest) Error() string {
	if e.Err != nil {
		return "backtest error: " + e.Message + ": " + e.Err.Error()
	}
	return "backtest error: " + e.Message
}

func (e ErrBacktest) Unwrap() error {
	return e.Err
}
