package strategy

import (
	"time"

	"trendlab/internal/market"
)

// Mode represents the strategy execution mode
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeOptimize Mode = "optimize"
)

// Account is the read-only broker view a strategy sizes against.
type Account interface {
	// Value returns the current account value (cash plus open PnL)
	Value() float64

	// Position returns the signed size currently held
	Position() float64
}

// Decision represents what a strategy wants after seeing one bar
type Decision struct {
	Time       time.Time `json:"time"`
	Ready      bool      `json:"ready"`
	Order      bool      `json:"order"`
	TargetSize float64   `json:"target_size"`
}

// Strategy defines the interface bar-driven strategies implement
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// OnBar consumes the next closed bar and returns the desired target
	OnBar(bar market.Bar, account Account) Decision
}

// Observer receives per-bar diagnostics from strategies that expose them.
type Observer interface {
	Observe(snapshot interface{})
}
