package backtest

import (
	"context"
	"fmt"

	"trendlab/internal/logger"
	"trendlab/internal/market"
	"trendlab/internal/strategy"
)

// observable is implemented by strategies that publish per-bar state.
type observable interface {
	SetObserver(observer strategy.Observer)
}

// Engine represents the backtesting engine
type Engine struct {
	strategy  strategy.Strategy
	config    Config
	analyzers []Analyzer
	logger    logger.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAnalyzer adds an analyzer on top of the standard set.
func WithAnalyzer(a Analyzer) EngineOption {
	return func(e *Engine) { e.analyzers = append(e.analyzers, a) }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a new backtesting engine
func NewEngine(s strategy.Strategy, config Config, opts ...EngineOption) (*Engine, error) {
	if s == nil {
		return nil, &ErrInvalidConfig{Field: "strategy", Message: "is required"}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		strategy: s,
		config:   config,
		logger:   logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run runs the backtest over bars. The strategy decides on each bar's close
// and orders fill at the next bar's open; an order issued on the last bar
// never fills.
func (e *Engine) Run(ctx context.Context, bars []market.Bar) (*Result, error) {
	if err := market.Validate(bars); err != nil {
		return nil, &ErrBacktest{Message: "invalid data", Err: err}
	}

	broker, err := NewBroker(e.config)
	if err != nil {
		return nil, err
	}

	analyzers := []Analyzer{
		&SQNAnalyzer{},
		&DrawDownAnalyzer{},
		&TradeAnalyzer{},
		&AnnualReturnAnalyzer{},
		&MarginAnalyzer{},
	}
	if e.config.RecordIndicators {
		if obs, ok := e.strategy.(observable); ok {
			recorder := &IndicatorRecorder{}
			obs.SetObserver(recorder)
			defer obs.SetObserver(nil)
			analyzers = append(analyzers, recorder)
		}
	}
	analyzers = append(analyzers, e.analyzers...)
	// Sharpe reads the annual returns, so it stops last
	analyzers = append(analyzers, &SharpeAnalyzer{RiskFreeRate: DefaultRiskFreeRate})

	for _, a := range analyzers {
		broker.Subscribe(a)
		a.Start(e.config.Cash)
	}

	orders := 0
	for i, bar := range bars {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, &ErrBacktest{Message: fmt.Sprintf("interrupted at bar %d", i), Err: err}
			}
		}

		broker.Next(bar, i)

		decision := e.strategy.OnBar(bar, broker)
		if decision.Order {
			if broker.OrderTarget(decision.TargetSize) != nil {
				orders++
			}
		}

		value := broker.Value()
		for _, a := range analyzers {
			a.Next(bar, value)
		}
	}

	result := &Result{
		StartTime:    bars[0].Time,
		EndTime:      bars[len(bars)-1].Time,
		Bars:         len(bars),
		InitialValue: e.config.Cash,
		FinalValue:   broker.Value(),
		Orders:       orders,
	}
	for _, a := range analyzers {
		a.Stop(result)
	}

	e.logger.Debug("Backtest finished",
		"strategy", e.strategy.Name(),
		"bars", result.Bars,
		"orders", result.Orders,
		"final_value", result.FinalValue,
		"max_drawdown_pct", result.MaxDrawdownPct(),
		"sqn", result.SQNValue(),
		"margin_failures", len(result.Margin))
	return result, nil
}
