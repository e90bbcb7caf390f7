package backtest

import (
	"context"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
	"trendlab/internal/market"
	"trendlab/internal/strategy/optimizer"
	"trendlab/internal/strategy/trend"
)

// TrialEvaluator scores one parameter set by backtesting the trend strategy
// over a fixed bar series. It is safe for concurrent use: every call builds
// its own strategy and broker over a private copy of the bars.
type TrialEvaluator struct {
	bars        []market.Bar
	base        trend.Params
	broker      Config
	constraints optimizer.Constraints
	logger      logger.Logger
}

// NewTrialEvaluator creates an evaluator. Parameters absent from a trial
// keep their value from base. The bars are not checked here: a malformed
// series fails each trial with ErrCodeMarketDataInvalid instead of the study.
func NewTrialEvaluator(bars []market.Bar, base trend.Params, broker Config, constraints optimizer.Constraints) (*TrialEvaluator, error) {
	if err := broker.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "invalid broker config")
	}
	if err := constraints.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "invalid constraints")
	}

	broker.RecordIndicators = false
	return &TrialEvaluator{
		bars:        market.Clone(bars),
		base:        base,
		broker:      broker,
		constraints: constraints,
		logger:      logger.GetGlobalLogger(),
	}, nil
}

// Evaluate implements optimizer.Evaluator.
func (e *TrialEvaluator) Evaluate(ctx context.Context, params optimizer.ParameterSet) (*optimizer.TrialResult, error) {
	if err := market.Validate(e.bars); err != nil {
		return nil, err
	}

	p, err := e.base.WithValues(params)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeParameterInvalid, "invalid trial parameters")
	}

	strat, err := trend.New(p)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeParameterInvalid, "failed to build strategy")
	}

	engine, err := NewEngine(strat, e.broker, WithEngineLogger(e.logger.WithContext(ctx)))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfig, "failed to build engine")
	}

	result, err := engine.Run(ctx, market.Clone(e.bars))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStrategyExecution, "backtest failed")
	}

	outcome := OutcomeOf(result)
	scored := e.constraints.Score(outcome)
	scored.Diagnostics = map[string]float64{
		"final_value":      result.FinalValue,
		"orders":           float64(result.Orders),
		"max_drawdown_pct": outcome.MaxDrawdownPct,
		"sqn":              outcome.SQN,
		"sharpe":           outcome.Sharpe,
		"margin_failures":  float64(outcome.MarginFailures),
	}
	if result.Trades != nil {
		scored.Diagnostics["trades_closed"] = float64(result.Trades.Closed)
	}
	return scored, nil
}

// OutcomeOf extracts what the constraints need from a result.
func OutcomeOf(r *Result) optimizer.Outcome {
	return optimizer.Outcome{
		MarginFailures: len(r.Margin),
		MaxDrawdownPct: r.MaxDrawdownPct(),
		SQN:            r.SQNValue(),
		Sharpe:         r.SharpeValue(),
	}
}
