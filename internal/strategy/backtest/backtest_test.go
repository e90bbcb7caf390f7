package backtest

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/logger"
	"trendlab/internal/market"
	"trendlab/internal/strategy/optimizer"
	"trendlab/internal/strategy/sizing"
	"trendlab/internal/strategy/trend"
	"trendlab/internal/testutils"
)

type orderLog struct {
	baseAnalyzer
	orders []Order
	trades []Trade
}

func (l *orderLog) NotifyOrder(o *Order) { l.orders = append(l.orders, *o) }
func (l *orderLog) NotifyTrade(t *Trade) { l.trades = append(l.trades, *t) }
func (l *orderLog) Stop(*Result)         {}

func (l *orderLog) filled() float64 {
	total := 0.0
	for _, o := range l.orders {
		if o.Status == OrderStatusCompleted {
			total += o.Size
		}
	}
	return total
}

func bar(i int, open, close float64) market.Bar {
	return market.Bar{
		Time:  testutils.BarStart.Add(time.Duration(i) * testutils.BarInterval),
		Open:  open,
		High:  max(open, close),
		Low:   min(open, close),
		Close: close,
	}
}

func TestPositionUpdate(t *testing.T) {
	var p Position

	pnl, closed, opened := p.Update(2, 100)
	assert.Zero(t, pnl)
	assert.Zero(t, closed)
	assert.Equal(t, 2.0, opened)

	p.Update(2, 110)
	assert.Equal(t, 4.0, p.Size)
	assert.InDelta(t, 105.0, p.Price, 1e-9)

	pnl, closed, _ = p.Update(-1, 120)
	assert.InDelta(t, 15.0, pnl, 1e-9)
	assert.Equal(t, -1.0, closed)
	assert.Equal(t, 3.0, p.Size)

	// 反手
	pnl, closed, opened = p.Update(-4, 100)
	assert.InDelta(t, -15.0, pnl, 1e-9)
	assert.Equal(t, -3.0, closed)
	assert.Equal(t, -1.0, opened)
	assert.Equal(t, -1.0, p.Size)
	assert.Equal(t, 100.0, p.Price)
	assert.InDelta(t, -5.0, p.Unrealized(105), 1e-9)
}

func TestBrokerFillsAtNextOpen(t *testing.T) {
	config := DefaultConfig()
	config.Commission = 0.001
	config.SlipOpen = false
	b, err := NewBroker(config)
	require.NoError(t, err)
	log := &orderLog{}
	b.Subscribe(log)

	b.Next(bar(0, 99, 99), 0)
	order := b.OrderTarget(10)
	require.NotNil(t, order)
	assert.Equal(t, OrderStatusSubmitted, order.Status)
	assert.Zero(t, b.Position())

	b.Next(bar(1, 100, 103), 1)
	assert.Equal(t, OrderStatusCompleted, order.Status)
	assert.Equal(t, 100.0, order.Price)
	assert.InDelta(t, 1.0, order.Commission, 1e-9)
	assert.Equal(t, 10.0, b.Position())
	assert.InDelta(t, 9999.0, b.Cash(), 1e-9)
	assert.InDelta(t, 9999.0+30, b.Value(), 1e-9)

	assert.Nil(t, b.OrderTarget(10), "already at target")

	require.NotNil(t, b.OrderTarget(0))
	b.Next(bar(2, 105, 105), 2)
	assert.Zero(t, b.Position())
	assert.Nil(t, b.OpenTrade())

	require.Len(t, log.trades, 2)
	assert.Equal(t, TradeOpen, log.trades[0].Status)
	closed := log.trades[1]
	assert.Equal(t, TradeClosed, closed.Status)
	assert.True(t, closed.Long)
	assert.InDelta(t, 50.0, closed.PnL, 1e-9)
	assert.InDelta(t, 50.0-1.0-1.05, closed.PnLComm, 1e-9)
	assert.Equal(t, 1, closed.Bars())
}

func TestBrokerSlipsDefaultFills(t *testing.T) {
	config := DefaultConfig()
	require.True(t, config.SlipOpen)

	fill := func(config Config, target float64, next market.Bar) *Order {
		b, err := NewBroker(config)
		require.NoError(t, err)
		b.Next(bar(0, 100, 100), 0)
		order := b.OrderTarget(target)
		require.NotNil(t, order)
		b.Next(next, 1)
		require.Equal(t, OrderStatusCompleted, order.Status)
		return order
	}

	t.Run("buy pays up", func(t *testing.T) {
		order := fill(config, 1, bar(1, 100, 103))
		assert.InDelta(t, 100*(1+config.Slippage), order.Price, 1e-12)
		assert.Greater(t, order.Price, 100.0)
	})

	t.Run("sell gives up", func(t *testing.T) {
		order := fill(config, -1, bar(1, 100, 97))
		assert.InDelta(t, 100*(1-config.Slippage), order.Price, 1e-12)
		assert.Less(t, order.Price, 100.0)
	})

	t.Run("clamped to bar range", func(t *testing.T) {
		// open is the high, a slipped buy cannot trade above it
		order := fill(config, 1, bar(1, 100, 95))
		assert.Equal(t, 100.0, order.Price)
	})

	t.Run("disabled", func(t *testing.T) {
		off := config
		off.SlipOpen = false
		order := fill(off, 1, bar(1, 100, 103))
		assert.Equal(t, 100.0, order.Price)
	})
}

func TestBrokerMarginRejection(t *testing.T) {
	config := DefaultConfig()
	config.Cash = 500
	config.Leverage = 1
	b, err := NewBroker(config)
	require.NoError(t, err)
	margin := &MarginAnalyzer{}
	b.Subscribe(margin)

	b.Next(bar(0, 100, 100), 0)
	order := b.OrderTarget(10)
	b.Next(bar(1, 100, 100), 1)

	assert.Equal(t, OrderStatusMargin, order.Status)
	assert.Zero(t, b.Position())
	assert.Equal(t, 500.0, b.Cash())

	var result Result
	margin.Stop(&result)
	require.Len(t, result.Margin, 1)
	assert.Equal(t, 10.0, result.Margin[0].Size)
	assert.Equal(t, testutils.BarStart, result.Margin[0].Time)
}

func TestBrokerReducingAlwaysAllowed(t *testing.T) {
	config := DefaultConfig()
	config.Cash = 1000
	config.Leverage = 1
	b, err := NewBroker(config)
	require.NoError(t, err)

	b.Next(bar(0, 100, 100), 0)
	b.OrderTarget(9)
	b.Next(bar(1, 100, 50), 1)
	require.Equal(t, 9.0, b.Position())

	// equity has fallen below the margin of the remaining position
	order := b.OrderTarget(8)
	b.Next(bar(2, 50, 50), 2)
	assert.Equal(t, OrderStatusCompleted, order.Status)
	assert.Equal(t, 8.0, b.Position())
}

func TestSQN(t *testing.T) {
	assert.Zero(t, SQN(nil))
	assert.Zero(t, SQN([]float64{5}))
	assert.Zero(t, SQN([]float64{2, 2, 2}))
	assert.InDelta(t, 4.242640687, SQN([]float64{1, 2, 3}), 1e-6)
}

func TestDrawDownAnalyzer(t *testing.T) {
	a := &DrawDownAnalyzer{}
	a.Start(100)
	for i, v := range []float64{100, 120, 90, 110, 125} {
		a.Next(bar(i, 1, 1), v)
	}

	var r Result
	a.Stop(&r)
	require.NotNil(t, r.DrawDown)
	assert.InDelta(t, 25.0, r.DrawDown.Max.Percent, 1e-9)
	assert.InDelta(t, 30.0, r.DrawDown.Max.MoneyDown, 1e-9)
	assert.Equal(t, 2, r.DrawDown.Max.Len)
	assert.Zero(t, r.DrawDown.Percent)
	assert.Equal(t, 25.0, r.MaxDrawdownPct())
}

func TestAnnualReturnsAndSharpe(t *testing.T) {
	a := &AnnualReturnAnalyzer{}
	a.Start(100)
	a.Next(market.Bar{Time: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)}, 105)
	a.Next(market.Bar{Time: time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)}, 110)
	a.Next(market.Bar{Time: time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)}, 132)

	var r Result
	a.Stop(&r)
	require.Len(t, r.Annual, 2)
	assert.Equal(t, 2020, r.Annual[0].Year)
	assert.InDelta(t, 0.1, r.Annual[0].Return, 1e-9)
	assert.InDelta(t, 0.2, r.Annual[1].Return, 1e-9)

	(&SharpeAnalyzer{RiskFreeRate: DefaultRiskFreeRate}).Stop(&r)
	require.NotNil(t, r.Sharpe.Ratio)
	assert.InDelta(t, 2.8, *r.Sharpe.Ratio, 1e-9)

	assert.Nil(t, Sharpe([]AnnualReturn{{Year: 2020, Return: 0.1}}, 0.01))
	assert.Nil(t, Sharpe(nil, 0.01))
}

func TestTradeAnalyzer(t *testing.T) {
	a := &TradeAnalyzer{}
	trades := []Trade{
		{ID: 1, Status: TradeClosed, Long: true, PnL: 12, PnLComm: 10, OpenedBar: 0, ClosedBar: 4},
		{ID: 2, Status: TradeClosed, Long: false, PnL: -3, PnLComm: -5, OpenedBar: 5, ClosedBar: 7},
		{ID: 3, Status: TradeClosed, Long: true, PnL: -1, PnLComm: -2, OpenedBar: 8, ClosedBar: 9},
	}
	for i := range trades {
		open := trades[i]
		open.Status = TradeOpen
		a.NotifyTrade(&open)
		a.NotifyTrade(&trades[i])
	}
	a.NotifyTrade(&Trade{ID: 4, Status: TradeOpen})

	var r Result
	a.Stop(&r)
	s := r.Trades
	require.NotNil(t, s)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 3, s.Closed)
	assert.Equal(t, 1, s.Won.Total)
	assert.Equal(t, 2, s.Lost.Total)
	assert.Equal(t, 2, s.Long.Total)
	assert.Equal(t, 1, s.Short.Lost)
	assert.InDelta(t, 3.0, s.PnL.Net.Total, 1e-9)
	assert.InDelta(t, 8.0, s.PnL.Gross.Total, 1e-9)
	assert.Equal(t, 2, s.Streak.Lost.Longest)
	assert.Equal(t, 4, s.Len.Max)
	assert.Equal(t, 1, s.Len.Min)
}

func TestIndicatorRecorder(t *testing.T) {
	r := &IndicatorRecorder{}
	r.Observe(trend.Snapshot{Ready: false})
	r.Observe("not a snapshot")

	snap := trend.Snapshot{Ready: true, Capital: 10000}
	snap.Fast.Scaled = 4
	snap.Slow.Scaled = -2
	snap.Combined.Scaled = 1
	snap.Target = sizing.Target{Size: 5, Percent: 42, BufferWidth: 1}
	r.Observe(snap)

	snap.Fast.Scaled = 6
	snap.Target.Percent = 30
	r.Observe(snap)

	var result Result
	r.Stop(&result)
	rec := result.Indicators
	require.NotNil(t, rec)
	assert.Len(t, rec.Rows, 2)
	assert.Equal(t, Extremes{Min: 0, Max: 6}, rec.ScaledFast)
	assert.Equal(t, Extremes{Min: -2, Max: 0}, rec.ScaledSlow)
	assert.Equal(t, 42.0, rec.MaxTargetPercent)
}

func newTrendEngine(t *testing.T, config Config, opts ...EngineOption) *Engine {
	t.Helper()
	strat, err := trend.New(trend.DefaultParams())
	require.NoError(t, err)
	engine, err := NewEngine(strat, config, opts...)
	require.NoError(t, err)
	return engine
}

func TestEngineFlatSeriesNeverTrades(t *testing.T) {
	config := DefaultConfig()
	config.RecordIndicators = true
	engine := newTrendEngine(t, config)

	result, err := engine.Run(context.Background(), testutils.FlatBars(400, 100))
	require.NoError(t, err)

	assert.Equal(t, 400, result.Bars)
	assert.Zero(t, result.Orders)
	assert.Zero(t, result.Trades.Total)
	assert.Equal(t, 10000.0, result.FinalValue)
	assert.Zero(t, result.SQNValue())
	assert.Zero(t, result.MaxDrawdownPct())
	assert.Empty(t, result.Margin)
	require.NotNil(t, result.Indicators)
	for _, row := range result.Indicators.Rows {
		assert.Zero(t, row.TargetSize)
	}
}

func TestEngineRisingSeriesGoesLong(t *testing.T) {
	config := DefaultConfig()
	config.Leverage = 100
	log := &orderLog{}
	engine := newTrendEngine(t, config, WithAnalyzer(log))

	result, err := engine.Run(context.Background(), testutils.TrendingBars(400, 100, 1))
	require.NoError(t, err)

	assert.Positive(t, result.Orders)
	assert.Empty(t, result.Margin)
	assert.Positive(t, log.filled())
	assert.Greater(t, result.FinalValue, result.InitialValue)

	// 首笔委托必须在预热完成之后
	require.NotEmpty(t, log.orders)
	warmUp := testutils.BarStart.Add(113 * testutils.BarInterval)
	assert.False(t, log.orders[0].Created.Before(warmUp))
}

func TestEngineLowLeverageHitsMargin(t *testing.T) {
	config := DefaultConfig()
	config.Leverage = 1
	engine := newTrendEngine(t, config)

	result, err := engine.Run(context.Background(), testutils.TrendingBars(400, 100, 1))
	require.NoError(t, err)
	assert.NotEmpty(t, result.Margin)

	scored := optimizer.DefaultConstraints().Score(OutcomeOf(result))
	assert.False(t, scored.Feasible)
	assert.Equal(t, optimizer.ReasonMarginFailure, scored.Reason)
	assert.Zero(t, scored.Objective)
}

func TestEngineRandomWalkStaysSane(t *testing.T) {
	config := DefaultConfig()
	config.Leverage = 100
	engine := newTrendEngine(t, config)

	result, err := engine.Run(context.Background(), testutils.RandomWalkBars(600, 100, 0.02, 7))
	require.NoError(t, err)

	assert.Equal(t, 600, result.Bars)
	assert.False(t, math.IsNaN(result.FinalValue) || math.IsInf(result.FinalValue, 0))
	assert.GreaterOrEqual(t, result.MaxDrawdownPct(), 0.0)
	assert.LessOrEqual(t, result.MaxDrawdownPct(), 100.0)
	assert.Equal(t, result.Trades.Closed+result.Trades.Open, result.Trades.Total)
}

func TestEngineRejectsBadInput(t *testing.T) {
	engine := newTrendEngine(t, DefaultConfig())

	_, err := engine.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMarketDataUnavailable))

	bars := testutils.FlatBars(3, 100)
	bars[2].Time = bars[0].Time
	_, err = engine.Run(context.Background(), bars)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMarketDataInvalid))

	_, err = NewEngine(nil, DefaultConfig())
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Leverage = 0.5
	assert.Error(t, bad.Validate())
}

func TestEngineHonoursCancellation(t *testing.T) {
	engine := newTrendEngine(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, testutils.FlatBars(10, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcomeDrawdownGate(t *testing.T) {
	r := &Result{DrawDown: &DrawDownStats{}, SQN: &SQNStats{SQN: 2.5}}
	r.DrawDown.Max.Percent = 60

	scored := optimizer.DefaultConstraints().Score(OutcomeOf(r))
	assert.Equal(t, optimizer.ReasonExcessiveDrawdown, scored.Reason)
	assert.Zero(t, scored.Objective)

	r.DrawDown.Max.Percent = 40
	scored = optimizer.DefaultConstraints().Score(OutcomeOf(r))
	assert.True(t, scored.Feasible)
	assert.Equal(t, 2.5, scored.Objective)

	// margin failure wins over drawdown
	r.DrawDown.Max.Percent = 60
	r.Margin = []MarginEvent{{Size: 1, Status: OrderStatusMargin}}
	scored = optimizer.DefaultConstraints().Score(OutcomeOf(r))
	assert.Equal(t, optimizer.ReasonMarginFailure, scored.Reason)
}

func TestTrialEvaluator(t *testing.T) {
	eval, err := NewTrialEvaluator(testutils.FlatBars(300, 100), trend.DefaultParams(), DefaultConfig(), optimizer.DefaultConstraints())
	require.NoError(t, err)

	res, err := eval.Evaluate(context.Background(), optimizer.ParameterSet{
		trend.ParamEWMAC1: 3,
		trend.ParamFDM:    1.2,
	})
	require.NoError(t, err)
	assert.True(t, res.Feasible)
	assert.Zero(t, res.Objective)
	assert.Equal(t, 10000.0, res.Diagnostics["final_value"])

	_, err = eval.Evaluate(context.Background(), optimizer.ParameterSet{"bogus": 1})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeParameterInvalid))

	_, err = eval.Evaluate(context.Background(), optimizer.ParameterSet{trend.ParamSigmaPeriod: 0})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeParameterInvalid))

	empty, err := NewTrialEvaluator(nil, trend.DefaultParams(), DefaultConfig(), optimizer.DefaultConstraints())
	require.NoError(t, err)
	_, err = empty.Evaluate(context.Background(), optimizer.ParameterSet{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMarketDataUnavailable))

	bad := DefaultConfig()
	bad.Cash = 0
	_, err = NewTrialEvaluator(testutils.FlatBars(10, 100), trend.DefaultParams(), bad, optimizer.DefaultConstraints())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfig))
}

func TestStudyRecordsFailedTrialsOnMalformedBars(t *testing.T) {
	bars := testutils.TrendingBars(300, 100, 0.5)
	bars[150].Close = math.NaN()

	eval, err := NewTrialEvaluator(bars, trend.DefaultParams(), DefaultConfig(), optimizer.DefaultConstraints())
	require.NoError(t, err)

	_, err = eval.Evaluate(context.Background(), optimizer.ParameterSet{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMarketDataInvalid))

	quiet := logger.NewLogger(logger.Config{Level: logger.LevelError, Format: logger.FormatText, Output: "stderr"})
	study, err := optimizer.NewStudy(optimizer.Config{Name: "malformed", Trials: 4, Workers: 2, Constraints: optimizer.DefaultConstraints()},
		optimizer.DefaultSpace(), optimizer.NewRandomSampler(rand.New(rand.NewSource(1))), eval, optimizer.WithLogger(quiet))
	require.NoError(t, err)

	summary, err := study.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Failed)
	assert.Zero(t, summary.Completed)
	assert.Nil(t, summary.Best)
}
