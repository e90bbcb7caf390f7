package backtest

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"trendlab/internal/market"
	"trendlab/internal/strategy/trend"
)

// Analyzer observes a run and writes its section of the result.
type Analyzer interface {
	Notifier
	Start(cash float64)
	Next(bar market.Bar, value float64)
	Stop(result *Result)
}

type baseAnalyzer struct{}

func (baseAnalyzer) Start(float64)            {}
func (baseAnalyzer) NotifyOrder(*Order)       {}
func (baseAnalyzer) NotifyTrade(*Trade)       {}
func (baseAnalyzer) Next(market.Bar, float64) {}

// SQNStats represents the system quality number
type SQNStats struct {
	SQN    float64 `json:"sqn"`
	Trades int     `json:"trades"`
}

// SQNAnalyzer computes sqrt(n)·mean/std over closed trade net PnL. With
// fewer than two trades, or no dispersion, the SQN is 0.
type SQNAnalyzer struct {
	baseAnalyzer
	pnl []float64
}

func (a *SQNAnalyzer) NotifyTrade(t *Trade) {
	if t.Status == TradeClosed {
		a.pnl = append(a.pnl, t.PnLComm)
	}
}

func (a *SQNAnalyzer) Stop(r *Result) {
	r.SQN = &SQNStats{SQN: SQN(a.pnl), Trades: len(a.pnl)}
}

// SQN computes the system quality number of a PnL series.
func SQN(pnl []float64) float64 {
	n := len(pnl)
	if n < 2 {
		return 0
	}
	mean, variance := stat.PopMeanVariance(pnl, nil)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(float64(n)) * mean / math.Sqrt(variance)
}

// DrawDownStats represents drawdown statistics. Percent is 0-100.
type DrawDownStats struct {
	Len       int     `json:"len"`
	Percent   float64 `json:"drawdown"`
	MoneyDown float64 `json:"moneydown"`
	Max       struct {
		Len       int     `json:"len"`
		Percent   float64 `json:"drawdown"`
		MoneyDown float64 `json:"moneydown"`
	} `json:"max"`
}

// DrawDownAnalyzer tracks the decline from the running peak value.
type DrawDownAnalyzer struct {
	baseAnalyzer
	peak  float64
	stats DrawDownStats
}

func (a *DrawDownAnalyzer) Start(cash float64) {
	a.peak = cash
}

func (a *DrawDownAnalyzer) Next(_ market.Bar, value float64) {
	if value > a.peak {
		a.peak = value
	}

	s := &a.stats
	s.MoneyDown = a.peak - value
	s.Percent = 0
	if a.peak > 0 {
		s.Percent = 100 * s.MoneyDown / a.peak
	}
	if s.Percent > 0 {
		s.Len++
	} else {
		s.Len = 0
	}

	s.Max.MoneyDown = math.Max(s.Max.MoneyDown, s.MoneyDown)
	s.Max.Percent = math.Max(s.Max.Percent, s.Percent)
	if s.Len > s.Max.Len {
		s.Max.Len = s.Len
	}
}

func (a *DrawDownAnalyzer) Stop(r *Result) {
	stats := a.stats
	r.DrawDown = &stats
}

// TradeStats represents the trade analyzer output
type TradeStats struct {
	Total  int         `json:"total"`
	Open   int         `json:"open"`
	Closed int         `json:"closed"`
	Won    TradeBucket `json:"won"`
	Lost   TradeBucket `json:"lost"`
	Long   SideStats   `json:"long"`
	Short  SideStats   `json:"short"`
	PnL    struct {
		Gross Sum `json:"gross"`
		Net   Sum `json:"net"`
	} `json:"pnl"`
	Streak struct {
		Won  Streak `json:"won"`
		Lost Streak `json:"lost"`
	} `json:"streak"`
	Len struct {
		Total   int     `json:"total"`
		Average float64 `json:"average"`
		Max     int     `json:"max"`
		Min     int     `json:"min"`
	} `json:"len"`
}

// Sum is a total with its average.
type Sum struct {
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
}

// TradeBucket aggregates won or lost trades.
type TradeBucket struct {
	Total int     `json:"total"`
	PnL   Sum     `json:"pnl"`
	Max   float64 `json:"max"`
}

// SideStats counts trades per direction.
type SideStats struct {
	Total int `json:"total"`
	Won   int `json:"won"`
	Lost  int `json:"lost"`
}

// Streak tracks consecutive outcomes.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// TradeAnalyzer aggregates closed trades.
type TradeAnalyzer struct {
	baseAnalyzer
	stats TradeStats
	open  map[int]bool
}

func (a *TradeAnalyzer) NotifyTrade(t *Trade) {
	if a.open == nil {
		a.open = make(map[int]bool)
	}
	s := &a.stats

	if t.Status == TradeOpen {
		if !a.open[t.ID] {
			a.open[t.ID] = true
			s.Total++
			s.Open++
		}
		return
	}

	delete(a.open, t.ID)
	s.Open--
	s.Closed++

	s.PnL.Gross.Total += t.PnL
	s.PnL.Net.Total += t.PnLComm
	s.PnL.Gross.Average = s.PnL.Gross.Total / float64(s.Closed)
	s.PnL.Net.Average = s.PnL.Net.Total / float64(s.Closed)

	won := t.PnLComm >= 0
	bucket, side := &s.Lost, &s.Short
	if won {
		bucket = &s.Won
	}
	if t.Long {
		side = &s.Long
	}
	bucket.Total++
	bucket.PnL.Total += t.PnLComm
	bucket.PnL.Average = bucket.PnL.Total / float64(bucket.Total)
	if math.Abs(t.PnLComm) > math.Abs(bucket.Max) {
		bucket.Max = t.PnLComm
	}
	side.Total++
	if won {
		side.Won++
		s.Streak.Won.Current++
		s.Streak.Lost.Current = 0
	} else {
		side.Lost++
		s.Streak.Lost.Current++
		s.Streak.Won.Current = 0
	}
	if s.Streak.Won.Current > s.Streak.Won.Longest {
		s.Streak.Won.Longest = s.Streak.Won.Current
	}
	if s.Streak.Lost.Current > s.Streak.Lost.Longest {
		s.Streak.Lost.Longest = s.Streak.Lost.Current
	}

	bars := t.Bars()
	s.Len.Total += bars
	s.Len.Average = float64(s.Len.Total) / float64(s.Closed)
	if bars > s.Len.Max {
		s.Len.Max = bars
	}
	if s.Closed == 1 || bars < s.Len.Min {
		s.Len.Min = bars
	}
}

func (a *TradeAnalyzer) Stop(r *Result) {
	stats := a.stats
	r.Trades = &stats
}

// AnnualReturn is the return of one calendar year.
type AnnualReturn struct {
	Year   int     `json:"year"`
	Return float64 `json:"return"`
}

// AnnualReturnAnalyzer compares the value at each year end with the
// previous year end (the starting cash for the first year).
type AnnualReturnAnalyzer struct {
	baseAnalyzer
	start   float64
	year    int
	last    float64
	returns []AnnualReturn
}

func (a *AnnualReturnAnalyzer) Start(cash float64) {
	a.start = cash
}

func (a *AnnualReturnAnalyzer) Next(bar market.Bar, value float64) {
	year := bar.Time.Year()
	if a.year != 0 && year != a.year {
		a.close()
	}
	a.year = year
	a.last = value
}

func (a *AnnualReturnAnalyzer) close() {
	ret := 0.0
	if a.start != 0 {
		ret = a.last/a.start - 1
	}
	a.returns = append(a.returns, AnnualReturn{Year: a.year, Return: ret})
	a.start = a.last
}

func (a *AnnualReturnAnalyzer) Stop(r *Result) {
	if a.year != 0 {
		a.close()
		a.year = 0
	}
	sort.Slice(a.returns, func(i, j int) bool { return a.returns[i].Year < a.returns[j].Year })
	r.Annual = append([]AnnualReturn(nil), a.returns...)
}

// SharpeStats represents the annual Sharpe ratio. Ratio is nil when the
// annual returns have no dispersion.
type SharpeStats struct {
	Ratio        *float64 `json:"sharperatio"`
	RiskFreeRate float64  `json:"riskfreerate"`
}

// DefaultRiskFreeRate is the annual risk-free rate used for Sharpe.
const DefaultRiskFreeRate = 0.01

// SharpeAnalyzer derives the Sharpe ratio from the annual returns.
type SharpeAnalyzer struct {
	baseAnalyzer
	RiskFreeRate float64
}

func (a *SharpeAnalyzer) Stop(r *Result) {
	r.Sharpe = &SharpeStats{
		Ratio:        Sharpe(r.Annual, a.RiskFreeRate),
		RiskFreeRate: a.RiskFreeRate,
	}
}

// Sharpe computes mean excess return over its population deviation.
func Sharpe(annual []AnnualReturn, riskFree float64) *float64 {
	if len(annual) == 0 {
		return nil
	}
	excess := make([]float64, len(annual))
	for i, a := range annual {
		excess[i] = a.Return - riskFree
	}
	mean, variance := stat.PopMeanVariance(excess, nil)
	if variance <= 0 {
		return nil
	}
	ratio := mean / math.Sqrt(variance)
	return &ratio
}

// MarginEvent records an order rejected for insufficient margin.
type MarginEvent struct {
	Time   time.Time   `json:"datetime"`
	Size   float64     `json:"size"`
	Status OrderStatus `json:"status"`
}

// MarginAnalyzer records margin rejections.
type MarginAnalyzer struct {
	baseAnalyzer
	events []MarginEvent
}

func (a *MarginAnalyzer) NotifyOrder(o *Order) {
	if o.Status == OrderStatusMargin {
		a.events = append(a.events, MarginEvent{Time: o.Created, Size: o.Size, Status: o.Status})
	}
}

func (a *MarginAnalyzer) Stop(r *Result) {
	r.Margin = append([]MarginEvent(nil), a.events...)
}

// IndicatorRow is one bar of recorded indicator state.
type IndicatorRow struct {
	Time           time.Time `json:"time"`
	SigmaP         float64   `json:"sigma_p"`
	SigmaT         float64   `json:"sigma_t"`
	ScaledFast     float64   `json:"scaled_fast"`
	ScaledSlow     float64   `json:"scaled_slow"`
	ScaledCombined float64   `json:"scaled_combined"`
	Capital        float64   `json:"capital"`
	TargetSize     float64   `json:"target_size"`
	TargetPercent  float64   `json:"target_percent"`
	BufferWidth    float64   `json:"buffer_width"`
}

// Extremes tracks running bounds starting from zero.
type Extremes struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (e *Extremes) observe(v float64) {
	e.Min = math.Min(e.Min, v)
	e.Max = math.Max(e.Max, v)
}

// IndicatorRecord is the indicator log with running extremes.
type IndicatorRecord struct {
	Rows             []IndicatorRow `json:"rows"`
	ScaledFast       Extremes       `json:"scaled_fast"`
	ScaledSlow       Extremes       `json:"scaled_slow"`
	ScaledCombined   Extremes       `json:"scaled_combined"`
	MaxTargetPercent float64        `json:"max_target_percent"`
}

// IndicatorRecorder logs the strategy's snapshots once it is warmed up.
type IndicatorRecorder struct {
	baseAnalyzer
	record IndicatorRecord
}

// Observe implements strategy.Observer.
func (a *IndicatorRecorder) Observe(snapshot interface{}) {
	snap, ok := snapshot.(trend.Snapshot)
	if !ok || !snap.Ready {
		return
	}

	row := IndicatorRow{
		Time:           snap.Time,
		SigmaP:         snap.Volatility.Price.Value,
		SigmaT:         snap.Volatility.Instrument.Value,
		ScaledFast:     snap.Fast.Scaled,
		ScaledSlow:     snap.Slow.Scaled,
		ScaledCombined: snap.Combined.Scaled,
		Capital:        snap.Capital,
		TargetSize:     snap.Target.Size,
		TargetPercent:  snap.Target.Percent,
		BufferWidth:    snap.Target.BufferWidth,
	}
	a.record.Rows = append(a.record.Rows, row)
	a.record.ScaledFast.observe(row.ScaledFast)
	a.record.ScaledSlow.observe(row.ScaledSlow)
	a.record.ScaledCombined.observe(row.ScaledCombined)
	a.record.MaxTargetPercent = math.Max(a.record.MaxTargetPercent, row.TargetPercent)
}

func (a *IndicatorRecorder) Stop(r *Result) {
	record := a.record
	r.Indicators = &record
}
