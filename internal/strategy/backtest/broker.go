package backtest

import (
	"math"
	"time"

	"trendlab/internal/market"
)

// Notifier receives order and trade updates from the broker.
type Notifier interface {
	NotifyOrder(order *Order)
	NotifyTrade(trade *Trade)
}

// Broker simulates a leveraged margin account for one instrument. Market
// orders submitted on a bar are filled at the next bar's open.
type Broker struct {
	config    Config
	fee       FeeModel
	slippage  SlippageModel
	notifiers []Notifier

	cash     float64
	position Position
	mark     float64
	pending  []*Order
	orders   int
	trade    *Trade
	trades   int
	bar      int
	now      time.Time
}

// NewBroker creates a new broker
func NewBroker(config Config) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var slippage SlippageModel = NoSlippage{}
	if config.SlipOpen && config.Slippage > 0 {
		slippage = PercentSlippage{Perc: config.Slippage}
	}

	return &Broker{
		config:   config,
		fee:      PercentFee{Rate: config.Commission},
		slippage: slippage,
		cash:     config.Cash,
	}, nil
}

// Subscribe registers a notifier.
func (b *Broker) Subscribe(n Notifier) {
	b.notifiers = append(b.notifiers, n)
}

// Cash returns the account cash.
func (b *Broker) Cash() float64 { return b.cash }

// Value returns cash plus open PnL at the last mark price.
func (b *Broker) Value() float64 {
	return b.cash + b.position.Unrealized(b.mark)
}

// Position returns the signed size held.
func (b *Broker) Position() float64 { return b.position.Size }

// OpenTrade returns the trade currently open, if any.
func (b *Broker) OpenTrade() *Trade { return b.trade }

// OrderTarget submits a market order moving the position to target. It
// returns nil when the position is already at target.
func (b *Broker) OrderTarget(target float64) *Order {
	delta := target - b.position.Size
	if delta == 0 {
		return nil
	}

	b.orders++
	order := &Order{
		ID:      b.orders,
		Created: b.now,
		Size:    delta,
		Status:  OrderStatusSubmitted,
	}
	b.pending = append(b.pending, order)
	b.notifyOrder(order)
	return order
}

// Next advances the broker to bar: pending orders fill at its open, then
// the account is marked at its close.
func (b *Broker) Next(bar market.Bar, index int) {
	b.bar = index
	b.now = bar.Time

	pending := b.pending
	b.pending = nil
	for _, order := range pending {
		b.execute(order, bar)
	}

	b.mark = bar.Close
}

func (b *Broker) execute(order *Order, bar market.Bar) {
	price := matchRange(b.slippage.Apply(bar.Open, order.Side()), bar)
	commission := b.fee.Commission(order.Size, price)
	newSize := b.position.Size + order.Size

	// 仅在敞口增加时检查保证金, 减仓总是允许
	if math.Abs(newSize) > math.Abs(b.position.Size) || !sameSignOrZero(newSize, b.position.Size) {
		equity := b.cash + b.position.Unrealized(price)
		required := math.Abs(newSize)*price/b.config.Leverage + commission
		if required > equity {
			order.Status = OrderStatusMargin
			b.notifyOrder(order)
			return
		}
	}

	pnl, closed, opened := b.position.Update(order.Size, price)
	b.cash += pnl - commission

	order.Status = OrderStatusCompleted
	order.Executed = bar.Time
	order.Price = price
	order.Commission = commission
	b.notifyOrder(order)

	b.trackTrade(order, pnl, closed, opened, commission, bar.Time)
}

func (b *Broker) trackTrade(order *Order, pnl, closed, opened, commission float64, at time.Time) {
	closedComm := commission * math.Abs(closed) / math.Abs(order.Size)
	openedComm := commission - closedComm

	if closed != 0 && b.trade != nil {
		b.trade.PnL += pnl
		b.trade.Commission += closedComm
		b.trade.Size = b.position.Size
		if b.position.Size == 0 || opened != 0 {
			b.trade.Size = 0
			b.trade.Status = TradeClosed
			b.trade.ClosedAt = at
			b.trade.ClosedBar = b.bar
			b.trade.PnLComm = b.trade.PnL - b.trade.Commission
			b.notifyTrade(b.trade)
			b.trade = nil
		}
	}

	if opened != 0 {
		created := b.trade == nil
		if created {
			b.trades++
			b.trade = &Trade{
				ID:        b.trades,
				Status:    TradeOpen,
				Long:      opened > 0,
				OpenedAt:  at,
				OpenedBar: b.bar,
			}
		}
		b.trade.Commission += openedComm
		b.trade.Size = b.position.Size
		b.trade.Price = b.position.Price
		b.trade.PnLComm = b.trade.PnL - b.trade.Commission
		if created {
			b.notifyTrade(b.trade)
		}
	}
}

func sameSignOrZero(a, b float64) bool {
	return a == 0 || b == 0 || sameSign(a, b)
}

func (b *Broker) notifyOrder(order *Order) {
	for _, n := range b.notifiers {
		n.NotifyOrder(order)
	}
}

func (b *Broker) notifyTrade(trade *Trade) {
	for _, n := range b.notifiers {
		n.NotifyTrade(trade)
	}
}

// matchRange keeps a slipped fill inside the bar's traded range.
func matchRange(price float64, bar market.Bar) float64 {
	if bar.High > 0 && price > bar.High {
		return bar.High
	}
	if price < bar.Low {
		return bar.Low
	}
	return price
}
