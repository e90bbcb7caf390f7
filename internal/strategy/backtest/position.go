package backtest

import (
	"math"
	"time"
)

// Position is a signed net holding with its average entry price.
type Position struct {
	Size  float64 `json:"size"`
	Price float64 `json:"price"`
}

// Update applies a fill and returns the realised PnL plus the portion of
// the fill that closed existing exposure and the portion that opened new
// exposure.
func (p *Position) Update(size, price float64) (pnl, closed, opened float64) {
	switch {
	case p.Size == 0:
		opened = size
	case sameSign(p.Size, size):
		// 同向加仓, 更新均价
		opened = size
	case math.Abs(size) <= math.Abs(p.Size):
		closed = size
	default:
		// 反手: 先平掉全部, 剩余部分开新仓
		closed = -p.Size
		opened = size + p.Size
	}

	if closed != 0 {
		// closed has the opposite sign of the holding
		pnl = -closed * (price - p.Price)
		p.Size += closed
		if p.Size == 0 {
			p.Price = 0
		}
	}
	if opened != 0 {
		total := p.Size + opened
		p.Price = (p.Price*p.Size + price*opened) / total
		p.Size = total
	}
	return pnl, closed, opened
}

// Unrealized returns the open PnL at price.
func (p *Position) Unrealized(price float64) float64 {
	return p.Size * (price - p.Price)
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// TradeStatus represents the trade lifecycle state
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is one round trip: opened when the position leaves zero, closed
// when it returns to zero or reverses.
type Trade struct {
	ID         int         `json:"id"`
	Status     TradeStatus `json:"status"`
	Long       bool        `json:"long"`
	Size       float64     `json:"size"`
	Price      float64     `json:"price"`
	OpenedAt   time.Time   `json:"opened_at"`
	ClosedAt   time.Time   `json:"closed_at,omitempty"`
	OpenedBar  int         `json:"opened_bar"`
	ClosedBar  int         `json:"closed_bar,omitempty"`
	PnL        float64     `json:"pnl"`
	PnLComm    float64     `json:"pnl_comm"`
	Commission float64     `json:"commission"`
}

// Bars returns how many bars the trade lasted.
func (t *Trade) Bars() int {
	if t.Status != TradeClosed {
		return 0
	}
	return t.ClosedBar - t.OpenedBar
}
