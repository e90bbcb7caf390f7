package backtest

import (
	"math"
	"time"
)

// OrderStatus represents the order lifecycle state
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "Submitted"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusMargin    OrderStatus = "Margin"
	OrderStatusRejected  OrderStatus = "Rejected"
)

// OrderSide represents the order side
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a market order for a signed quantity.
type Order struct {
	ID         int         `json:"id"`
	Created    time.Time   `json:"created"`
	Size       float64     `json:"size"`
	Status     OrderStatus `json:"status"`
	Executed   time.Time   `json:"executed,omitempty"`
	Price      float64     `json:"price,omitempty"`
	Commission float64     `json:"commission,omitempty"`
}

// Side returns the side implied by the signed size.
func (o *Order) Side() OrderSide {
	if o.Size < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// SlippageModel defines the interface for slippage models
type SlippageModel interface {
	Apply(price float64, side OrderSide) float64
}

// FeeModel defines the interface for fee models
type FeeModel interface {
	Commission(size, price float64) float64
}

// PercentSlippage moves the fill price against the order by a fraction.
type PercentSlippage struct {
	Perc float64
}

// Apply applies the slippage
func (m PercentSlippage) Apply(price float64, side OrderSide) float64 {
	if side == OrderSideBuy {
		return price * (1 + m.Perc)
	}
	return price * (1 - m.Perc)
}

// NoSlippage fills at the quoted price.
type NoSlippage struct{}

// Apply returns price unchanged.
func (NoSlippage) Apply(price float64, _ OrderSide) float64 { return price }

// PercentFee charges a fraction of traded notional.
type PercentFee struct {
	Rate float64
}

// Commission computes the commission
func (m PercentFee) Commission(size, price float64) float64 {
	return math.Abs(size) * price * m.Rate
}
