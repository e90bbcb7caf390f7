package sizing

import "math"

// State is the position state of the rebalancer.
type State string

const (
	StateFlat       State = "flat"
	StateInPosition State = "in_position"
)

// StateOf classifies a current holding.
func StateOf(current float64) State {
	if current == 0 {
		return StateFlat
	}
	return StateInPosition
}

// TradeIntent represents a rebalance decision
type TradeIntent struct {
	TargetSize  float64 `json:"target_size"`
	CurrentSize float64 `json:"current_size"`
	Issued      bool    `json:"issued"`
	From        State   `json:"from"`
}

// Delta is the quantity an issued order would trade.
func (t TradeIntent) Delta() float64 {
	return t.TargetSize - t.CurrentSize
}

// Decide applies the no-trade buffer. From Flat any non-zero target is
// entered regardless of the buffer; otherwise an order is issued only when
// the gap strictly exceeds the buffer width.
func Decide(target Target, current float64) TradeIntent {
	intent := TradeIntent{
		TargetSize:  target.Size,
		CurrentSize: current,
		From:        StateOf(current),
	}

	switch intent.From {
	case StateFlat:
		intent.Issued = target.Size != 0
	default:
		intent.Issued = math.Abs(target.Size-current) > target.BufferWidth
	}
	return intent
}
