package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Side is the direction of the account position.
type Side string

const (
	SideNone  Side = "none"
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other trading direction. SideNone maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

// OpeningOrderSide is the order side that opens (or adds to) a position in this direction.
func (s Side) OpeningOrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// ClosingOrderSide is the order side that reduces a position in this direction.
func (s Side) ClosingOrderSide() OrderSide {
	if s == SideShort {
		return Buy
	}
	return Sell
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonStrategy   CloseReason = "STRATEGY"
	CloseReasonReversal   CloseReason = "REVERSAL"
	CloseReasonReconciled CloseReason = "RECONCILED" // position vanished on the exchange
	CloseReasonUnknown    CloseReason = "Unknown"
)
