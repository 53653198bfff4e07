package domain

import "time"

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle stage of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderFailed          OrderStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderFailed
}

// OrderPurpose says whether an order opens or reduces the position.
type OrderPurpose string

const (
	PurposeOpen  OrderPurpose = "open"
	PurposeClose OrderPurpose = "close"
)

// Order is an order created by the engine.
type Order struct {
	ID              string // engine id
	ClientOrderID   string // idempotency key sent to the exchange
	ExchangeOrderID string
	Side            OrderSide
	Type            OrderType
	Size            float64
	Price           *float64 // limit orders only
	Status          OrderStatus
	FilledSize      float64
	AvgFillPrice    float64
	Purpose         OrderPurpose
	SubmittedAt     time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the order reached a final status.
func (o Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Copy returns a deep copy.
func (o Order) Copy() Order {
	if o.Price != nil {
		o.Price = Float(*o.Price)
	}
	return o
}

// Phase is the state of the position/order state machine.
type Phase string

const (
	PhaseFlat    Phase = "flat"
	PhaseOpening Phase = "opening"
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
	PhaseFailed  Phase = "failed"
)
