package domain

import "time"

// EventKind classifies engine events.
type EventKind string

const (
	EventPriceUpdate     EventKind = "price_update"
	EventIndicatorUpdate EventKind = "indicator_update"
	EventPositionChanged EventKind = "position_changed"
	EventOrder           EventKind = "order_event"
	EventError           EventKind = "error"
	EventLog             EventKind = "log"
)

// EngineEvent is one broadcast notification. Seq is strictly increasing per bus.
type EngineEvent struct {
	Seq     uint64
	Kind    EventKind
	Time    time.Time
	Payload any
}

// PriceUpdate is the payload of EventPriceUpdate.
type PriceUpdate struct {
	Symbol string
	Price  float64
	Source string // "cycle" or "stream"
}

// IndicatorUpdate is the payload of EventIndicatorUpdate.
type IndicatorUpdate struct {
	Cycle      int64
	Indicators IndicatorSnapshot
}

// PositionChanged is the payload of EventPositionChanged.
type PositionChanged struct {
	Previous Position
	Current  Position
	Reason   string
}

// OrderEvent is the payload of EventOrder.
type OrderEvent struct {
	Order Order
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Message string
	Class   string
	Fatal   bool
	Attempt int // submit attempt number, 0 when not a retry
}

// LogRecord is the payload of EventLog.
type LogRecord struct {
	Level   string
	Message string
	Error   string
	Fields  map[string]interface{}
}

// PriceTick is a streamed last-trade price.
type PriceTick struct {
	Symbol string
	Price  float64
	Time   time.Time
}
