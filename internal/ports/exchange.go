package ports

import (
	"context"
	"time"

	"autotrader/internal/domain"
)

// AccountSnapshot is the exchange view of the account for one symbol.
type AccountSnapshot struct {
	Balance  float64 // quote currency equity
	Position domain.Position
}

// OrderRequest is what the engine asks the exchange to execute.
type OrderRequest struct {
	Symbol        string
	ClientOrderID string
	Side          domain.OrderSide
	Type          domain.OrderType
	Size          float64
	Price         *float64
	ReduceOnly    bool
}

// OrderReport is the exchange view of one order.
type OrderReport struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          domain.OrderStatus
	FilledSize      float64
	AvgFillPrice    float64
	UpdatedAt       time.Time
}

// ExchangeClient defines the interface for interacting with a cryptocurrency exchange.
// Orders are addressed by client order id so a retried submit can be looked up
// even when the first response was lost.
type ExchangeClient interface {
	// FetchCandles returns up to limit candles, oldest first. The last one may be unconfirmed.
	FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error)

	// FetchAccount returns the balance and the net position for symbol.
	FetchAccount(ctx context.Context, symbol string) (AccountSnapshot, error)

	// SubmitOrder places an order. Resubmitting the same ClientOrderID must not create a
	// second order; adapters return ErrDuplicateOrder in that case.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderReport, error)

	// FetchOrderStatus looks an order up by its client order id.
	FetchOrderStatus(ctx context.Context, symbol, clientOrderID string) (OrderReport, error)

	// CancelOrder cancels an open order by its client order id.
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error

	// SetLeverage sets the leverage used for new positions on symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// PriceStreamer is implemented by adapters that can push live prices between cycles.
type PriceStreamer interface {
	StreamPrices(ctx context.Context, symbol string) (<-chan domain.PriceTick, error)
}
