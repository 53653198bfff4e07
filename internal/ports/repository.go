package ports

import (
	"context"

	"autotrader/internal/domain"
)

// Journal records the order and trade history. Writes are best-effort from the
// engine's point of view.
type Journal interface {
	// RecordOrder inserts or updates an order keyed by its client order id.
	RecordOrder(ctx context.Context, symbol string, order domain.Order) error
	// RecordTrade saves a completed trade and returns its assigned ID.
	RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// ListTrades returns the most recent trades for symbol, newest first.
	ListTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
}

// ParameterStore persists trade parameters between runs.
type ParameterStore interface {
	// Load returns ErrNotFound when nothing has been saved yet.
	Load(ctx context.Context) (domain.TradeParameters, error)
	Save(ctx context.Context, params domain.TradeParameters) error
}

// CredentialProvider supplies decrypted exchange credentials at startup.
type CredentialProvider interface {
	Load(ctx context.Context) (domain.Credentials, error)
}
