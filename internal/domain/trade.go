package domain

import "time"

// Trade represents a completed round trip (or the closed part of one).
type Trade struct {
	ID          int64       // Unique identifier for the trade (usually from DB)
	Symbol      string      // Trading symbol (e.g., "BTC-USDT-SWAP")
	Side        Side        // Direction of the closed position
	EntryPrice  float64     // Price at which the position was entered
	ExitPrice   float64     // Price at which the position was exited
	Size        float64     // Size closed by this trade
	PNL         float64     // Realized profit and loss
	EntryTime   time.Time   // Timestamp when the position was entered
	ExitTime    time.Time   // Timestamp when the position was exited
	CloseReason CloseReason // Reason why the position was closed (SL, TP, etc.)
}

// Credentials are the exchange API secrets.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Empty reports whether no key material is present.
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.SecretKey == ""
}
