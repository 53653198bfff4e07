// Package paper simulates order execution against live market data.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// MarketData is the part of a real exchange client the simulator reads prices from.
type MarketData interface {
	FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error)
}

// Config for the paper exchange.
type Config struct {
	Market         MarketData
	Logger         ports.Logger
	InitialBalance float64
	// FeeRate is charged on the notional of every fill, e.g. 0.0005 for 5 bps.
	FeeRate float64
	Now     func() time.Time
}

type paperOrder struct {
	req    ports.OrderRequest
	report ports.OrderReport
}

// Exchange implements ports.ExchangeClient. Market orders fill at the last
// seen close; limit orders fill once a later close crosses their price.
type Exchange struct {
	market  MarketData
	logger  ports.Logger
	feeRate decimal.Decimal
	now     func() time.Time

	mu        sync.Mutex
	balance   decimal.Decimal // realized cash, fees deducted
	pos       domain.Position
	lastPrice float64
	orders    map[string]*paperOrder
	seq       int64
	leverage  map[string]int
}

var _ ports.ExchangeClient = (*Exchange)(nil)

// New creates a paper exchange.
func New(cfg Config) (*Exchange, error) {
	if cfg.Market == nil {
		return nil, fmt.Errorf("paper exchange needs a market data source: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper exchange")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Exchange{
		market:  cfg.Market,
		logger:  cfg.Logger,
		feeRate: decimal.NewFromFloat(cfg.FeeRate),
		now:     cfg.Now,
		balance: decimal.NewFromFloat(cfg.InitialBalance),
		pos:     domain.FlatPosition(),
		orders:   make(map[string]*paperOrder),
		leverage: make(map[string]int),
	}, nil
}

// FetchCandles delegates to the market source and marks the book at the newest close.
func (e *Exchange) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	candles, err := e.market.FetchCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		e.mu.Lock()
		e.lastPrice = candles[len(candles)-1].Close
		e.matchLimits(ctx)
		e.mu.Unlock()
	}
	return candles, nil
}

// FetchAccount reports equity (cash plus unrealized PnL) and the simulated position.
func (e *Exchange) FetchAccount(ctx context.Context, symbol string) (ports.AccountSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.pos.MarkToMarket(e.lastPrice)
	equity := e.balance.Add(decimal.NewFromFloat(pos.UnrealizedPnL))
	return ports.AccountSnapshot{Balance: equity.InexactFloat64(), Position: pos}, nil
}

// SubmitOrder records the order and fills it if it is marketable.
func (e *Exchange) SubmitOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.orders[req.ClientOrderID]; dup {
		return ports.OrderReport{}, fmt.Errorf("paper order %s: %w", req.ClientOrderID, ports.ErrDuplicateOrder)
	}
	if req.Size <= 0 {
		return ports.OrderReport{}, fmt.Errorf("paper order size %v: %w", req.Size, ports.ErrInvalidRequest)
	}
	if req.Type == domain.OrderTypeLimit && req.Price == nil {
		return ports.OrderReport{}, fmt.Errorf("limit order without price: %w", ports.ErrInvalidRequest)
	}
	if e.lastPrice <= 0 {
		return ports.OrderReport{}, fmt.Errorf("paper exchange has no price yet: %w", ports.ErrExchangeUnavailable)
	}
	if req.ReduceOnly && !e.reduces(req.Side) {
		return ports.OrderReport{}, fmt.Errorf("reduce-only order would increase position: %w", ports.ErrOrderRejected)
	}

	e.seq++
	o := &paperOrder{
		req: req,
		report: ports.OrderReport{
			ExchangeOrderID: fmt.Sprintf("paper-%d", e.seq),
			ClientOrderID:   req.ClientOrderID,
			Status:          domain.OrderSubmitted,
			UpdatedAt:       e.now().UTC(),
		},
	}
	e.orders[req.ClientOrderID] = o

	if req.Type != domain.OrderTypeLimit || crosses(req.Side, *req.Price, e.lastPrice) {
		e.fill(ctx, o, e.lastPrice)
	}
	return o.report, nil
}

// FetchOrderStatus returns the simulated order state.
func (e *Exchange) FetchOrderStatus(ctx context.Context, symbol, clientOrderID string) (ports.OrderReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[clientOrderID]
	if !ok {
		return ports.OrderReport{}, fmt.Errorf("paper order %s: %w", clientOrderID, ports.ErrOrderNotFound)
	}
	return o.report, nil
}

// CancelOrder cancels a resting limit order.
func (e *Exchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[clientOrderID]
	if !ok || o.report.Status.IsTerminal() {
		return fmt.Errorf("paper order %s: %w", clientOrderID, ports.ErrOrderNotFound)
	}
	o.report.Status = domain.OrderCancelled
	o.report.UpdatedAt = e.now().UTC()
	return nil
}

// SetLeverage records the setting. Simulated fills are not margined, so it
// only shows up in Leverage.
func (e *Exchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > domain.MaxLeverage {
		return fmt.Errorf("paper leverage %d: %w", leverage, ports.ErrInvalidRequest)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[symbol] = leverage
	e.logger.Info(ctx, "Paper leverage set", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// Leverage returns the last leverage set for symbol, 1 if none was.
func (e *Exchange) Leverage(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.leverage[symbol]; ok {
		return l
	}
	return 1
}

// Balance returns realized cash.
func (e *Exchange) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance.InexactFloat64()
}

func (e *Exchange) reduces(side domain.OrderSide) bool {
	return !e.pos.IsFlat() && side == e.pos.Side.ClosingOrderSide()
}

func crosses(side domain.OrderSide, limit, last float64) bool {
	if side == domain.Buy {
		return last <= limit
	}
	return last >= limit
}

func (e *Exchange) matchLimits(ctx context.Context) {
	for _, o := range e.orders {
		if o.report.Status.IsTerminal() || o.req.Type != domain.OrderTypeLimit {
			continue
		}
		if crosses(o.req.Side, *o.req.Price, e.lastPrice) {
			e.fill(ctx, o, *o.req.Price)
		}
	}
}

// fill executes o at price, netting against the open position.
func (e *Exchange) fill(ctx context.Context, o *paperOrder, price float64) {
	size := decimal.NewFromFloat(o.req.Size)
	if o.req.ReduceOnly {
		if !e.reduces(o.req.Side) {
			o.report.Status = domain.OrderCancelled
			o.report.UpdatedAt = e.now().UTC()
			return
		}
		size = decimal.Min(size, decimal.NewFromFloat(e.pos.Size))
	}
	px := decimal.NewFromFloat(price)

	held := decimal.NewFromFloat(e.pos.Size)
	if e.pos.Side == domain.SideShort {
		held = held.Neg()
	}
	delta := size
	if o.req.Side == domain.Sell {
		delta = delta.Neg()
	}
	entry := decimal.NewFromFloat(e.pos.EntryPrice)
	next := held.Add(delta)

	switch {
	case held.IsZero() || held.Sign() == delta.Sign():
		// adding to (or opening) the position: volume-weighted entry
		entry = held.Abs().Mul(entry).Add(delta.Abs().Mul(px)).Div(next.Abs())
	default:
		closed := decimal.Min(held.Abs(), delta.Abs())
		realized := px.Sub(entry).Mul(closed)
		if held.IsNegative() {
			realized = realized.Neg()
		}
		e.balance = e.balance.Add(realized)
		if next.Sign() != 0 && next.Sign() != held.Sign() {
			entry = px
		}
	}
	e.balance = e.balance.Sub(px.Mul(size).Mul(e.feeRate))

	switch next.Sign() {
	case 0:
		e.pos = domain.FlatPosition()
	case 1:
		e.pos = domain.Position{Side: domain.SideLong, Size: next.InexactFloat64(), EntryPrice: entry.InexactFloat64()}
	default:
		e.pos = domain.Position{Side: domain.SideShort, Size: next.Abs().InexactFloat64(), EntryPrice: entry.InexactFloat64()}
	}

	o.report.Status = domain.OrderFilled
	o.report.FilledSize = size.InexactFloat64()
	o.report.AvgFillPrice = price
	o.report.UpdatedAt = e.now().UTC()
	e.logger.Info(ctx, "Paper fill", map[string]interface{}{
		"clientOrderId": o.req.ClientOrderID, "side": o.req.Side, "size": size.String(), "price": price,
		"position": e.pos.Side, "positionSize": e.pos.Size, "balance": e.balance.String(),
	})
}
