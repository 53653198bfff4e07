package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements ports.ExchangeClient for Binance USDⓈ-M futures.
type Client struct {
	futuresClient     *futures.Client
	logger            ports.Logger
	quoteAsset        string
	quantityPrecision int32
	now               func() time.Time

	reconnectMin time.Duration
	reconnectMax time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseTestnet        bool
	BaseURL           string // overrides the testnet/production choice
	Logger            ports.Logger
	QuoteAsset        string // balance asset, USDT by default
	QuantityPrecision int32  // decimals kept when formatting order size
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.QuantityPrecision <= 0 {
		cfg.QuantityPrecision = 3
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}

	return &Client{
		futuresClient:     client,
		logger:            cfg.Logger,
		quoteAsset:        cfg.QuoteAsset,
		quantityPrecision: cfg.QuantityPrecision,
		now:               time.Now,
		reconnectMin:      cfg.ReconnectMin,
		reconnectMax:      cfg.ReconnectMax,
	}, nil
}

// handleError translates Binance API errors into ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1000, -1001: // Unknown error / internal disconnect
			mappedErr = ports.ErrExchangeUnavailable
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1007, -1021: // Backend timeout / timestamp outside recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022: // New order rejected / ReduceOnly rejected
			mappedErr = ports.ErrOrderRejected
		case -2011, -2013: // Cancel rejected / order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041, -4047: // Margin or balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015: // Qty, price or leverage out of range
			mappedErr = ports.ErrInvalidRequest
		case -4116: // ClientOrderId is duplicated
			mappedErr = ports.ErrDuplicateOrder
		default:
			mappedErr = &ports.ExchangeError{Code: strconv.FormatInt(apiErr.Code, 10), Message: apiErr.Message}
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.As(err, &netErr),
		strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "EOF"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrNetwork, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// FetchCandles returns the most recent limit candles, oldest first. The bar
// still forming is included with Confirmed=false.
func (c *Client) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	op := "FetchCandles"
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(string(interval)).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return c.translateKlines(ctx, klines, op)
}

// FetchCandlesRange fetches all candles between start and end, paging by the
// exchange limit.
func (c *Client) FetchCandlesRange(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Candle, error) {
	op := "FetchCandlesRange"
	var all []domain.Candle
	const maxLimit = 1500
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(string(interval)).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		candles, err := c.translateKlines(ctx, klines, op)
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)
		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}
	return all, nil
}

// FetchAccount returns the quote-asset wallet balance and the net position.
func (c *Client) FetchAccount(ctx context.Context, symbol string) (ports.AccountSnapshot, error) {
	op := "FetchAccount"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return ports.AccountSnapshot{}, c.handleError(ctx, err, op)
	}

	snap := ports.AccountSnapshot{Position: domain.FlatPosition()}
	for _, bal := range account.Assets {
		if bal.Asset != c.quoteAsset {
			continue
		}
		balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, c.quoteAsset, err)
			return ports.AccountSnapshot{}, c.handleError(ctx, parseErr, op)
		}
		snap.Balance = balance
	}

	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return ports.AccountSnapshot{}, c.handleError(ctx, err, op)
	}
	snap.Position = translatePositions(positions)
	return snap, nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// SubmitOrder places an order tagged with the request's client order ID.
func (c *Client) SubmitOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderReport, error) {
	op := "SubmitOrder"
	qty := decimal.NewFromFloat(req.Size).Truncate(c.quantityPrecision)
	if !qty.IsPositive() {
		return ports.OrderReport{}, fmt.Errorf("%s: size %v below exchange precision: %w", op, req.Size, ports.ErrInvalidRequest)
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(qty.String()).
		NewClientOrderID(req.ClientOrderID)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.Type == domain.OrderTypeLimit && req.Price != nil {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(decimal.NewFromFloat(*req.Price).String())
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return ports.OrderReport{}, c.handleError(ctx, err, op)
	}

	report := translateCreateResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "quantity": qty.String(), "clientOrderId": req.ClientOrderID,
		"orderID": report.ExchangeOrderID, "status": report.Status,
	})
	return report, nil
}

// FetchOrderStatus looks an order up by client order ID.
func (c *Client) FetchOrderStatus(ctx context.Context, symbol, clientOrderID string) (ports.OrderReport, error) {
	op := "FetchOrderStatus"
	order, err := c.futuresClient.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		return ports.OrderReport{}, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// CancelOrder cancels an open order by client order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "clientOrderId": clientOrderID})

	res, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "clientOrderId": clientOrderID, "status": res.Status})
	return nil
}

// --- Translation Helpers ---

func (c *Client) translateKlines(ctx context.Context, klines []*futures.Kline, op string) ([]domain.Candle, error) {
	nowMs := c.now().UnixMilli()
	out := make([]domain.Candle, 0, len(klines))
	for _, bk := range klines {
		candle, err := translateKline(bk, nowMs)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		out = append(out, candle)
	}
	return out, nil
}

func translateKline(bk *futures.Kline, nowMs int64) (domain.Candle, error) {
	if bk == nil {
		return domain.Candle{}, errors.New("received nil kline")
	}
	// Binance sends prices and volume as decimal strings
	var vals [5]float64
	for i, s := range []string{bk.Open, bk.High, bk.Low, bk.Close, bk.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("parsing kline field %d '%s': %w", i, s, err)
		}
		vals[i] = v
	}
	return domain.Candle{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Confirmed: bk.CloseTime < nowMs, // the last kline is still forming until its close time passes
	}, nil
}

// translatePositions nets one-way and hedge-mode rows into a single position.
func translatePositions(rows []*futures.PositionRisk) domain.Position {
	var net, notional float64
	for _, p := range rows {
		if p == nil {
			continue
		}
		// hedge mode reports short legs with a negative amount, so summing nets them
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		net += amt
		notional += amt * entry
	}
	if math.Abs(net) <= domain.SizeEpsilon {
		return domain.FlatPosition()
	}
	pos := domain.Position{Side: domain.SideLong, Size: math.Abs(net), EntryPrice: notional / net}
	if net < 0 {
		pos.Side = domain.SideShort
	}
	return pos
}

func translateStatus(s futures.OrderStatusType) domain.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return domain.OrderSubmitted
	case futures.OrderStatusTypePartiallyFilled:
		return domain.OrderPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return domain.OrderFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return domain.OrderCancelled
	case futures.OrderStatusTypeRejected:
		return domain.OrderFailed
	default:
		// unknown states keep the order live so it is polled again
		return domain.OrderSubmitted
	}
}

func translateCreateResponse(order *futures.CreateOrderResponse) ports.OrderReport {
	if order == nil {
		return ports.OrderReport{}
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	return ports.OrderReport{
		ExchangeOrderID: strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:   order.ClientOrderID,
		Status:          translateStatus(order.Status),
		FilledSize:      execQty,
		AvgFillPrice:    avgPrice,
		UpdatedAt:       msTime(order.UpdateTime),
	}
}

func translateOrder(order *futures.Order) ports.OrderReport {
	if order == nil {
		return ports.OrderReport{}
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	return ports.OrderReport{
		ExchangeOrderID: strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:   order.ClientOrderID,
		Status:          translateStatus(order.Status),
		FilledSize:      execQty,
		AvgFillPrice:    avgPrice,
		UpdatedAt:       msTime(order.UpdateTime),
	}
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
