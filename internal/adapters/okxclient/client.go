package okxclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

const (
	baseURLProduction = "https://www.okx.com"
	wsURLPublic       = "wss://ws.okx.com:8443/ws/v5/public"
	wsURLDemoPublic   = "wss://wspap.okx.com:8443/ws/v5/public"

	// OKX returns at most this many candles per request.
	maxCandlesPerPage = 300
)

// Client implements ports.ExchangeClient for OKX perpetual swaps.
type Client struct {
	http       *http.Client
	baseURL    string
	wsURL      string
	apiKey     string
	apiSecret  string
	passph     string
	simulated  bool
	logger     ports.Logger
	quoteAsset string
	sizePrec   int32
	limiter    *rate.Limiter
	now        func() time.Time

	reconnectMin time.Duration
	reconnectMax time.Duration
	pingEvery    time.Duration
}

// Config holds configuration specific to the OKX client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	UseTestnet bool // sends x-simulated-trading and uses the demo websocket
	BaseURL    string
	WSURL      string
	Logger     ports.Logger
	HTTPClient *http.Client
	QuoteAsset string
	// SizePrecision is the number of decimals kept in "sz".
	SizePrecision int32
	// RequestsPerSecond throttles REST calls. OKX allows 20 per 2s on trade endpoints.
	RequestsPerSecond float64
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

// New creates a new OKX client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for OKX client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
		cfg.Logger.Warn(context.Background(), "OKX credentials incomplete. Client will only work for public endpoints.")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURLProduction
	}
	if cfg.WSURL == "" {
		cfg.WSURL = wsURLPublic
		if cfg.UseTestnet {
			cfg.WSURL = wsURLDemoPublic
		}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.SizePrecision <= 0 {
		cfg.SizePrecision = 2
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	cfg.Logger.Info(context.Background(), "OKX client configured", map[string]interface{}{"baseURL": cfg.BaseURL, "simulated": cfg.UseTestnet})

	return &Client{
		http:         cfg.HTTPClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		wsURL:        cfg.WSURL,
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.SecretKey,
		passph:       cfg.Passphrase,
		simulated:    cfg.UseTestnet,
		logger:       cfg.Logger,
		quoteAsset:   cfg.QuoteAsset,
		sizePrec:     cfg.SizePrecision,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(math.Max(1, cfg.RequestsPerSecond))),
		now:          time.Now,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		pingEvery:    20 * time.Second,
	}, nil
}

// apiError is a non-zero "code" (or per-item "sCode") in an OKX response.
type apiError struct {
	Code    string
	Message string
	Status  int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("okx code=%s http=%d: %s", e.Code, e.Status, e.Message)
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type itemResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// do sends one REST call and decodes the "data" array into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if signed {
		ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return &apiError{Status: resp.StatusCode, Message: string(data)}
		}
		return fmt.Errorf("decode response: %w; body=%s", err, string(data))
	}
	if env.Code != "0" || resp.StatusCode/100 != 2 {
		apiErr := &apiError{Code: env.Code, Message: env.Msg, Status: resp.StatusCode}
		// batch-style endpoints put the real reason in data[0].sCode
		var items []itemResult
		if len(env.Data) > 0 && sonic.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			apiErr.Code, apiErr.Message = items[0].SCode, items[0].SMsg
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w; body=%s", err, string(data))
	}
	return nil
}

// handleError translates OKX API errors into ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["httpStatus"] = apiErr.Status

		var mappedErr error
		switch {
		case apiErr.Code == "50011" || apiErr.Code == "50061" || apiErr.Status == http.StatusTooManyRequests:
			mappedErr = ports.ErrRateLimited
		case apiErr.Code == "50111" || apiErr.Code == "50105":
			mappedErr = ports.ErrInvalidAPIKeys
		case apiErr.Code == "50113" || apiErr.Code == "50114" || apiErr.Status == http.StatusUnauthorized:
			mappedErr = ports.ErrAuthenticationFailed
		case apiErr.Code == "50102": // timestamp expired
			mappedErr = ports.ErrTimeout
		case apiErr.Code == "50001" || apiErr.Code == "50004" || apiErr.Code == "50013" || apiErr.Status >= 500:
			mappedErr = ports.ErrExchangeUnavailable
		case apiErr.Code == "51008" || apiErr.Code == "51131":
			mappedErr = ports.ErrInsufficientFunds
		case apiErr.Code == "51016":
			mappedErr = ports.ErrDuplicateOrder
		case apiErr.Code == "51603" || apiErr.Code == "51400":
			mappedErr = ports.ErrOrderNotFound
		case apiErr.Code == "51000" || apiErr.Code == "51001" || apiErr.Code == "51121":
			mappedErr = ports.ErrInvalidRequest
		case apiErr.Code == "51004" || apiErr.Code == "51169" || apiErr.Code == "51006":
			mappedErr = ports.ErrOrderRejected
		default:
			mappedErr = &ports.ExchangeError{Code: apiErr.Code, Message: apiErr.Message}
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
	case errors.As(err, &netErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrNetwork, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// barFor maps engine intervals onto OKX bar names.
func barFor(interval domain.Interval) string {
	switch interval {
	case "1h", "2h", "4h":
		return strings.ToUpper(string(interval))
	case "1d":
		return "1Dutc"
	default:
		return string(interval)
	}
}

// FetchCandles returns the most recent limit candles, oldest first. OKX pages
// newest first, so older pages are requested with "after".
func (c *Client) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	op := "FetchCandles"
	var all []domain.Candle
	after := ""
	for len(all) < limit {
		page := limit - len(all)
		if page > maxCandlesPerPage {
			page = maxCandlesPerPage
		}
		q := url.Values{}
		q.Set("instId", symbol)
		q.Set("bar", barFor(interval))
		q.Set("limit", strconv.Itoa(page))
		if after != "" {
			q.Set("after", after)
		}

		var rows [][]string
		if err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, false, &rows); err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(rows) == 0 {
			break
		}
		candles, err := translateCandles(rows)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		all = append(candles, all...)
		after = rows[len(rows)-1][0]
		if len(rows) < page {
			break
		}
	}
	return all, nil
}

// FetchAccount returns the quote-currency equity and the net position.
func (c *Client) FetchAccount(ctx context.Context, symbol string) (ports.AccountSnapshot, error) {
	op := "FetchAccount"

	var balances []struct {
		Details []struct {
			Ccy string `json:"ccy"`
			Eq  string `json:"eq"`
		} `json:"details"`
	}
	q := url.Values{}
	q.Set("ccy", c.quoteAsset)
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", q, nil, true, &balances); err != nil {
		return ports.AccountSnapshot{}, c.handleError(ctx, err, op)
	}

	snap := ports.AccountSnapshot{Position: domain.FlatPosition()}
	for _, b := range balances {
		for _, d := range b.Details {
			if d.Ccy != c.quoteAsset {
				continue
			}
			eq, err := strconv.ParseFloat(d.Eq, 64)
			if err != nil {
				return ports.AccountSnapshot{}, c.handleError(ctx, fmt.Errorf("could not parse equity '%s': %w", d.Eq, err), op)
			}
			snap.Balance = eq
		}
	}

	var rows []positionRow
	q = url.Values{}
	q.Set("instId", symbol)
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", q, nil, true, &rows); err != nil {
		return ports.AccountSnapshot{}, c.handleError(ctx, err, op)
	}
	snap.Position = translatePositions(rows)
	return snap, nil
}

// SetLeverage sets the cross-margin leverage for instId. OKX answers with the
// applied setting, which is logged.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	body := map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	}
	var rows []leverageRow
	if err := c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body, true, &rows); err != nil {
		return c.handleError(ctx, err, op)
	}
	fields := map[string]interface{}{"symbol": symbol, "leverage": leverage}
	if len(rows) > 0 {
		fields["applied"] = rows[0].Lever
	}
	c.logger.Info(ctx, op+" successful", fields)
	return nil
}

// SubmitOrder places a cross-margin order tagged with clOrdId.
func (c *Client) SubmitOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderReport, error) {
	op := "SubmitOrder"
	sz := decimal.NewFromFloat(req.Size).Truncate(c.sizePrec)
	if !sz.IsPositive() {
		return ports.OrderReport{}, fmt.Errorf("%s: size %v below exchange precision: %w", op, req.Size, ports.ErrInvalidRequest)
	}

	body := map[string]any{
		"instId":  req.Symbol,
		"tdMode":  "cross",
		"side":    strings.ToLower(string(req.Side)),
		"ordType": "market",
		"sz":      sz.String(),
		"clOrdId": req.ClientOrderID,
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.Type == domain.OrderTypeLimit && req.Price != nil {
		body["ordType"] = "limit"
		body["px"] = decimal.NewFromFloat(*req.Price).String()
	}

	var items []itemResult
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true, &items); err != nil {
		return ports.OrderReport{}, c.handleError(ctx, err, op)
	}
	if len(items) == 0 {
		return ports.OrderReport{}, c.handleError(ctx, errors.New("empty order response"), op)
	}

	report := ports.OrderReport{
		ExchangeOrderID: items[0].OrdID,
		ClientOrderID:   items[0].ClOrdID,
		Status:          domain.OrderSubmitted,
		UpdatedAt:       c.now().UTC(),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "size": sz.String(), "clientOrderId": req.ClientOrderID, "orderID": report.ExchangeOrderID,
	})
	return report, nil
}

// FetchOrderStatus looks an order up by clOrdId.
func (c *Client) FetchOrderStatus(ctx context.Context, symbol, clientOrderID string) (ports.OrderReport, error) {
	op := "FetchOrderStatus"
	q := url.Values{}
	q.Set("instId", symbol)
	q.Set("clOrdId", clientOrderID)

	var rows []orderRow
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, true, &rows); err != nil {
		return ports.OrderReport{}, c.handleError(ctx, err, op)
	}
	if len(rows) == 0 {
		return ports.OrderReport{}, c.handleError(ctx, &apiError{Code: "51603", Message: "order does not exist", Status: http.StatusOK}, op)
	}
	return rows[0].report(), nil
}

// CancelOrder cancels an open order by clOrdId.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "clientOrderId": clientOrderID})
	body := map[string]string{"instId": symbol, "clOrdId": clientOrderID}
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true, nil); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "clientOrderId": clientOrderID})
	return nil
}

// --- Translation Helpers ---

// translateCandles converts [ts,o,h,l,c,vol,volCcy,volCcyQuote,confirm] rows,
// newest first, into oldest-first candles.
func translateCandles(rows [][]string) ([]domain.Candle, error) {
	out := make([]domain.Candle, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle row %d has %d fields", i, len(row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing candle ts '%s': %w", row[0], err)
		}
		var vals [5]float64
		for j := 0; j < 5; j++ {
			if vals[j], err = strconv.ParseFloat(row[j+1], 64); err != nil {
				return nil, fmt.Errorf("parsing candle field %d '%s': %w", j+1, row[j+1], err)
			}
		}
		out[len(rows)-1-i] = domain.Candle{
			OpenTime:  time.UnixMilli(ts).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			Confirmed: row[len(row)-1] == "1",
		}
	}
	return out, nil
}

type positionRow struct {
	Pos     string `json:"pos"`
	PosSide string `json:"posSide"`
	AvgPx   string `json:"avgPx"`
}

// translatePositions nets net-mode and long/short-mode rows into one position.
func translatePositions(rows []positionRow) domain.Position {
	var net, notional float64
	for _, r := range rows {
		amt, _ := strconv.ParseFloat(r.Pos, 64)
		avg, _ := strconv.ParseFloat(r.AvgPx, 64)
		switch r.PosSide {
		case "long":
			amt = math.Abs(amt)
		case "short":
			amt = -math.Abs(amt)
		}
		net += amt
		notional += amt * avg
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

type leverageRow struct {
	InstID  string `json:"instId"`
	Lever   string `json:"lever"`
	MgnMode string `json:"mgnMode"`
}

type orderRow struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	UTime     string `json:"uTime"`
}

func (r orderRow) report() ports.OrderReport {
	filled, _ := strconv.ParseFloat(r.AccFillSz, 64)
	avg, _ := strconv.ParseFloat(r.AvgPx, 64)
	var updated time.Time
	if ms, err := strconv.ParseInt(r.UTime, 10, 64); err == nil && ms > 0 {
		updated = time.UnixMilli(ms).UTC()
	}
	return ports.OrderReport{
		ExchangeOrderID: r.OrdID,
		ClientOrderID:   r.ClOrdID,
		Status:          translateState(r.State),
		FilledSize:      filled,
		AvgFillPrice:    avg,
		UpdatedAt:       updated,
	}
}

func translateState(s string) domain.OrderStatus {
	switch s {
	case "partially_filled":
		return domain.OrderPartiallyFilled
	case "filled":
		return domain.OrderFilled
	case "canceled", "mmp_canceled":
		return domain.OrderCancelled
	default: // live
		return domain.OrderSubmitted
	}
}
