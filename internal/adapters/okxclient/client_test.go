package okxclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		APIKey: "key", SecretKey: "secret", Passphrase: "pass",
		BaseURL: srv.URL, Logger: &mockLogger{}, RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 6e6, time.UTC) }
	return c
}

func TestFetchCandles_ReversesAndReadsConfirm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/candles", r.URL.Path)
		assert.Equal(t, "BTC-USDT-SWAP", r.URL.Query().Get("instId"))
		assert.Equal(t, "1H", r.URL.Query().Get("bar"))
		assert.Empty(t, r.Header.Get("OK-ACCESS-SIGN"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700003600000","101","103","100","102","7","0","0","0"],
			["1700000000000","100","101","99","101","5","0","0","1"]
		]}`))
	})

	candles, err := c.FetchCandles(context.Background(), "BTC-USDT-SWAP", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].OpenTime)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.True(t, candles[0].Confirmed)
	assert.Equal(t, 102.0, candles[1].Close)
	assert.False(t, candles[1].Confirmed)
}

func TestFetchCandles_PagesWithAfter(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		if q.Get("after") == "" {
			assert.Equal(t, "300", q.Get("limit"))
			rows := make([]string, 0, 300)
			for i := 0; i < 300; i++ {
				ts := 1700000000000 + int64(400-i)*60000
				rows = append(rows, `["`+itoa(ts)+`","1","1","1","1","1","0","0","1"]`)
			}
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[` + strings.Join(rows, ",") + `]}`))
			return
		}
		assert.Equal(t, "50", q.Get("limit"))
		assert.Equal(t, itoa(1700000000000+101*60000), q.Get("after"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[["1700006000000","1","1","1","1","1","0","0","1"]]}`))
	})

	candles, err := c.FetchCandles(context.Background(), "BTC-USDT-SWAP", "1m", 350)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, candles, 301)
	assert.Equal(t, time.UnixMilli(1700006000000).UTC(), candles[0].OpenTime)
}

func TestFetchAccount_SignsAndNets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("OK-ACCESS-KEY"))
		assert.Equal(t, "pass", r.Header.Get("OK-ACCESS-PASSPHRASE"))
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		assert.Equal(t, "2024-01-02T03:04:05.006Z", ts)
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(ts + "GET" + r.URL.RequestURI()))
		assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), r.Header.Get("OK-ACCESS-SIGN"))

		switch r.URL.Path {
		case "/api/v5/account/balance":
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"details":[{"ccy":"USDT","eq":"2500.5"}]}]}`))
		case "/api/v5/account/positions":
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
				{"instId":"BTC-USDT-SWAP","posSide":"long","pos":"3","avgPx":"100"},
				{"instId":"BTC-USDT-SWAP","posSide":"short","pos":"1","avgPx":"110"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	})

	snap, err := c.FetchAccount(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 2500.5, snap.Balance)
	assert.Equal(t, domain.SideLong, snap.Position.Side)
	assert.InDelta(t, 2.0, snap.Position.Size, 1e-9)
	assert.InDelta(t, 95.0, snap.Position.EntryPrice, 1e-9)
}

func TestSubmitOrder_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v5/trade/order", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "BTC-USDT-SWAP", body["instId"])
		assert.Equal(t, "cross", body["tdMode"])
		assert.Equal(t, "sell", body["side"])
		assert.Equal(t, "market", body["ordType"])
		assert.Equal(t, "1.25", body["sz"])
		assert.Equal(t, "abc123", body["clOrdId"])
		assert.Equal(t, true, body["reduceOnly"])
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"9001","clOrdId":"abc123","sCode":"0","sMsg":""}]}`))
	})

	report, err := c.SubmitOrder(context.Background(), ports.OrderRequest{
		Symbol: "BTC-USDT-SWAP", ClientOrderID: "abc123", Side: domain.Sell,
		Type: domain.OrderTypeMarket, Size: 1.259, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", report.ExchangeOrderID)
	assert.Equal(t, domain.OrderSubmitted, report.Status)
}

func TestSubmitOrder_SizeBelowPrecision(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.SubmitOrder(context.Background(), ports.OrderRequest{Symbol: "X", Side: domain.Buy, Size: 0.001})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestSubmitOrder_SimulatedHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("x-simulated-trading"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"1","clOrdId":"a","sCode":"0"}]}`))
	}))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, UseTestnet: true, Logger: &mockLogger{}})
	require.NoError(t, err)
	_, err = c.SubmitOrder(context.Background(), ports.OrderRequest{Symbol: "X", ClientOrderID: "a", Side: domain.Buy, Size: 1})
	require.NoError(t, err)
}

func TestFetchOrderStatus_States(t *testing.T) {
	tests := []struct {
		state  string
		status domain.OrderStatus
	}{
		{"live", domain.OrderSubmitted},
		{"partially_filled", domain.OrderPartiallyFilled},
		{"filled", domain.OrderFilled},
		{"canceled", domain.OrderCancelled},
		{"mmp_canceled", domain.OrderCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "abc", r.URL.Query().Get("clOrdId"))
				_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"7","clOrdId":"abc","state":"` + tt.state + `","accFillSz":"0.5","avgPx":"101.5","uTime":"1700000000000"}]}`))
			})
			report, err := c.FetchOrderStatus(context.Background(), "BTC-USDT-SWAP", "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.status, report.Status)
			assert.Equal(t, 0.5, report.FilledSize)
			assert.Equal(t, 101.5, report.AvgFillPrice)
			assert.Equal(t, time.UnixMilli(1700000000000).UTC(), report.UpdatedAt)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"duplicate via sCode", 200, `{"code":"1","msg":"All operations failed","data":[{"sCode":"51016","sMsg":"Duplicated clOrdId"}]}`, ports.ErrDuplicateOrder},
		{"insufficient funds", 200, `{"code":"1","msg":"","data":[{"sCode":"51008","sMsg":"Insufficient balance"}]}`, ports.ErrInsufficientFunds},
		{"bad key", 401, `{"code":"50111","msg":"Invalid OK-ACCESS-KEY","data":[]}`, ports.ErrInvalidAPIKeys},
		{"bad sign", 401, `{"code":"50113","msg":"Invalid Sign","data":[]}`, ports.ErrAuthenticationFailed},
		{"rate limit", 429, `{"code":"50011","msg":"Too Many Requests","data":[]}`, ports.ErrRateLimited},
		{"busy", 503, `service unavailable`, ports.ErrExchangeUnavailable},
		{"not found", 200, `{"code":"51603","msg":"Order does not exist","data":[]}`, ports.ErrOrderNotFound},
		{"timestamp", 200, `{"code":"50102","msg":"Timestamp request expired","data":[]}`, ports.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			err := c.CancelOrder(context.Background(), "BTC-USDT-SWAP", "abc")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestErrorMapping_UnmappedCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"59999","msg":"odd","data":[]}`))
	})
	_, err := c.FetchOrderStatus(context.Background(), "X", "abc")
	var exErr *ports.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "59999", exErr.Code)
	assert.Equal(t, ports.ClassExchange, ports.Classify(err))
}

func TestStreamPrices(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		var sub map[string]any
		if !assert.NoError(t, conn.ReadJSON(&sub)) {
			return
		}
		assert.Equal(t, "subscribe", sub["op"])
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","last":"43210.5","ts":"1700000000000"}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Logger: &mockLogger{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks, err := c.StreamPrices(ctx, "BTC-USDT-SWAP")
	require.NoError(t, err)

	select {
	case tick := <-ticks:
		assert.Equal(t, "BTC-USDT-SWAP", tick.Symbol)
		assert.Equal(t, 43210.5, tick.Price)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tick.Time)
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ticks:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestSetLeverage_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v5/account/set-leverage", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "BTC-USDT-SWAP", body["instId"])
		assert.Equal(t, "10", body["lever"])
		assert.Equal(t, "cross", body["mgnMode"])
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","lever":"10","mgnMode":"cross","posSide":""}]}`))
	})

	require.NoError(t, c.SetLeverage(context.Background(), "BTC-USDT-SWAP", 10))
}

func TestSetLeverage_AuthFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"code":"50113","msg":"Invalid Sign","data":[]}`))
	})
	err := c.SetLeverage(context.Background(), "BTC-USDT-SWAP", 3)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	assert.True(t, ports.IsFatal(err))
}
