package okxclient

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"autotrader/internal/domain"
)

type tickerFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		TS     string `json:"ts"`
	} `json:"data"`
}

// StreamPrices subscribes to the public tickers channel. The connection is
// re-dialled with backoff until ctx is done; the channel is closed then.
func (c *Client) StreamPrices(ctx context.Context, symbol string) (<-chan domain.PriceTick, error) {
	op := "StreamPrices"
	out := make(chan domain.PriceTick, 64)
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	go func() {
		defer close(out)
		b := &backoff.Backoff{Min: c.reconnectMin, Max: c.reconnectMax, Factor: 2, Jitter: true}

		for ctx.Err() == nil {
			c.logger.Info(ctx, op+": Attempting WebSocket connection...", map[string]interface{}{"symbol": symbol, "attempt": int(b.Attempt()) + 1})
			conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
			if err != nil {
				_ = c.handleError(ctx, err, op+" connection attempt")
				if !sleepCtx(ctx, b.Duration()) {
					return
				}
				continue
			}

			sub := map[string]any{
				"op":   "subscribe",
				"args": []map[string]string{{"channel": "tickers", "instId": symbol}},
			}
			if err := conn.WriteJSON(sub); err != nil {
				_ = conn.Close()
				_ = c.handleError(ctx, err, op+" subscribe")
				if !sleepCtx(ctx, b.Duration()) {
					return
				}
				continue
			}
			b.Reset()
			c.logger.Info(ctx, op+": WebSocket connection established.", map[string]interface{}{"symbol": symbol})

			c.readTickers(ctx, conn, out)

			if ctx.Err() != nil {
				return
			}
			c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...", map[string]interface{}{"symbol": symbol})
			if !sleepCtx(ctx, b.Duration()) {
				return
			}
		}
	}()

	return out, nil
}

// readTickers pumps one connection until it fails or ctx is done. OKX drops
// idle connections after 30s, so a text "ping" goes out periodically.
func (c *Client) readTickers(ctx context.Context, conn *websocket.Conn, out chan<- domain.PriceTick) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		t := time.NewTicker(c.pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				_ = conn.Close()
				return
			case <-t.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn(ctx, "StreamPrices: read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		if string(msg) == "pong" {
			continue
		}
		var frame tickerFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil || frame.Arg.Channel != "tickers" {
			continue
		}
		for _, d := range frame.Data {
			price, err := strconv.ParseFloat(d.Last, 64)
			if err != nil || price <= 0 {
				continue
			}
			ms, _ := strconv.ParseInt(d.TS, 10, 64)
			tick := domain.PriceTick{Symbol: d.InstID, Price: price, Time: time.UnixMilli(ms).UTC()}
			select {
			case out <- tick:
			default:
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
