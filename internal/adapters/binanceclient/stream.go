package binanceclient

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"autotrader/internal/domain"
)

// StreamPrices follows the 1m kline stream and emits its close as a price
// tick. The connection is re-established with backoff until ctx is done; the
// returned channel is closed then.
func (c *Client) StreamPrices(ctx context.Context, symbol string) (<-chan domain.PriceTick, error) {
	op := "StreamPrices"
	out := make(chan domain.PriceTick, 64)

	handler := func(event *futures.WsKlineEvent) {
		if event == nil {
			return
		}
		price, err := strconv.ParseFloat(event.Kline.Close, 64)
		if err != nil {
			c.logger.Warn(ctx, op+": Failed to parse close", map[string]interface{}{"close": event.Kline.Close})
			return
		}
		tick := domain.PriceTick{Symbol: event.Symbol, Price: price, Time: time.UnixMilli(event.Time).UTC()}
		select {
		case out <- tick:
		default:
			// reader is behind; newer ticks follow
		}
	}
	errHandler := func(err error) {
		c.logger.Warn(ctx, op+": WebSocket error reported", map[string]interface{}{"error": err.Error()})
	}

	go func() {
		defer close(out)
		b := &backoff.Backoff{Min: c.reconnectMin, Max: c.reconnectMax, Factor: 2, Jitter: true}

		for {
			if ctx.Err() != nil {
				return
			}
			c.logger.Info(ctx, op+": Attempting WebSocket connection...", map[string]interface{}{"symbol": symbol, "attempt": int(b.Attempt()) + 1})
			doneCh, stopCh, err := futures.WsKlineServe(symbol, "1m", handler, errHandler)
			if err != nil {
				_ = c.handleError(ctx, err, op+" connection attempt")
				delay := b.Duration()
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return
				}
			}

			c.logger.Info(ctx, op+": WebSocket connection established.", map[string]interface{}{"symbol": symbol})
			b.Reset()

			select {
			case <-doneCh:
				c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...", map[string]interface{}{"symbol": symbol})
			case <-ctx.Done():
				close(stopCh)
				<-doneCh
				return
			}
		}
	}()

	return out, nil
}
