package app

import (
	"context"
	"time"

	"autotrader/internal/domain"
)

// Run drives cycles on interval boundaries until ctx is cancelled. It returns
// only after any in-flight order has reached a terminal state or the order
// timeout has passed.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.publishSnapshot()
	}()

	e.logger.Info(ctx, "Engine started", map[string]interface{}{
		"symbol": e.cfg.Symbol, "interval": e.cfg.Interval, "automation": e.params.AutomationEnabled,
	})

	if e.streamer != nil {
		go e.streamPrices(ctx)
	}

	e.RunCycle(ctx)
	next := e.nextBoundary(e.now())
	timer := time.NewTimer(next.Sub(e.now()))
	defer timer.Stop()
	poll := time.NewTicker(e.cfg.OrderPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info(context.Background(), "Engine stopping")
			e.quiesce()
			e.logger.Info(context.Background(), "Engine stopped")
			return nil

		case <-timer.C:
			e.RunCycle(ctx)
			now := e.now()
			if missed := e.missedBoundaries(next, now); missed > 0 {
				e.skipped += missed
				e.logger.Warn(ctx, "Cycle overran the interval, ticks skipped", map[string]interface{}{"skipped": missed})
				e.publishSnapshot()
			}
			next = e.nextBoundary(now)
			timer.Reset(next.Sub(now))

		case <-poll.C:
			if e.machine.HasActiveOrder() {
				_ = e.machine.Poll(ctx)
				e.publishSnapshot()
			}

		case c := <-e.commands:
			if c.trades() {
				e.runCycle(ctx, &c)
				continue
			}
			e.applyCommand(ctx, c)
			e.publishSnapshot()
		}
	}
}

// nextBoundary is the first interval boundary plus CycleDelay after now.
func (e *Engine) nextBoundary(now time.Time) time.Time {
	iv := e.cfg.Interval.Duration()
	return now.Add(-e.cfg.CycleDelay).Truncate(iv).Add(iv).Add(e.cfg.CycleDelay)
}

// missedBoundaries counts ticks that fell while the cycle scheduled at
// scheduled was still running. They are dropped, not queued.
func (e *Engine) missedBoundaries(scheduled, now time.Time) int64 {
	iv := e.cfg.Interval.Duration()
	if now.Sub(scheduled) < iv {
		return 0
	}
	return int64(now.Sub(scheduled) / iv)
}

// quiesce tracks an in-flight order to a terminal state. Stopping never
// cancels an order on its own; stale orders are cancelled by the order timeout.
func (e *Engine) quiesce() {
	if !e.machine.HasActiveOrder() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.OrderTimeout+30*time.Second)
	defer cancel()

	e.logger.Info(ctx, "Waiting for in-flight order before stopping")
	ticker := time.NewTicker(e.cfg.OrderPollInterval)
	defer ticker.Stop()
	for e.machine.HasActiveOrder() {
		select {
		case <-ctx.Done():
			e.logger.Warn(ctx, "Stopped with an order still in flight")
			return
		case <-ticker.C:
			_ = e.machine.Poll(ctx)
		}
	}
	e.publishSnapshot()
}

func (e *Engine) streamPrices(ctx context.Context) {
	ticks, err := e.streamer.StreamPrices(ctx, e.cfg.Symbol)
	if err != nil {
		e.logger.Error(ctx, err, "Price stream unavailable")
		return
	}
	for t := range ticks {
		e.bus.Publish(domain.EventPriceUpdate, domain.PriceUpdate{Symbol: t.Symbol, Price: t.Price, Source: "stream"})
	}
}
