package strategies

import (
	"context"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// RSIThreshold opens against extremes and exits once RSI is back in the neutral band.
//
//   - flat, RSI falls to or below oversold: open long
//   - flat, RSI rises to or above overbought: open short
//   - long and RSI >= NeutralLow, or short and RSI <= NeutralHigh: close
type RSIThreshold struct {
	*BaseStrategy
	settings domain.StrategySettings
	prev     *float64
}

// NewRSIThreshold creates the RSI strategy.
func NewRSIThreshold(settings domain.StrategySettings, logger ports.Logger) *RSIThreshold {
	return &RSIThreshold{BaseStrategy: NewBaseStrategy(logger), settings: settings}
}

// Name returns the name of the strategy
func (s *RSIThreshold) Name() string {
	return string(domain.StrategyRSI)
}

// Reset forgets the previous RSI.
func (s *RSIThreshold) Reset() {
	s.prev = nil
}

// Evaluate implements Evaluator.
func (s *RSIThreshold) Evaluate(ctx context.Context, snap domain.IndicatorSnapshot, pos domain.Position) domain.TradeIntent {
	if snap.RSI == nil {
		return hold()
	}
	rsi := *snap.RSI
	prev := s.prev
	s.prev = domain.Float(rsi)

	fields := map[string]interface{}{"rsi": rsi}
	switch pos.Normalize().Side {
	case domain.SideNone:
		if prev == nil {
			return hold()
		}
		// touching a threshold counts as crossing it
		if *prev > s.settings.RSIOversold && rsi <= s.settings.RSIOversold {
			return s.signal(ctx, s.Name(), intent(domain.ActionOpenLong, "rsi crossed below oversold"), fields)
		}
		if *prev < s.settings.RSIOverbought && rsi >= s.settings.RSIOverbought {
			return s.signal(ctx, s.Name(), intent(domain.ActionOpenShort, "rsi crossed above overbought"), fields)
		}
	case domain.SideLong:
		if rsi >= s.settings.RSINeutralLow {
			return s.signal(ctx, s.Name(), intent(domain.ActionClose, "rsi back to neutral"), fields)
		}
	case domain.SideShort:
		if rsi <= s.settings.RSINeutralHigh {
			return s.signal(ctx, s.Name(), intent(domain.ActionClose, "rsi back to neutral"), fields)
		}
	}
	return hold()
}
