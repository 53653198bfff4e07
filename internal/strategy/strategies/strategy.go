package strategies

import (
	"context"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Evaluator turns one cycle's indicators and the current position into an intent.
// Implementations may keep the previous cycle's values to detect crossings, so one
// instance must only ever see one market, cycle after cycle.
type Evaluator interface {
	// Evaluate returns hold while indicators are warming up and never proposes an
	// action that contradicts pos.
	Evaluate(ctx context.Context, snap domain.IndicatorSnapshot, pos domain.Position) domain.TradeIntent

	// Reset forgets any remembered previous-cycle values.
	Reset()

	// Name returns the name of the strategy
	Name() string
}

// BaseStrategy provides common functionality for strategies
type BaseStrategy struct {
	logger ports.Logger
}

// NewBaseStrategy creates a new base strategy instance
func NewBaseStrategy(logger ports.Logger) *BaseStrategy {
	return &BaseStrategy{logger: logger}
}

func (b *BaseStrategy) signal(ctx context.Context, name string, intent domain.TradeIntent, fields map[string]interface{}) domain.TradeIntent {
	if b.logger != nil {
		fields["strategy"] = name
		fields["action"] = intent.Action
		fields["reason"] = intent.Reason
		b.logger.Debug(ctx, "Strategy signal", fields)
	}
	return intent
}

func hold() domain.TradeIntent {
	return domain.Hold(domain.OriginStrategy)
}

func intent(action domain.Action, reason string) domain.TradeIntent {
	return domain.TradeIntent{Action: action, Origin: domain.OriginStrategy, Reason: reason}
}
