package strategy

import (
	"fmt"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
	"autotrader/internal/strategy/strategies"
)

// Evaluator is re-exported so callers only import this package.
type Evaluator = strategies.Evaluator

// New builds the evaluator for kind. Every call returns fresh state.
func New(kind domain.StrategyKind, settings domain.StrategySettings, logger ports.Logger) (Evaluator, error) {
	switch kind {
	case domain.StrategyRSI:
		return strategies.NewRSIThreshold(settings, logger), nil
	case domain.StrategyMACross:
		return strategies.NewMACrossover(logger), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}
