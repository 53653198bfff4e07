package strategies

import (
	"context"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// MACrossover follows fast/slow SMA crossings. A signal fires only on the cycle
// where the ordering flips. Crossing against an open position proposes the
// opposite open, which the state machine executes as close-then-open.
type MACrossover struct {
	*BaseStrategy
	prevRelation int // -1 fast below slow, +1 above, 0 unknown or equal
	seen         bool
}

// NewMACrossover creates the crossover strategy.
func NewMACrossover(logger ports.Logger) *MACrossover {
	return &MACrossover{BaseStrategy: NewBaseStrategy(logger)}
}

// Name returns the name of the strategy
func (s *MACrossover) Name() string {
	return string(domain.StrategyMACross)
}

// Reset forgets the previous ordering.
func (s *MACrossover) Reset() {
	s.prevRelation = 0
	s.seen = false
}

// Evaluate implements Evaluator.
func (s *MACrossover) Evaluate(ctx context.Context, snap domain.IndicatorSnapshot, pos domain.Position) domain.TradeIntent {
	if snap.FastMA == nil || snap.SlowMA == nil {
		return hold()
	}
	fast, slow := *snap.FastMA, *snap.SlowMA
	rel := relation(fast, slow)

	prev := s.prevRelation
	first := !s.seen
	s.seen = true
	if rel != 0 {
		// equality keeps the last strict ordering so touch-and-return does not fire twice
		s.prevRelation = rel
	}
	if first {
		return hold()
	}

	fields := map[string]interface{}{"fastMA": fast, "slowMA": slow}
	side := pos.Normalize().Side
	switch {
	case prev < 0 && rel > 0 && side != domain.SideLong:
		return s.signal(ctx, s.Name(), intent(domain.ActionOpenLong, "fast crossed above slow"), fields)
	case prev > 0 && rel < 0 && side != domain.SideShort:
		return s.signal(ctx, s.Name(), intent(domain.ActionOpenShort, "fast crossed below slow"), fields)
	}
	return hold()
}

func relation(fast, slow float64) int {
	switch {
	case fast > slow:
		return 1
	case fast < slow:
		return -1
	default:
		return 0
	}
}
