package domain

import "math"

// SizeEpsilon absorbs float noise when comparing sizes.
const SizeEpsilon = 1e-9

// Position is the single net position of the account.
type Position struct {
	Side          Side
	EntryPrice    float64
	Size          float64
	UnrealizedPnL float64
}

// FlatPosition returns the empty position.
func FlatPosition() Position {
	return Position{Side: SideNone}
}

// IsFlat reports whether there is no exposure.
func (p Position) IsFlat() bool {
	return p.Side == SideNone || p.Size <= SizeEpsilon
}

// Normalize enforces side none <=> size zero.
func (p Position) Normalize() Position {
	if p.IsFlat() {
		return FlatPosition()
	}
	return p
}

// PnLAt returns the unrealized profit of the position at price.
func (p Position) PnLAt(price float64) float64 {
	switch p.Side {
	case SideLong:
		return (price - p.EntryPrice) * p.Size
	case SideShort:
		return (p.EntryPrice - price) * p.Size
	default:
		return 0
	}
}

// MarkToMarket returns a copy with UnrealizedPnL recomputed at price.
func (p Position) MarkToMarket(price float64) Position {
	p.UnrealizedPnL = p.PnLAt(price)
	return p
}

// Equal compares side and size within SizeEpsilon.
func (p Position) Equal(o Position) bool {
	a, b := p.Normalize(), o.Normalize()
	return a.Side == b.Side && math.Abs(a.Size-b.Size) <= SizeEpsilon
}
