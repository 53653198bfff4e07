package risk

import (
	"fmt"
	"math"

	"autotrader/internal/domain"
)

// Verdict is the outcome of a risk check.
type Verdict string

const (
	Approved Verdict = "approved"
	Clamped  Verdict = "clamped"
	Rejected Verdict = "rejected"
	Forced   Verdict = "forced" // stop-loss or take-profit close replaced the input intent
)

// Decision is the only value the state machine accepts as permission to trade.
// Decisions can only be produced by Guard.Evaluate.
type Decision struct {
	Verdict Verdict
	Intent  domain.TradeIntent
	Reason  string
	issued  bool
}

// Allowed reports whether the decision permits acting on Intent.
func (d Decision) Allowed() bool {
	return d.issued && d.Verdict != Rejected
}

// Guard checks intents against stop-loss, take-profit and size limits.
// It holds no state.
type Guard struct{}

// NewGuard creates a risk guard.
func NewGuard() Guard {
	return Guard{}
}

// Evaluate applies, in order: the stop-loss/take-profit override, then the
// automation gate, direction and size checks on the input intent.
func (g Guard) Evaluate(pos domain.Position, params domain.TradeParameters, price float64, intent domain.TradeIntent) Decision {
	pos = pos.Normalize()

	if forced, ok := g.protectiveClose(pos, params, price); ok {
		return forced
	}

	switch intent.Action {
	case domain.ActionHold:
		return approve(Approved, intent, "")

	case domain.ActionClose:
		if pos.IsFlat() {
			return reject(intent, "no position to close")
		}
		requested := intent.Size
		if requested <= 0 || requested > pos.Size {
			requested = pos.Size
		}
		return clampTo(intent, requested, params.PositionSize)

	case domain.ActionOpenLong, domain.ActionOpenShort:
		if !params.AutomationEnabled && intent.Origin != domain.OriginManual {
			return reject(intent, "automation disabled")
		}
		if pos.Side == intent.Side() {
			return reject(intent, fmt.Sprintf("already %s", pos.Side))
		}
		requested := intent.Size
		if requested == 0 {
			requested = params.PositionSize
		}
		return clampTo(intent, requested, params.PositionSize)

	default:
		return reject(intent, fmt.Sprintf("unknown action %q", intent.Action))
	}
}

// protectiveClose returns a forced close when the position's P&L has crossed a threshold.
func (g Guard) protectiveClose(pos domain.Position, params domain.TradeParameters, price float64) (Decision, bool) {
	if pos.IsFlat() || pos.EntryPrice <= 0 || price <= 0 {
		return Decision{}, false
	}
	pnl := PnLPercent(pos, price)

	var reason domain.CloseReason
	switch {
	case params.StopLossPct > 0 && pnl <= -params.StopLossPct:
		reason = domain.CloseReasonStopLoss
	case params.TakeProfitPct > 0 && pnl >= params.TakeProfitPct:
		reason = domain.CloseReasonTakeProfit
	default:
		return Decision{}, false
	}

	size := pos.Size
	if params.PositionSize > 0 {
		size = math.Min(size, params.PositionSize)
	}
	closeIntent := domain.TradeIntent{
		Action: domain.ActionClose,
		Size:   size,
		Origin: domain.OriginRisk,
		Reason: string(reason),
	}
	return approve(Forced, closeIntent, fmt.Sprintf("%s hit at %.2f%%", reason, pnl)), true
}

func clampTo(intent domain.TradeIntent, requested, limit float64) Decision {
	if requested <= 0 {
		return reject(intent, "size must be positive")
	}
	if limit > 0 && requested > limit {
		intent.Size = limit
		return approve(Clamped, intent, fmt.Sprintf("size %.8g clamped to %.8g", requested, limit))
	}
	intent.Size = requested
	return approve(Approved, intent, "")
}

func approve(v Verdict, intent domain.TradeIntent, reason string) Decision {
	return Decision{Verdict: v, Intent: intent, Reason: reason, issued: true}
}

func reject(intent domain.TradeIntent, reason string) Decision {
	return Decision{Verdict: Rejected, Intent: intent, Reason: reason, issued: true}
}

// PnLPercent is the unleveraged price move in the position's favour, in percent.
func PnLPercent(pos domain.Position, price float64) float64 {
	if pos.EntryPrice <= 0 {
		return 0
	}
	move := (price - pos.EntryPrice) / pos.EntryPrice * 100
	if pos.Side == domain.SideShort {
		return -move
	}
	return move
}

// StopLossPrice calculates the stop loss trigger price for a position.
func StopLossPrice(entryPrice float64, side domain.Side, pct float64) float64 {
	if side == domain.SideShort {
		return entryPrice * (1 + pct/100)
	}
	return entryPrice * (1 - pct/100)
}

// TakeProfitPrice calculates the take profit trigger price for a position.
func TakeProfitPrice(entryPrice float64, side domain.Side, pct float64) float64 {
	if side == domain.SideShort {
		return entryPrice * (1 - pct/100)
	}
	return entryPrice * (1 + pct/100)
}
