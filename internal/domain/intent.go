package domain

// Action is what an intent asks the state machine to do.
type Action string

const (
	ActionHold      Action = "hold"
	ActionOpenLong  Action = "open_long"
	ActionOpenShort Action = "open_short"
	ActionClose     Action = "close"
)

// Origin records who produced an intent.
type Origin string

const (
	OriginStrategy Origin = "strategy"
	OriginManual   Origin = "manual"
	OriginRisk     Origin = "risk"
)

// TradeIntent is a proposed action. It lives for one cycle only.
// Size 0 on an open means "use the configured position size"; on a close it
// means "the whole position".
type TradeIntent struct {
	Action Action
	Size   float64
	Origin Origin
	Reason string
}

// Hold returns the no-op intent.
func Hold(origin Origin) TradeIntent {
	return TradeIntent{Action: ActionHold, Origin: origin}
}

// IsOpen reports whether the intent opens a position.
func (t TradeIntent) IsOpen() bool {
	return t.Action == ActionOpenLong || t.Action == ActionOpenShort
}

// Side returns the position direction an open intent targets.
func (t TradeIntent) Side() Side {
	switch t.Action {
	case ActionOpenLong:
		return SideLong
	case ActionOpenShort:
		return SideShort
	default:
		return SideNone
	}
}
