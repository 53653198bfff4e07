package domain

// IndicatorSnapshot holds the signal values of one cycle. A nil field means the
// candle window was too short for that indicator (warm-up).
type IndicatorSnapshot struct {
	RSI        *float64
	FastMA     *float64
	SlowMA     *float64
	ComputedAt int // index of the newest candle used, -1 when no candles
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Ready reports whether every indicator has a value.
func (s IndicatorSnapshot) Ready() bool {
	return s.RSI != nil && s.FastMA != nil && s.SlowMA != nil
}

// Copy returns a snapshot that shares no pointers with s.
func (s IndicatorSnapshot) Copy() IndicatorSnapshot {
	out := IndicatorSnapshot{ComputedAt: s.ComputedAt}
	if s.RSI != nil {
		out.RSI = Float(*s.RSI)
	}
	if s.FastMA != nil {
		out.FastMA = Float(*s.FastMA)
	}
	if s.SlowMA != nil {
		out.SlowMA = Float(*s.SlowMA)
	}
	return out
}
