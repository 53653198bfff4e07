package domain

import (
	"fmt"
	"time"
)

// Interval is a candle width in exchange notation ("1m", "15m", "1h", ...).
type Interval string

const DefaultInterval Interval = "15m"

var intervalDurations = map[Interval]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// Duration returns the interval length, or 0 for an unknown interval.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid reports whether the interval is one the engine can schedule on.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Candle represents a single OHLCV bar. Confirmed is false for the bar that is
// still forming, which exchanges return last.
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Confirmed bool
}

// ValidateSeries checks that open times are strictly increasing. When interval is
// non-zero every gap must also be a whole multiple of it.
func ValidateSeries(candles []Candle, interval time.Duration) error {
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].OpenTime, candles[i].OpenTime
		if !cur.After(prev) {
			return fmt.Errorf("candle %d open time %s not after %s", i, cur.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		if interval > 0 && cur.Sub(prev)%interval != 0 {
			return fmt.Errorf("candle %d is off the %s grid", i, interval)
		}
	}
	return nil
}

// ConfirmedOnly returns the prefix of closed candles. Only a trailing unconfirmed
// candle is dropped; the input slice is not modified.
func ConfirmedOnly(candles []Candle) []Candle {
	n := len(candles)
	for n > 0 && !candles[n-1].Confirmed {
		n--
	}
	return candles[:n]
}

// Closes extracts close prices in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
