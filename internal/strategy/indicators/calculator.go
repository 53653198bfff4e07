package indicators

import "autotrader/internal/domain"

// Calculator turns a candle window into an IndicatorSnapshot. It keeps no state
// between calls.
type Calculator struct {
	rsi  *RSI
	fast *MovingAverage
	slow *MovingAverage
}

// NewCalculator builds the RSI and the two SMAs from strategy settings.
func NewCalculator(s domain.StrategySettings) Calculator {
	return Calculator{
		rsi: NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: s.RSIPeriod}}),
		fast: NewMovingAverage(MovingAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: s.FastMAPeriod},
			Type:            SimpleMovingAverage,
		}),
		slow: NewMovingAverage(MovingAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: s.SlowMAPeriod},
			Type:            SimpleMovingAverage,
		}),
	}
}

// RequiredCandles is the shortest window that fills every indicator.
func (c Calculator) RequiredCandles() int {
	n := c.rsi.RequiredDataPoints()
	if s := c.slow.RequiredDataPoints(); s > n {
		n = s
	}
	if f := c.fast.RequiredDataPoints(); f > n {
		n = f
	}
	return n
}

// Compute never fails: indicators whose window is not satisfied stay nil.
func (c Calculator) Compute(candles []domain.Candle) domain.IndicatorSnapshot {
	closes := domain.Closes(candles)
	return domain.IndicatorSnapshot{
		RSI:        value(c.rsi, closes),
		FastMA:     value(c.fast, closes),
		SlowMA:     value(c.slow, closes),
		ComputedAt: len(candles) - 1,
	}
}

func value(ind Indicator, closes []float64) *float64 {
	// a short window is warm-up; any other error is a bad period that
	// TradeParameters.Validate rejects upstream
	v, err := ind.Calculate(closes)
	if err != nil {
		return nil
	}
	return domain.Float(v)
}
