package indicators

import "fmt"

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
}

// RSI implements the Relative Strength Index with Wilder smoothing.
type RSI struct {
	BaseIndicator
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config RSIConfig) *RSI {
	return &RSI{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints is period+1: the seed average needs period price changes.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate seeds average gain/loss over the first period changes, then applies
// avg = (avg*(period-1) + x) / period for every later change.
func (r *RSI) Calculate(closes []float64) (float64, error) {
	period := r.Config.Period
	if period < 1 {
		return 0, fmt.Errorf("invalid RSI period %d", period)
	}
	if len(closes) <= period {
		return 0, fmt.Errorf("%w: RSI(%d) needs %d closes, got %d", ErrInsufficientData, period, period+1, len(closes))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	n := float64(period)
	avgGain /= n
	avgLoss /= n

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}

	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi, nil
}
