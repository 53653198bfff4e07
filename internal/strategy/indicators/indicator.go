package indicators

import "errors"

// ErrInsufficientData is returned while the window is not yet filled.
var ErrInsufficientData = errors.New("not enough data points")

// Indicator represents a technical indicator computed from close prices.
type Indicator interface {
	// Calculate computes the indicator value for the given closes, oldest first.
	Calculate(closes []float64) (float64, error)

	// RequiredDataPoints returns the minimum number of closes needed for calculation.
	RequiredDataPoints() int

	// Name returns the name of the indicator.
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of closes needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
