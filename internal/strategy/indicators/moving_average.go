package indicators

import "fmt"

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(closes []float64) (float64, error) {
	if m.Config.Period < 1 {
		return 0, fmt.Errorf("invalid %s period %d", m.config.Type, m.Config.Period)
	}
	switch m.config.Type {
	case SimpleMovingAverage:
		return m.calculateSMA(closes)
	case ExponentialMovingAverage:
		return m.calculateEMA(closes)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// calculateSMA averages the last period closes.
func (m *MovingAverage) calculateSMA(closes []float64) (float64, error) {
	if len(closes) < m.Config.Period {
		return 0, fmt.Errorf("%w: SMA(%d) got %d closes", ErrInsufficientData, m.Config.Period, len(closes))
	}

	total := 0.0
	for _, c := range closes[len(closes)-m.Config.Period:] {
		total += c
	}
	return total / float64(m.Config.Period), nil
}

// calculateEMA seeds with the SMA of the first period closes.
func (m *MovingAverage) calculateEMA(closes []float64) (float64, error) {
	if len(closes) < m.Config.Period {
		return 0, fmt.Errorf("%w: EMA(%d) got %d closes", ErrInsufficientData, m.Config.Period, len(closes))
	}

	multiplier := 2.0 / float64(m.Config.Period+1)
	ema, err := m.calculateSMA(closes[:m.Config.Period])
	if err != nil {
		return 0, fmt.Errorf("failed to calculate initial SMA for EMA: %w", err)
	}
	for _, c := range closes[m.Config.Period:] {
		ema = (c-ema)*multiplier + ema
	}
	return ema, nil
}
