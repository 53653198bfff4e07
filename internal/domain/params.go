package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError lists every problem found in a command payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StrategyKind selects the strategy variant.
type StrategyKind string

const (
	StrategyRSI     StrategyKind = "RSI"
	StrategyMACross StrategyKind = "MA_CROSS"
)

// StrategySettings are the tunables of both strategy variants.
type StrategySettings struct {
	RSIPeriod      int     `yaml:"rsi_period"`
	RSIOversold    float64 `yaml:"rsi_oversold"`
	RSIOverbought  float64 `yaml:"rsi_overbought"`
	RSINeutralLow  float64 `yaml:"rsi_neutral_low"`
	RSINeutralHigh float64 `yaml:"rsi_neutral_high"`
	FastMAPeriod   int     `yaml:"fast_ma_period"`
	SlowMAPeriod   int     `yaml:"slow_ma_period"`
}

// TradeParameters is the operator-controlled configuration of the engine.
// Percentages are expressed in percent (5 means 5%).
type TradeParameters struct {
	StopLossPct       float64          `yaml:"stop_loss_pct"`
	TakeProfitPct     float64          `yaml:"take_profit_pct"`
	PositionSize      float64          `yaml:"position_size"`
	Leverage          int              `yaml:"leverage"`
	Strategy          StrategyKind     `yaml:"strategy"`
	AutomationEnabled bool             `yaml:"automation_enabled"`
	Settings          StrategySettings `yaml:"settings"`
}

// DefaultStrategySettings returns the stock RSI(14) 30/70 and SMA 40/120 setup.
func DefaultStrategySettings() StrategySettings {
	return StrategySettings{
		RSIPeriod:      14,
		RSIOversold:    30,
		RSIOverbought:  70,
		RSINeutralLow:  45,
		RSINeutralHigh: 55,
		FastMAPeriod:   40,
		SlowMAPeriod:   120,
	}
}

// DefaultTradeParameters returns a conservative starting point with automation off.
func DefaultTradeParameters() TradeParameters {
	return TradeParameters{
		StopLossPct:   2,
		TakeProfitPct: 4,
		PositionSize:  1,
		Leverage:      1,
		Strategy:      StrategyRSI,
		Settings:      DefaultStrategySettings(),
	}
}

// MaxLeverage is the highest leverage any supported venue accepts.
const MaxLeverage = 125

// Validate returns a *ValidationError naming every invalid field, or nil.
func (p TradeParameters) Validate() error {
	var problems []string
	if p.StopLossPct <= 0 || p.StopLossPct >= 100 {
		problems = append(problems, "stop_loss_pct must be in (0, 100)")
	}
	if p.TakeProfitPct <= 0 {
		problems = append(problems, "take_profit_pct must be positive")
	}
	if p.PositionSize <= 0 {
		problems = append(problems, "position_size must be positive")
	}
	if p.Leverage < 1 || p.Leverage > MaxLeverage {
		problems = append(problems, fmt.Sprintf("leverage must be in [1, %d]", MaxLeverage))
	}
	switch p.Strategy {
	case StrategyRSI, StrategyMACross:
	default:
		problems = append(problems, fmt.Sprintf("unknown strategy %q", p.Strategy))
	}

	s := p.Settings
	if s.RSIPeriod < 2 {
		problems = append(problems, "rsi_period must be at least 2")
	}
	if s.RSIOversold <= 0 || s.RSIOverbought >= 100 || s.RSIOversold >= s.RSIOverbought {
		problems = append(problems, "rsi thresholds must satisfy 0 < oversold < overbought < 100")
	}
	if s.RSINeutralLow < s.RSIOversold || s.RSINeutralHigh > s.RSIOverbought || s.RSINeutralLow > s.RSINeutralHigh {
		problems = append(problems, "rsi neutral band must lie within the thresholds")
	}
	if s.FastMAPeriod < 1 || s.SlowMAPeriod <= s.FastMAPeriod {
		problems = append(problems, "moving average periods must satisfy 1 <= fast < slow")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
