package analytics

import (
	"math"
	"sort"
	"time"

	"autotrader/internal/domain"
)

// PerformanceMetrics summarises a journal of closed trades.
type PerformanceMetrics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	BreakevenTrades    int
	WinRate            float64
	TotalProfit        float64
	GrossProfit        float64
	GrossLoss          float64 // positive number
	MaxDrawdown        float64 // fraction of peak equity
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64 // negative number
	SharpeRatio        float64 // per trade, not annualised
	FinalBalance       float64
	ReturnOnInvestment float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64

	BySide         map[domain.Side]Breakdown
	ByCloseReason  map[domain.CloseReason]Breakdown
	MonthlyReturns map[string]float64
	Drawdowns      []Drawdown
	EquityCurve    []EquityPoint
}

// Breakdown is the trade count and PnL of one slice of the journal.
type Breakdown struct {
	Trades int
	Wins   int
	PnL    float64
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance replays trades in exit order on top of initialBalance.
// The input slice is not reordered.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		BySide:         make(map[domain.Side]Breakdown),
		ByCloseReason:  make(map[domain.CloseReason]Breakdown),
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0, len(trades)),
	}
	if len(trades) == 0 {
		return metrics
	}

	ordered := make([]*domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	balance, peak := initialBalance, initialBalance
	var open *Drawdown
	var wins, losses int
	var totalDuration time.Duration
	returns := make([]float64, 0, len(ordered))

	for _, trade := range ordered {
		metrics.TotalTrades++
		switch {
		case trade.PNL > 0:
			metrics.WinningTrades++
			metrics.GrossProfit += trade.PNL
			wins++
			losses = 0
		case trade.PNL < 0:
			metrics.LosingTrades++
			metrics.GrossLoss -= trade.PNL
			losses++
			wins = 0
		default:
			metrics.BreakevenTrades++
			wins, losses = 0, 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, wins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, losses)

		addTo(metrics.BySide, trade.Side, trade.PNL)
		addTo(metrics.ByCloseReason, trade.CloseReason, trade.PNL)
		metrics.MonthlyReturns[trade.ExitTime.Format("2006-01")] += trade.PNL
		totalDuration += trade.ExitTime.Sub(trade.EntryTime)

		if balance != 0 {
			returns = append(returns, trade.PNL/balance)
		}
		balance += trade.PNL
		metrics.TotalProfit += trade.PNL

		if balance > peak {
			peak = balance
			if open != nil {
				open.EndTime = trade.ExitTime
				open.EndValue = balance
				open.Duration = open.EndTime.Sub(open.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *open)
				open = nil
			}
		} else if balance < peak && peak > 0 {
			depth := (peak - balance) / peak
			if open == nil {
				open = &Drawdown{StartTime: trade.ExitTime, StartValue: peak}
			}
			open.Depth = math.Max(open.Depth, depth)
			metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, depth)
		}

		point := EquityPoint{Time: trade.ExitTime, Value: balance}
		if peak > 0 {
			point.Drawdown = (peak - balance) / peak
		}
		metrics.EquityCurve = append(metrics.EquityCurve, point)
	}

	if open != nil {
		last := ordered[len(ordered)-1]
		open.EndTime = last.ExitTime
		open.EndValue = balance
		open.Duration = open.EndTime.Sub(open.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *open)
	}

	n := float64(metrics.TotalTrades)
	metrics.FinalBalance = balance
	metrics.WinRate = float64(metrics.WinningTrades) / n
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	metrics.Expectancy = metrics.TotalProfit / n
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss > 0 {
		metrics.ProfitFactor = metrics.GrossProfit / metrics.GrossLoss
	}
	if initialBalance != 0 {
		metrics.ReturnOnInvestment = (balance - initialBalance) / initialBalance
		if metrics.MaxDrawdown > 0 {
			metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
		}
	}
	metrics.SharpeRatio = sharpe(returns)
	return metrics
}

func addTo[K comparable](m map[K]Breakdown, key K, pnl float64) {
	b := m[key]
	b.Trades++
	b.PnL += pnl
	if pnl > 0 {
		b.Wins++
	}
	m[key] = b
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
