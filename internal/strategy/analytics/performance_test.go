package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func trade(side domain.Side, pnl float64, exitHours int, reason domain.CloseReason) *domain.Trade {
	exit := t0.Add(time.Duration(exitHours) * time.Hour)
	return &domain.Trade{
		Symbol: "BTC-USDT-SWAP", Side: side, Size: 1, PNL: pnl,
		EntryTime: exit.Add(-2 * time.Hour), ExitTime: exit, CloseReason: reason,
	}
}

func TestAnalyzePerformance(t *testing.T) {
	trades := []*domain.Trade{
		trade(domain.SideShort, -1000, 6, domain.CloseReasonStopLoss),
		trade(domain.SideLong, 1000, 1, domain.CloseReasonTakeProfit),
	}

	m := AnalyzePerformance(trades, 10000)

	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.Equal(t, 0.5, m.WinRate)
	assert.Equal(t, 0.0, m.TotalProfit)
	assert.Equal(t, 10000.0, m.FinalBalance)
	assert.Equal(t, 1000.0, m.AverageWin)
	assert.Equal(t, -1000.0, m.AverageLoss)
	assert.Equal(t, 1.0, m.ProfitFactor)
	assert.Equal(t, 0.0, m.Expectancy)
	assert.Equal(t, 2*time.Hour, m.AverageTradeDuration)
	assert.Equal(t, 1, m.MaxConsecutiveWins)
	assert.Equal(t, 1, m.MaxConsecutiveLosses)

	require.Len(t, m.EquityCurve, 2)
	assert.Equal(t, 11000.0, m.EquityCurve[0].Value, "replayed in exit order")
	assert.Equal(t, 10000.0, m.EquityCurve[1].Value)
	assert.Equal(t, domain.CloseReasonStopLoss, trades[0].CloseReason, "input order untouched")

	assert.Equal(t, Breakdown{Trades: 1, Wins: 1, PnL: 1000}, m.BySide[domain.SideLong])
	assert.Equal(t, Breakdown{Trades: 1, PnL: -1000}, m.ByCloseReason[domain.CloseReasonStopLoss])
	assert.Len(t, m.GetMonthlyReturns(), 1)
}

func TestAnalyzePerformanceEmptyTrades(t *testing.T) {
	m := AnalyzePerformance(nil, 10000)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 10000.0, m.FinalBalance)
	assert.Equal(t, 0.0, m.WinRate)
}

func TestAnalyzePerformanceDrawdown(t *testing.T) {
	trades := []*domain.Trade{
		trade(domain.SideLong, 1000, 1, domain.CloseReasonTakeProfit), // 11000 peak
		trade(domain.SideLong, -2200, 2, domain.CloseReasonStopLoss),  // 8800, 20% down
		trade(domain.SideLong, -550, 3, domain.CloseReasonStopLoss),   // 8250, 25% down
		trade(domain.SideLong, 3000, 4, domain.CloseReasonStrategy),   // 11250 new peak
		trade(domain.SideShort, -1125, 5, domain.CloseReasonReversal), // 10125, 10% down
	}

	m := AnalyzePerformance(trades, 10000)

	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-9)
	require.Len(t, m.Drawdowns, 2)
	assert.InDelta(t, 0.25, m.Drawdowns[0].Depth, 1e-9)
	assert.Equal(t, 2*time.Hour, m.Drawdowns[0].Duration)
	assert.InDelta(t, 0.10, m.Drawdowns[1].Depth, 1e-9)
	assert.Equal(t, 2, m.MaxConsecutiveLosses)
	assert.InDelta(t, 125.0/(10000*0.25), m.RecoveryFactor, 1e-9)
	assert.InDelta(t, 4000.0/3875.0, m.ProfitFactor, 1e-9)
	assert.Equal(t, 3, m.ByCloseReason[domain.CloseReasonStopLoss].Trades+m.ByCloseReason[domain.CloseReasonReversal].Trades)
}

func TestAnalyzePerformanceBreakeven(t *testing.T) {
	m := AnalyzePerformance([]*domain.Trade{
		trade(domain.SideLong, 10, 1, domain.CloseReasonManual),
		trade(domain.SideLong, 0, 2, domain.CloseReasonManual),
		trade(domain.SideLong, 10, 3, domain.CloseReasonManual),
	}, 1000)

	assert.Equal(t, 1, m.BreakevenTrades)
	assert.Equal(t, 0, m.LosingTrades)
	assert.Equal(t, 1, m.MaxConsecutiveWins)
	assert.Equal(t, 0.0, m.ProfitFactor, "no losses, no ratio")
	assert.NotZero(t, m.SharpeRatio)
}
