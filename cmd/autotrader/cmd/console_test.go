package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/app"
	"autotrader/internal/domain"
)

type fakeController struct {
	snap  app.Snapshot
	calls []string
	side  domain.Side
	size  float64
	set   *domain.TradeParameters
	err   error
}

func (f *fakeController) Snapshot() app.Snapshot { return f.snap }

func (f *fakeController) SetParameters(p domain.TradeParameters) error {
	f.calls = append(f.calls, "set")
	f.set = &p
	return f.err
}

func (f *fakeController) ManualTrade(side domain.Side, size float64) error {
	f.calls = append(f.calls, "trade")
	f.side, f.size = side, size
	return f.err
}

func (f *fakeController) ManualClose() error     { f.calls = append(f.calls, "close"); return f.err }
func (f *fakeController) StartAutomation() error { f.calls = append(f.calls, "start"); return f.err }
func (f *fakeController) StopAutomation() error  { f.calls = append(f.calls, "stop"); return f.err }
func (f *fakeController) Reset() error           { f.calls = append(f.calls, "reset"); return f.err }
func (f *fakeController) SaveParameters() error  { f.calls = append(f.calls, "save"); return f.err }

func newFakeController() *fakeController {
	return &fakeController{snap: app.Snapshot{
		Symbol:   "BTC-USDT-SWAP",
		Phase:    domain.PhaseFlat,
		Position: domain.FlatPosition(),
		Params:   domain.DefaultTradeParameters(),
	}}
}

func TestConsole_Dispatch(t *testing.T) {
	tests := []struct {
		line  string
		calls []string
	}{
		{"close", []string{"close"}},
		{"START", []string{"start"}},
		{"stop", []string{"stop"}},
		{"save", []string{"save"}},
		{"reset", []string{"reset"}},
		{"", nil},
		{"status", nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ctl := newFakeController()
			var out bytes.Buffer
			require.NoError(t, runConsole(context.Background(), strings.NewReader(tt.line+"\n"), &out, ctl))
			assert.Equal(t, tt.calls, ctl.calls)
			assert.NotContains(t, out.String(), "error")
		})
	}
}

func TestConsole_ManualTrade(t *testing.T) {
	ctl := newFakeController()
	var out bytes.Buffer
	require.NoError(t, runConsole(context.Background(), strings.NewReader("short 0.5\nlong\n"), &out, ctl))

	assert.Equal(t, []string{"trade", "trade"}, ctl.calls)
	assert.Equal(t, domain.SideLong, ctl.side)
	assert.Equal(t, 0.0, ctl.size, "no size means the configured position size")

	ctl = newFakeController()
	require.NoError(t, runConsole(context.Background(), strings.NewReader("long abc\n"), &out, ctl))
	assert.Empty(t, ctl.calls)
	assert.Contains(t, out.String(), `invalid size "abc"`)
}

func TestConsole_SetParameter(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, p domain.TradeParameters)
		err   string
	}{
		{name: "stop loss", line: "set sl 1.5", check: func(t *testing.T, p domain.TradeParameters) {
			assert.Equal(t, 1.5, p.StopLossPct)
			assert.Equal(t, domain.DefaultTradeParameters().TakeProfitPct, p.TakeProfitPct)
		}},
		{name: "take profit", line: "set tp 6", check: func(t *testing.T, p domain.TradeParameters) {
			assert.Equal(t, 6.0, p.TakeProfitPct)
		}},
		{name: "size", line: "set size 0.01", check: func(t *testing.T, p domain.TradeParameters) {
			assert.Equal(t, 0.01, p.PositionSize)
		}},
		{name: "strategy", line: "set strategy ma_cross", check: func(t *testing.T, p domain.TradeParameters) {
			assert.Equal(t, domain.StrategyMACross, p.Strategy)
		}},
		{name: "leverage", line: "set leverage 10x", check: func(t *testing.T, p domain.TradeParameters) {
			assert.Equal(t, 10, p.Leverage)
			assert.Equal(t, domain.DefaultTradeParameters().PositionSize, p.PositionSize)
		}},
		{name: "fractional leverage", line: "set leverage 2.5", err: `invalid leverage "2.5"`},
		{name: "unknown key", line: "set foo 1", err: `unknown parameter "foo"`},
		{name: "bad number", line: "set sl x", err: `invalid number "x"`},
		{name: "missing value", line: "set sl", err: "usage: set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := newFakeController()
			var out bytes.Buffer
			require.NoError(t, runConsole(context.Background(), strings.NewReader(tt.line), &out, ctl))
			if tt.err != "" {
				assert.Nil(t, ctl.set)
				assert.Contains(t, out.String(), tt.err)
				return
			}
			require.NotNil(t, ctl.set)
			tt.check(t, *ctl.set)
		})
	}
}

func TestConsole_ReportsEngineErrors(t *testing.T) {
	ctl := newFakeController()
	ctl.err = errors.New("engine command queue is full")
	var out bytes.Buffer
	require.NoError(t, runConsole(context.Background(), strings.NewReader("close\nbogus\n"), &out, ctl))
	assert.Contains(t, out.String(), "error: engine command queue is full")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
}

func TestPrintSnapshot(t *testing.T) {
	ctl := newFakeController()
	ctl.snap.Phase = domain.PhaseOpen
	ctl.snap.Position = domain.Position{Side: domain.SideLong, Size: 2, EntryPrice: 100, UnrealizedPnL: 4}
	ctl.snap.ActiveOrder = &domain.Order{ClientOrderID: "c1", Side: domain.Sell, Size: 2, Status: domain.OrderSubmitted}

	var out bytes.Buffer
	printSnapshot(&out, ctl.snap)
	assert.Contains(t, out.String(), "phase=open")
	assert.Contains(t, out.String(), "position: long 2.000000 @ 100.0000 upnl=4.0000")
	assert.Contains(t, out.String(), "order: c1 SELL 2.000000 submitted")
	assert.Contains(t, out.String(), "leverage=1x")
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		ev   domain.EngineEvent
		want string
	}{
		{
			domain.EngineEvent{Seq: 1, Time: ts, Kind: domain.EventPositionChanged, Payload: domain.PositionChanged{
				Previous: domain.FlatPosition(),
				Current:  domain.Position{Side: domain.SideShort, Size: 1, EntryPrice: 50},
				Reason:   "fill",
			}},
			"2024-01-02T03:04:05Z #1 position none -> short 1 @ 50 (fill)",
		},
		{
			domain.EngineEvent{Seq: 2, Time: ts, Kind: domain.EventOrder, Payload: domain.OrderEvent{Order: domain.Order{
				ClientOrderID: "c1", Purpose: domain.PurposeOpen, Status: domain.OrderFilled, Size: 1, FilledSize: 1,
			}}},
			"2024-01-02T03:04:05Z #2 order c1 open filled 1 filled=1",
		},
		{
			domain.EngineEvent{Seq: 3, Time: ts, Kind: domain.EventError, Payload: domain.ErrorEvent{Message: "boom", Class: "transient"}},
			"2024-01-02T03:04:05Z #3 error [transient] boom",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatEvent(tt.ev))
	}
}
