package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
	"autotrader/internal/risk"
)

// --- Mocks ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type recorder struct {
	events []domain.EngineEvent
}

func (r *recorder) Publish(kind domain.EventKind, payload any) domain.EngineEvent {
	ev := domain.EngineEvent{Seq: uint64(len(r.events) + 1), Kind: kind, Payload: payload}
	r.events = append(r.events, ev)
	return ev
}

func (r *recorder) kinds(kind domain.EventKind) []domain.EngineEvent {
	var out []domain.EngineEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type mockExchange struct {
	submitErrs []error
	submits    []ports.OrderRequest
	fillPrice  float64 // >0: orders report fully filled at this price
	partial    float64 // filled size reported once cancelled
	statusErr  error
	cancelErr  error
	afterErr   error // status error once a cancel was sent
	cancels    int
}

func (x *mockExchange) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	return nil, nil
}

func (x *mockExchange) FetchAccount(ctx context.Context, symbol string) (ports.AccountSnapshot, error) {
	return ports.AccountSnapshot{}, nil
}

func (x *mockExchange) SubmitOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderReport, error) {
	x.submits = append(x.submits, req)
	if len(x.submitErrs) > 0 {
		err := x.submitErrs[0]
		x.submitErrs = x.submitErrs[1:]
		if err != nil {
			return ports.OrderReport{}, err
		}
	}
	return ports.OrderReport{ExchangeOrderID: fmt.Sprintf("ex-%d", len(x.submits)), ClientOrderID: req.ClientOrderID, Status: domain.OrderSubmitted}, nil
}

func (x *mockExchange) FetchOrderStatus(ctx context.Context, symbol, clientOrderID string) (ports.OrderReport, error) {
	if x.statusErr != nil {
		return ports.OrderReport{}, x.statusErr
	}
	if x.cancels > 0 && x.afterErr != nil {
		return ports.OrderReport{}, x.afterErr
	}
	var req ports.OrderRequest
	for _, r := range x.submits {
		if r.ClientOrderID == clientOrderID {
			req = r
		}
	}
	switch {
	case x.fillPrice > 0:
		return ports.OrderReport{ClientOrderID: clientOrderID, Status: domain.OrderFilled, FilledSize: req.Size, AvgFillPrice: x.fillPrice}, nil
	case x.cancels > 0:
		return ports.OrderReport{ClientOrderID: clientOrderID, Status: domain.OrderCancelled, FilledSize: x.partial, AvgFillPrice: 100}, nil
	default:
		return ports.OrderReport{ClientOrderID: clientOrderID, Status: domain.OrderSubmitted}, nil
	}
}

func (x *mockExchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	x.cancels++
	return x.cancelErr
}

func (x *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

type mockJournal struct {
	orders []domain.Order
	trades []*domain.Trade
}

func (j *mockJournal) RecordOrder(ctx context.Context, symbol string, order domain.Order) error {
	j.orders = append(j.orders, order)
	return nil
}

func (j *mockJournal) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	j.trades = append(j.trades, trade)
	return int64(len(j.trades)), nil
}

func (j *mockJournal) ListTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return j.trades, nil
}

// --- Helpers ---

type fixture struct {
	m       *Machine
	ex      *mockExchange
	journal *mockJournal
	events  *recorder
	now     time.Time
}

func newFixture(t *testing.T, ex *mockExchange) *fixture {
	t.Helper()
	f := &fixture{ex: ex, journal: &mockJournal{}, events: &recorder{}, now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		Symbol:            "BTCUSDT",
		MaxSubmitAttempts: 5,
		OrderTimeout:      time.Minute,
		Now:               func() time.Time { return f.now },
		Sleep:             func(ctx context.Context, d time.Duration) error { return nil },
	}
	f.m = NewMachine(cfg, ex, f.journal, f.events, &mockLogger{})
	return f
}

func params() domain.TradeParameters {
	p := domain.DefaultTradeParameters()
	p.AutomationEnabled = true
	p.StopLossPct = 50
	p.TakeProfitPct = 50
	p.PositionSize = 1
	return p
}

func decide(m *Machine, price float64, action domain.Action) risk.Decision {
	return risk.NewGuard().Evaluate(m.Position(), params(), price, domain.TradeIntent{Action: action, Origin: domain.OriginStrategy})
}

func (f *fixture) adopt(side domain.Side, size, entry float64) {
	f.m.Reconcile(context.Background(), ports.AccountSnapshot{Position: domain.Position{Side: side, Size: size, EntryPrice: entry}}, entry)
}

// --- Tests ---

func TestMachine_OpenFillsAtReportedPrice(t *testing.T) {
	f := newFixture(t, &mockExchange{fillPrice: 101.5})

	err := f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong))
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
	pos := f.m.Position()
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.Equal(t, 101.5, pos.EntryPrice, "entry comes from the fill, not the signal price")
	assert.Equal(t, 1.0, pos.Size)
	assert.False(t, f.m.HasActiveOrder())

	orders := f.events.kinds(domain.EventOrder)
	require.Len(t, orders, 3)
	assert.Equal(t, domain.OrderPending, orders[0].Payload.(domain.OrderEvent).Order.Status)
	assert.Equal(t, domain.OrderSubmitted, orders[1].Payload.(domain.OrderEvent).Order.Status)
	assert.Equal(t, domain.OrderFilled, orders[2].Payload.(domain.OrderEvent).Order.Status)
	assert.Len(t, f.events.kinds(domain.EventPositionChanged), 1)

	require.Len(t, f.ex.submits, 1)
	assert.Len(t, f.ex.submits[0].ClientOrderID, 32)
	assert.False(t, f.ex.submits[0].ReduceOnly)
	require.Len(t, f.journal.orders, 1)
	assert.Equal(t, domain.OrderFilled, f.journal.orders[0].Status)
}

func TestMachine_TransientFailuresRetryWithSameClientID(t *testing.T) {
	netErr := fmt.Errorf("dial tcp: %w", ports.ErrNetwork)
	f := newFixture(t, &mockExchange{fillPrice: 100, submitErrs: []error{netErr, netErr, netErr}})

	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))

	require.Len(t, f.ex.submits, 4)
	for _, req := range f.ex.submits {
		assert.Equal(t, f.ex.submits[0].ClientOrderID, req.ClientOrderID)
	}

	errs := f.events.kinds(domain.EventError)
	require.Len(t, errs, 3)
	for i, ev := range errs {
		payload := ev.Payload.(domain.ErrorEvent)
		assert.Equal(t, i+1, payload.Attempt)
		assert.Equal(t, string(ports.ClassTransient), payload.Class)
	}
	changes := f.events.kinds(domain.EventPositionChanged)
	require.Len(t, changes, 1)
	assert.Greater(t, changes[0].Seq, errs[2].Seq)
	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
}

func TestMachine_RetriesExhausted(t *testing.T) {
	netErr := ports.ErrNetwork
	f := newFixture(t, &mockExchange{submitErrs: []error{netErr, netErr, netErr, netErr, netErr}})

	err := f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong))
	require.ErrorIs(t, err, ports.ErrNetwork)

	assert.Len(t, f.ex.submits, 5)
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
	assert.False(t, f.m.HasActiveOrder())
	errs := f.events.kinds(domain.EventError)
	require.Len(t, errs, 5)
	assert.Equal(t, 5, errs[4].Payload.(domain.ErrorEvent).Attempt)
}

func TestMachine_NonTransientRejectGoesBackToFlat(t *testing.T) {
	rejected := &ports.ExchangeError{Code: "-2010", Message: "rejected"}
	f := newFixture(t, &mockExchange{submitErrs: []error{rejected}})

	err := f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenShort))
	require.Error(t, err)
	assert.Len(t, f.ex.submits, 1)
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
	require.Len(t, f.events.kinds(domain.EventError), 1)
}

func TestMachine_FatalErrorFailsUntilReset(t *testing.T) {
	f := newFixture(t, &mockExchange{submitErrs: []error{fmt.Errorf("code -2015: %w", ports.ErrAuthenticationFailed)}})

	err := f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong))
	require.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	assert.Equal(t, domain.PhaseFailed, f.m.Phase())
	assert.Len(t, f.ex.submits, 1, "fatal errors are not retried")

	errs := f.events.kinds(domain.EventError)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Payload.(domain.ErrorEvent).Fatal)

	err = f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong))
	assert.ErrorIs(t, err, ErrMachineFailed)
	assert.Len(t, f.ex.submits, 1)

	require.NoError(t, f.m.Reset())
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
	assert.ErrorIs(t, f.m.Reset(), ErrNotFailed)
}

func TestMachine_DoubleCloseSubmitsOnce(t *testing.T) {
	f := newFixture(t, &mockExchange{})
	f.adopt(domain.SideLong, 1, 100)
	require.Equal(t, domain.PhaseOpen, f.m.Phase())

	first := decide(f.m, 100, domain.ActionClose)
	second := decide(f.m, 100, domain.ActionClose)

	require.NoError(t, f.m.Apply(context.Background(), first))
	assert.ErrorIs(t, f.m.Apply(context.Background(), second), ErrOrderInFlight)
	assert.Len(t, f.ex.submits, 1)
	assert.True(t, f.ex.submits[0].ReduceOnly)
	assert.Equal(t, domain.Sell, f.ex.submits[0].Side)
	assert.Equal(t, domain.PhaseClosing, f.m.Phase())

	f.ex.fillPrice = 101
	require.NoError(t, f.m.Poll(context.Background()))
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
	require.Len(t, f.journal.trades, 1)
	assert.InDelta(t, 1.0, f.journal.trades[0].PNL, 1e-9)
	assert.Equal(t, domain.CloseReasonStrategy, f.journal.trades[0].CloseReason)

	// A close approved against the old position does nothing once flat.
	require.NoError(t, f.m.Apply(context.Background(), second))
	assert.Len(t, f.ex.submits, 1)
}

func TestMachine_StaleOrderCancelled(t *testing.T) {
	f := newFixture(t, &mockExchange{})
	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))
	require.Equal(t, domain.PhaseOpening, f.m.Phase())

	require.NoError(t, f.m.Poll(context.Background()))
	assert.Equal(t, 0, f.ex.cancels, "not stale yet")

	f.now = f.now.Add(2 * time.Minute)
	require.NoError(t, f.m.Poll(context.Background()))
	assert.Equal(t, 1, f.ex.cancels)
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
	assert.False(t, f.m.HasActiveOrder())

	orders := f.events.kinds(domain.EventOrder)
	assert.Equal(t, domain.OrderCancelled, orders[len(orders)-1].Payload.(domain.OrderEvent).Order.Status)
	assert.Empty(t, f.events.kinds(domain.EventPositionChanged))
}

func TestMachine_UnreadableOrderCancelledAfterTimeout(t *testing.T) {
	f := newFixture(t, &mockExchange{})
	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))
	require.Equal(t, domain.PhaseOpening, f.m.Phase())

	f.ex.statusErr = ports.ErrOrderNotFound
	assert.ErrorIs(t, f.m.Poll(context.Background()), ports.ErrOrderNotFound)
	assert.True(t, f.m.HasActiveOrder(), "a missing order is not given up before the timeout")

	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.m.Poll(context.Background()))
	f.m.Reconcile(context.Background(), ports.AccountSnapshot{Position: domain.FlatPosition()}, 100)

	assert.Equal(t, 1, f.ex.cancels)
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
	assert.False(t, f.m.HasActiveOrder())
	require.NotEmpty(t, f.journal.orders)
	assert.Equal(t, domain.OrderCancelled, f.journal.orders[len(f.journal.orders)-1].Status)

	f.ex.statusErr = nil
	f.ex.fillPrice = 100
	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))
	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
}

func TestMachine_StatusOutageResolvedFromAccountAfterTimeout(t *testing.T) {
	tests := []struct {
		name    string
		adopt   bool // start from an open long
		action  domain.Action
		account domain.Position
		want    domain.Position
	}{
		{
			name:    "open with flat account",
			action:  domain.ActionOpenLong,
			account: domain.FlatPosition(),
			want:    domain.FlatPosition(),
		},
		{
			name:    "open with opposite account",
			action:  domain.ActionOpenLong,
			account: domain.Position{Side: domain.SideShort, Size: 1, EntryPrice: 100},
			want:    domain.Position{Side: domain.SideShort, Size: 1, EntryPrice: 100},
		},
		{
			name:    "close with position still held",
			adopt:   true,
			action:  domain.ActionClose,
			account: domain.Position{Side: domain.SideLong, Size: 1, EntryPrice: 100},
			want:    domain.Position{Side: domain.SideLong, Size: 1, EntryPrice: 100},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &mockExchange{})
			if tt.adopt {
				f.adopt(domain.SideLong, 1, 100)
			}
			require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, tt.action)))
			require.True(t, f.m.HasActiveOrder())

			f.ex.statusErr = ports.ErrNetwork
			f.ex.cancelErr = ports.ErrNetwork
			f.m.Reconcile(context.Background(), ports.AccountSnapshot{Position: tt.account}, 100)
			assert.True(t, f.m.HasActiveOrder(), "not resolved before the timeout")

			f.now = f.now.Add(time.Hour)
			f.m.Reconcile(context.Background(), ports.AccountSnapshot{Position: tt.account}, 100)

			assert.False(t, f.m.HasActiveOrder())
			pos := f.m.Position()
			assert.Equal(t, tt.want.Side, pos.Side)
			assert.InDelta(t, tt.want.Size, pos.Size, 1e-9)
			assert.Empty(t, f.journal.trades)
			assert.Equal(t, domain.OrderCancelled, f.journal.orders[len(f.journal.orders)-1].Status)
		})
	}
}

func TestMachine_FatalErrorWhileCancellingFails(t *testing.T) {
	tests := []struct {
		name      string
		cancelErr error
		statusErr error
	}{
		{name: "cancel unauthorized", cancelErr: fmt.Errorf("code 50113: %w", ports.ErrAuthenticationFailed)},
		{name: "cancel without funds", cancelErr: ports.ErrInsufficientFunds},
		{name: "status unauthorized", statusErr: ports.ErrInvalidAPIKeys},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &mockExchange{})
			require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))

			f.ex.cancelErr = tt.cancelErr
			f.ex.afterErr = tt.statusErr
			f.now = f.now.Add(2 * time.Minute)
			want := tt.cancelErr
			if want == nil {
				want = tt.statusErr
			}
			assert.ErrorIs(t, f.m.Poll(context.Background()), want)

			assert.Equal(t, domain.PhaseFailed, f.m.Phase())
			assert.False(t, f.m.HasActiveOrder())
			errs := f.events.kinds(domain.EventError)
			require.NotEmpty(t, errs)
			assert.True(t, errs[len(errs)-1].Payload.(domain.ErrorEvent).Fatal)
		})
	}
}

func TestMachine_CancelledBackoffKeepsTrackingSentOrder(t *testing.T) {
	f := newFixture(t, &mockExchange{submitErrs: []error{fmt.Errorf("read: %w", ports.ErrTimeout)}})
	ctx, cancel := context.WithCancel(context.Background())
	f.m.cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := f.m.Apply(ctx, decide(f.m, 100, domain.ActionOpenLong))
	require.ErrorIs(t, err, context.Canceled)

	require.True(t, f.m.HasActiveOrder(), "the timed-out attempt may be live")
	assert.Equal(t, domain.PhaseOpening, f.m.Phase())
	assert.Equal(t, domain.OrderSubmitted, f.m.State().ActiveOrder.Status)
	assert.Empty(t, f.journal.orders)

	f.ex.fillPrice = 100.5
	require.NoError(t, f.m.Poll(context.Background()))
	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
	assert.Equal(t, 100.5, f.m.Position().EntryPrice)
}

func TestMachine_CancelledBackoffAfterRateLimitAbandons(t *testing.T) {
	f := newFixture(t, &mockExchange{submitErrs: []error{ports.ErrRateLimited}})
	ctx, cancel := context.WithCancel(context.Background())
	f.m.cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	require.ErrorIs(t, f.m.Apply(ctx, decide(f.m, 100, domain.ActionOpenLong)), context.Canceled)
	assert.False(t, f.m.HasActiveOrder())
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
}

func TestMachine_PartialFillThenCancelKeepsFilledPart(t *testing.T) {
	f := newFixture(t, &mockExchange{partial: 0.4})
	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))

	f.now = f.now.Add(5 * time.Minute)
	require.NoError(t, f.m.Poll(context.Background()))

	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
	assert.InDelta(t, 0.4, f.m.Position().Size, 1e-9)
	assert.Equal(t, 100.0, f.m.Position().EntryPrice)
}

func TestMachine_ReversalClosesThenOpens(t *testing.T) {
	f := newFixture(t, &mockExchange{fillPrice: 105})
	f.adopt(domain.SideLong, 1, 100)

	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 105, domain.ActionOpenShort)))

	require.Len(t, f.ex.submits, 2)
	assert.True(t, f.ex.submits[0].ReduceOnly)
	assert.Equal(t, domain.Sell, f.ex.submits[0].Side)
	assert.False(t, f.ex.submits[1].ReduceOnly)
	assert.Equal(t, domain.Sell, f.ex.submits[1].Side)
	assert.NotEqual(t, f.ex.submits[0].ClientOrderID, f.ex.submits[1].ClientOrderID)

	pos := f.m.Position()
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.Equal(t, 105.0, pos.EntryPrice)
	assert.Equal(t, domain.PhaseOpen, f.m.Phase())

	require.Len(t, f.journal.trades, 1)
	assert.Equal(t, domain.CloseReasonReversal, f.journal.trades[0].CloseReason)
	assert.InDelta(t, 5.0, f.journal.trades[0].PNL, 1e-9)
}

func TestMachine_ReconcileAdoptsExchangePosition(t *testing.T) {
	f := newFixture(t, &mockExchange{})

	f.adopt(domain.SideShort, 2, 100)
	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
	changes := f.events.kinds(domain.EventPositionChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, string(domain.CloseReasonReconciled), changes[0].Payload.(domain.PositionChanged).Reason)

	// Same position with a refined entry price updates silently.
	f.adopt(domain.SideShort, 2, 100.5)
	assert.Len(t, f.events.kinds(domain.EventPositionChanged), 1)
	assert.Equal(t, 100.5, f.m.Position().EntryPrice)

	f.m.Reconcile(context.Background(), ports.AccountSnapshot{Position: domain.FlatPosition()}, 99)
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
	assert.Len(t, f.events.kinds(domain.EventPositionChanged), 2)
}

func TestMachine_ReconcileResolvesOpeningFromAccount(t *testing.T) {
	f := newFixture(t, &mockExchange{})
	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))
	require.Equal(t, domain.PhaseOpening, f.m.Phase())

	f.ex.statusErr = ports.ErrNetwork
	f.adopt(domain.SideLong, 1, 99.5)

	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
	assert.False(t, f.m.HasActiveOrder())
	assert.Equal(t, 99.5, f.m.Position().EntryPrice)
}

func TestMachine_DuplicateOrderTreatedAsAccepted(t *testing.T) {
	f := newFixture(t, &mockExchange{fillPrice: 100, submitErrs: []error{ports.ErrNetwork, ports.ErrDuplicateOrder}})

	require.NoError(t, f.m.Apply(context.Background(), decide(f.m, 100, domain.ActionOpenLong)))
	assert.Len(t, f.ex.submits, 2)
	assert.Equal(t, domain.PhaseOpen, f.m.Phase())
	assert.Len(t, f.events.kinds(domain.EventError), 1)
}

func TestMachine_RefusesUnissuedDecisions(t *testing.T) {
	f := newFixture(t, &mockExchange{fillPrice: 100})

	forged := risk.Decision{Verdict: risk.Approved, Intent: domain.TradeIntent{Action: domain.ActionOpenLong, Size: 1}}
	assert.ErrorIs(t, f.m.Apply(context.Background(), forged), ErrNotApproved)

	p := params()
	p.AutomationEnabled = false
	rejected := risk.NewGuard().Evaluate(f.m.Position(), p, 100, domain.TradeIntent{Action: domain.ActionOpenLong, Origin: domain.OriginStrategy})
	assert.NoError(t, f.m.Apply(context.Background(), rejected))

	assert.Empty(t, f.ex.submits)
	assert.Equal(t, domain.PhaseFlat, f.m.Phase())
}

func TestMachine_AtMostOneLiveOrder(t *testing.T) {
	f := newFixture(t, &mockExchange{})
	actions := []domain.Action{domain.ActionOpenLong, domain.ActionOpenShort, domain.ActionClose, domain.ActionOpenLong}
	for _, a := range actions {
		_ = f.m.Apply(context.Background(), decide(f.m, 100, a))
		assert.Equal(t, domain.PhaseOpening, f.m.Phase())
	}
	assert.Len(t, f.ex.submits, 1)
}
