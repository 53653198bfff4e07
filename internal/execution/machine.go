package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
	"autotrader/internal/risk"
)

var (
	ErrOrderInFlight = errors.New("an order is already in flight")
	ErrMachineFailed = errors.New("trading halted after a fatal error; reset required")
	ErrNotApproved   = errors.New("intent was not approved by the risk guard")
	ErrNotFailed     = errors.New("machine is not in the failed state")
)

// Publisher receives engine events.
type Publisher interface {
	Publish(kind domain.EventKind, payload any) domain.EngineEvent
}

// Config tunes order submission and tracking.
type Config struct {
	Symbol            string
	MaxSubmitAttempts int
	RetryMinDelay     time.Duration
	RetryMaxDelay     time.Duration
	OrderTimeout      time.Duration // unfilled orders older than this are cancelled

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) applyDefaults() {
	if c.MaxSubmitAttempts <= 0 {
		c.MaxSubmitAttempts = 5
	}
	if c.RetryMinDelay <= 0 {
		c.RetryMinDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 2 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
}

// State is a copy of the machine's state, safe to hand to other goroutines.
type State struct {
	Phase       domain.Phase
	Position    domain.Position
	ActiveOrder *domain.Order
	Reversing   bool
}

// Machine tracks the position and at most one live order.
//
// Machine is not safe for concurrent use; the engine goroutine owns it.
type Machine struct {
	cfg      Config
	exchange ports.ExchangeClient
	journal  ports.Journal
	events   Publisher
	logger   ports.Logger

	phase       domain.Phase
	position    domain.Position
	order       *domain.Order
	pendingOpen *domain.TradeIntent
	closeReason domain.CloseReason
	openedAt    time.Time
	lastPrice   float64
}

// NewMachine creates a flat machine. journal may be nil.
func NewMachine(cfg Config, exchange ports.ExchangeClient, journal ports.Journal, events Publisher, logger ports.Logger) *Machine {
	cfg.applyDefaults()
	return &Machine{
		cfg:      cfg,
		exchange: exchange,
		journal:  journal,
		events:   events,
		logger:   logger,
		phase:    domain.PhaseFlat,
		position: domain.FlatPosition(),
	}
}

func (m *Machine) Phase() domain.Phase { return m.phase }

func (m *Machine) Position() domain.Position { return m.position }

// HasActiveOrder reports whether a non-terminal order is being tracked.
func (m *Machine) HasActiveOrder() bool { return m.order != nil }

// State returns a copy of the current state.
func (m *Machine) State() State {
	s := State{Phase: m.phase, Position: m.position, Reversing: m.pendingOpen != nil}
	if m.order != nil {
		o := m.order.Copy()
		s.ActiveOrder = &o
	}
	return s
}

// Apply acts on a risk decision. Rejected decisions and holds are no-ops.
func (m *Machine) Apply(ctx context.Context, d risk.Decision) error {
	if !d.Allowed() {
		if d.Verdict == risk.Rejected {
			return nil
		}
		return ErrNotApproved
	}
	intent := d.Intent
	if intent.Action == domain.ActionHold {
		return nil
	}
	if m.phase == domain.PhaseFailed {
		return ErrMachineFailed
	}
	if m.order != nil {
		return ErrOrderInFlight
	}

	pos := m.position.Normalize()
	switch intent.Action {
	case domain.ActionClose:
		if pos.IsFlat() {
			return nil
		}
		size := intent.Size
		if size <= 0 || size > pos.Size {
			size = pos.Size
		}
		return m.submit(ctx, domain.PurposeClose, pos.Side.ClosingOrderSide(), size, closeReasonFor(intent))

	case domain.ActionOpenLong, domain.ActionOpenShort:
		side := intent.Side()
		if pos.Side == side {
			return nil
		}
		if !pos.IsFlat() {
			pending := intent
			m.pendingOpen = &pending
			return m.submit(ctx, domain.PurposeClose, pos.Side.ClosingOrderSide(), math.Min(pos.Size, intent.Size), domain.CloseReasonReversal)
		}
		return m.submit(ctx, domain.PurposeOpen, side.OpeningOrderSide(), intent.Size, "")
	}
	return fmt.Errorf("unsupported action %q", intent.Action)
}

func (m *Machine) submit(ctx context.Context, purpose domain.OrderPurpose, side domain.OrderSide, size float64, reason domain.CloseReason) error {
	now := m.cfg.Now()
	id := uuid.New()
	m.order = &domain.Order{
		ID:            id.String(),
		ClientOrderID: strings.ReplaceAll(id.String(), "-", ""),
		Side:          side,
		Type:          domain.OrderTypeMarket,
		Size:          size,
		Status:        domain.OrderPending,
		Purpose:       purpose,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	if purpose == domain.PurposeOpen {
		m.phase = domain.PhaseOpening
	} else {
		m.phase = domain.PhaseClosing
		m.closeReason = reason
	}
	m.emitOrder()

	req := ports.OrderRequest{
		Symbol:        m.cfg.Symbol,
		ClientOrderID: m.order.ClientOrderID,
		Side:          side,
		Type:          domain.OrderTypeMarket,
		Size:          size,
		ReduceOnly:    purpose == domain.PurposeClose,
	}
	b := &backoff.Backoff{Min: m.cfg.RetryMinDelay, Max: m.cfg.RetryMaxDelay, Factor: 2}

	var report ports.OrderReport
	var err error
	sent := false // some attempt may have reached the exchange
	for attempt := 1; ; attempt++ {
		report, err = m.exchange.SubmitOrder(ctx, req)
		if errors.Is(err, ports.ErrDuplicateOrder) {
			// An earlier attempt reached the exchange after all.
			report, err = m.exchange.FetchOrderStatus(ctx, m.cfg.Symbol, req.ClientOrderID)
		}
		if err == nil {
			break
		}
		if ports.IsFatal(err) {
			m.Fail(ctx, err)
			return err
		}
		if !ports.IsTransient(err) || attempt >= m.cfg.MaxSubmitAttempts {
			m.abandon(ctx, err, attempt)
			return err
		}

		m.logger.Warn(ctx, "Order submission failed, retrying", map[string]interface{}{
			"clientOrderId": req.ClientOrderID, "attempt": attempt, "error": err.Error(),
		})
		m.emitError(err, attempt)
		sent = sent || mayHaveReached(err)
		if serr := m.cfg.Sleep(ctx, b.Duration()); serr != nil {
			if sent {
				m.detach(ctx, serr, attempt)
			} else {
				m.abandon(ctx, serr, attempt)
			}
			return serr
		}
	}

	if report.Status == "" || report.Status == domain.OrderPending {
		report.Status = domain.OrderSubmitted
	}
	m.absorb(report)
	m.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"clientOrderId": m.order.ClientOrderID, "side": side, "size": size, "purpose": purpose,
	})
	if m.order.IsTerminal() {
		m.settle(ctx)
		return nil
	}
	_ = m.Poll(ctx)
	return nil
}

// Poll refreshes the active order from the exchange.
func (m *Machine) Poll(ctx context.Context) error {
	if m.order == nil {
		return nil
	}
	report, err := m.exchange.FetchOrderStatus(ctx, m.cfg.Symbol, m.order.ClientOrderID)
	if err != nil {
		if ports.IsFatal(err) {
			m.Fail(ctx, err)
			return err
		}
		// An unreadable order still gets cancelled once it is stale.
		if m.stale() {
			return m.cancelStale(ctx)
		}
		m.emitError(err, 0)
		return err
	}
	m.absorb(report)
	if m.order.IsTerminal() {
		m.settle(ctx)
		return nil
	}
	if m.stale() {
		return m.cancelStale(ctx)
	}
	return nil
}

func (m *Machine) stale() bool {
	return m.cfg.Now().Sub(m.order.SubmittedAt) >= m.cfg.OrderTimeout
}

func (m *Machine) cancelStale(ctx context.Context) error {
	o := m.order
	m.logger.Warn(ctx, "Cancelling stale order", map[string]interface{}{
		"clientOrderId": o.ClientOrderID, "age": m.cfg.Now().Sub(o.SubmittedAt).String(),
	})
	if err := m.exchange.CancelOrder(ctx, m.cfg.Symbol, o.ClientOrderID); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		return m.staleFailure(ctx, err)
	}
	report, err := m.exchange.FetchOrderStatus(ctx, m.cfg.Symbol, o.ClientOrderID)
	switch {
	case errors.Is(err, ports.ErrOrderNotFound):
		// The exchange no longer knows the order: nothing beyond what we
		// already saw was filled.
		m.absorb(ports.OrderReport{Status: domain.OrderCancelled, FilledSize: o.FilledSize})
	case err != nil:
		return m.staleFailure(ctx, err)
	default:
		m.absorb(report)
	}
	if m.order.IsTerminal() {
		m.settle(ctx)
	}
	return nil
}

func (m *Machine) staleFailure(ctx context.Context, err error) error {
	if ports.IsFatal(err) {
		m.Fail(ctx, err)
		return err
	}
	m.emitError(err, 0)
	return err
}

// absorb copies an exchange report onto the active order.
func (m *Machine) absorb(r ports.OrderReport) {
	o := m.order
	changed := (r.Status != "" && r.Status != o.Status) || r.FilledSize != o.FilledSize
	if r.ExchangeOrderID != "" && r.ExchangeOrderID != o.ExchangeOrderID {
		o.ExchangeOrderID = r.ExchangeOrderID
		changed = true
	}
	if r.Status != "" {
		o.Status = r.Status
	}
	o.FilledSize = r.FilledSize
	if r.AvgFillPrice > 0 {
		o.AvgFillPrice = r.AvgFillPrice
	}
	if !r.UpdatedAt.IsZero() {
		o.UpdatedAt = r.UpdatedAt
	} else {
		o.UpdatedAt = m.cfg.Now()
	}
	if changed {
		m.emitOrder()
	}
}

// settle finishes a terminal order. Partial fills on cancelled or failed
// orders still move the position.
func (m *Machine) settle(ctx context.Context) {
	o := *m.order
	m.order = nil
	m.record(ctx, o)

	if o.FilledSize > domain.SizeEpsilon {
		m.applyFill(ctx, o)
		return
	}
	m.logger.Warn(ctx, "Order ended without a fill", map[string]interface{}{
		"clientOrderId": o.ClientOrderID, "status": o.Status,
	})
	m.pendingOpen = nil
	m.phase = m.stablePhase()
}

func (m *Machine) applyFill(ctx context.Context, o domain.Order) {
	prev := m.position
	price := o.AvgFillPrice
	if price <= 0 {
		price = m.lastPrice
	}

	if o.Purpose == domain.PurposeOpen {
		side := domain.SideLong
		if o.Side == domain.Sell {
			side = domain.SideShort
		}
		m.position = domain.Position{Side: side, EntryPrice: price, Size: o.FilledSize}.MarkToMarket(price)
		m.phase = domain.PhaseOpen
		m.openedAt = o.UpdatedAt
		m.emitPosition(prev, "OPENED")
		m.logger.Info(ctx, "Position opened", map[string]interface{}{
			"side": side, "entryPrice": price, "size": o.FilledSize,
		})
		return
	}

	closed := math.Min(o.FilledSize, prev.Size)
	pnl := 0.0
	if prev.Size > 0 {
		pnl = prev.PnLAt(price) * closed / prev.Size
	}
	m.recordTrade(ctx, &domain.Trade{
		Symbol:      m.cfg.Symbol,
		Side:        prev.Side,
		EntryPrice:  prev.EntryPrice,
		ExitPrice:   price,
		Size:        closed,
		PNL:         pnl,
		EntryTime:   m.openedAt,
		ExitTime:    o.UpdatedAt,
		CloseReason: m.closeReason,
	})

	next := prev
	next.Size = prev.Size - closed
	m.position = next.Normalize().MarkToMarket(price)
	m.phase = m.stablePhase()
	if m.position.IsFlat() {
		m.openedAt = time.Time{}
	}
	m.emitPosition(prev, string(m.closeReason))
	m.logger.Info(ctx, "Position reduced", map[string]interface{}{
		"closed": closed, "exitPrice": price, "pnl": pnl, "reason": m.closeReason,
	})

	if m.pendingOpen == nil {
		return
	}
	pending := *m.pendingOpen
	if m.position.IsFlat() {
		m.pendingOpen = nil
		_ = m.submit(ctx, domain.PurposeOpen, pending.Side().OpeningOrderSide(), pending.Size, "")
		return
	}
	_ = m.submit(ctx, domain.PurposeClose, m.position.Side.ClosingOrderSide(), math.Min(m.position.Size, pending.Size), domain.CloseReasonReversal)
}

// abandon gives up on the active order after a non-fatal failure.
func (m *Machine) abandon(ctx context.Context, err error, attempt int) {
	o := m.order
	o.Status = domain.OrderFailed
	o.UpdatedAt = m.cfg.Now()
	m.emitOrder()
	m.record(ctx, *o)
	m.order = nil
	m.pendingOpen = nil
	m.phase = m.stablePhase()

	m.logger.Error(ctx, err, "Order submission abandoned", map[string]interface{}{
		"clientOrderId": o.ClientOrderID, "attempts": attempt,
	})
	m.emitError(err, attempt)
}

// detach stops submitting but keeps tracking the order. A timed-out attempt
// may still be live, so Poll resolves it by client order id.
func (m *Machine) detach(ctx context.Context, err error, attempt int) {
	m.order.Status = domain.OrderSubmitted
	m.order.UpdatedAt = m.cfg.Now()
	m.emitOrder()
	m.logger.Warn(ctx, "Order submission interrupted, tracking by client id", map[string]interface{}{
		"clientOrderId": m.order.ClientOrderID, "attempts": attempt, "error": err.Error(),
	})
}

// Reconcile compares local state with the exchange account and corrects the
// local record. The exchange wins on what exists.
func (m *Machine) Reconcile(ctx context.Context, snap ports.AccountSnapshot, price float64) {
	if price > 0 {
		m.lastPrice = price
	}
	exch := snap.Position.Normalize()
	if m.phase == domain.PhaseFailed {
		m.position = exch
		return
	}

	if m.order != nil {
		if err := m.Poll(ctx); err != nil && m.order != nil {
			m.reconcileInFlight(ctx, exch)
		}
		if m.order != nil || m.phase == domain.PhaseFailed {
			return
		}
	}

	if !m.position.Equal(exch) {
		prev := m.position
		m.position = exch
		m.pendingOpen = nil
		m.phase = m.stablePhase()
		switch {
		case exch.IsFlat():
			m.openedAt = time.Time{}
		case prev.IsFlat() || prev.Side != exch.Side:
			m.openedAt = m.cfg.Now()
		}
		m.logger.Warn(ctx, "Local position corrected from exchange", map[string]interface{}{
			"localSide": prev.Side, "localSize": prev.Size, "exchangeSide": exch.Side, "exchangeSize": exch.Size,
		})
		m.emitPosition(prev, string(domain.CloseReasonReconciled))
		return
	}
	if !exch.IsFlat() && exch.EntryPrice > 0 {
		m.position.EntryPrice = exch.EntryPrice
	}
}

// reconcileInFlight resolves an order whose status could not be fetched by
// looking at the account position instead. Past the order timeout, a
// position that does not show the fill means the order did not fill.
func (m *Machine) reconcileInFlight(ctx context.Context, exch domain.Position) {
	o := m.order
	status := domain.OrderFilled
	switch o.Purpose {
	case domain.PurposeOpen:
		want := domain.SideLong
		if o.Side == domain.Sell {
			want = domain.SideShort
		}
		if exch.IsFlat() || exch.Side != want {
			if !m.stale() {
				return
			}
			status = domain.OrderCancelled
			break
		}
		o.FilledSize = exch.Size
		o.AvgFillPrice = exch.EntryPrice
	case domain.PurposeClose:
		switch {
		case exch.IsFlat():
			o.FilledSize = m.position.Size
		case !m.stale():
			return
		case exch.Side == m.position.Side:
			status = domain.OrderCancelled
			// whatever the exchange no longer holds was closed
			o.FilledSize = math.Max(0, m.position.Size-exch.Size)
		default:
			status = domain.OrderCancelled
			o.FilledSize = 0
		}
		o.AvgFillPrice = m.lastPrice
	}
	if status == domain.OrderCancelled {
		m.pendingOpen = nil
	}
	o.Status = status
	o.UpdatedAt = m.cfg.Now()
	m.emitOrder()
	m.logger.Warn(ctx, "Order resolved from account snapshot", map[string]interface{}{
		"clientOrderId": o.ClientOrderID, "status": status,
	})
	m.settle(ctx)
}

// MarkToMarket updates unrealized P&L at price.
func (m *Machine) MarkToMarket(price float64) {
	if price <= 0 {
		return
	}
	m.lastPrice = price
	m.position = m.position.MarkToMarket(price)
}

// Fail halts trading after an unrecoverable error.
func (m *Machine) Fail(ctx context.Context, err error) {
	if m.order != nil {
		o := m.order
		o.Status = domain.OrderFailed
		o.UpdatedAt = m.cfg.Now()
		m.emitOrder()
		m.record(ctx, *o)
		m.order = nil
	}
	m.pendingOpen = nil
	m.phase = domain.PhaseFailed
	m.logger.Error(ctx, err, "Fatal exchange error, trading halted")
	m.events.Publish(domain.EventError, domain.ErrorEvent{
		Message: err.Error(),
		Class:   string(ports.ClassFatal),
		Fatal:   true,
	})
}

// Reset leaves the failed state. The next reconciliation restores any
// position the exchange still holds.
func (m *Machine) Reset() error {
	if m.phase != domain.PhaseFailed {
		return ErrNotFailed
	}
	m.phase = domain.PhaseFlat
	m.position = domain.FlatPosition()
	m.order = nil
	m.pendingOpen = nil
	m.openedAt = time.Time{}
	return nil
}

func (m *Machine) stablePhase() domain.Phase {
	if m.position.IsFlat() {
		return domain.PhaseFlat
	}
	return domain.PhaseOpen
}

func (m *Machine) emitOrder() {
	m.events.Publish(domain.EventOrder, domain.OrderEvent{Order: m.order.Copy()})
}

func (m *Machine) emitPosition(prev domain.Position, reason string) {
	m.events.Publish(domain.EventPositionChanged, domain.PositionChanged{
		Previous: prev,
		Current:  m.position,
		Reason:   reason,
	})
}

func (m *Machine) emitError(err error, attempt int) {
	class := ports.Classify(err)
	m.events.Publish(domain.EventError, domain.ErrorEvent{
		Message: err.Error(),
		Class:   string(class),
		Fatal:   class == ports.ClassFatal,
		Attempt: attempt,
	})
}

func (m *Machine) record(ctx context.Context, o domain.Order) {
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordOrder(ctx, m.cfg.Symbol, o); err != nil {
		m.logger.Warn(ctx, "Failed to journal order", map[string]interface{}{"clientOrderId": o.ClientOrderID, "error": err.Error()})
	}
}

func (m *Machine) recordTrade(ctx context.Context, t *domain.Trade) {
	if m.journal == nil {
		return
	}
	if _, err := m.journal.RecordTrade(ctx, t); err != nil {
		m.logger.Warn(ctx, "Failed to journal trade", map[string]interface{}{"error": err.Error()})
	}
}

func closeReasonFor(intent domain.TradeIntent) domain.CloseReason {
	switch intent.Origin {
	case domain.OriginRisk:
		if intent.Reason != "" {
			return domain.CloseReason(intent.Reason)
		}
		return domain.CloseReasonUnknown
	case domain.OriginManual:
		return domain.CloseReasonManual
	default:
		return domain.CloseReasonStrategy
	}
}

// mayHaveReached reports whether a failed submission could still have been
// accepted. A rate limit is a refusal.
func mayHaveReached(err error) bool {
	return ports.IsTransient(err) && !errors.Is(err, ports.ErrRateLimited)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
