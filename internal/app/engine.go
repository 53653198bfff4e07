package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"autotrader/internal/domain"
	"autotrader/internal/events"
	"autotrader/internal/execution"
	"autotrader/internal/ports"
	"autotrader/internal/risk"
	"autotrader/internal/strategy"
	"autotrader/internal/strategy/indicators"
	"autotrader/internal/utils"
)

// Config holds the engine's scheduling settings.
type Config struct {
	Symbol            string
	Interval          domain.Interval
	CycleDelay        time.Duration // wait after the candle boundary so the exchange has closed the bar
	OrderPollInterval time.Duration
	OrderTimeout      time.Duration
	CandleHistory     int
	CommandBuffer     int

	MaxSubmitAttempts int
	RetryMinDelay     time.Duration
	RetryMaxDelay     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval == "" {
		c.Interval = domain.DefaultInterval
	}
	if c.CycleDelay <= 0 {
		c.CycleDelay = 2 * time.Second
	}
	if c.OrderPollInterval <= 0 {
		c.OrderPollInterval = 3 * time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 2 * time.Minute
	}
	if c.CandleHistory <= 0 {
		c.CandleHistory = 200
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = 16
	}
}

// Deps are the engine's collaborators. Journal, ParamStore and Streamer are optional.
type Deps struct {
	Exchange   ports.ExchangeClient
	Journal    ports.Journal
	ParamStore ports.ParameterStore
	Streamer   ports.PriceStreamer
	Bus        *events.Bus
	Logger     ports.Logger
	Params     domain.TradeParameters
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Snapshot is a read-only copy of engine state for presentation.
type Snapshot struct {
	Symbol       string
	Phase        domain.Phase
	Position     domain.Position
	ActiveOrder  *domain.Order
	Params       domain.TradeParameters
	Indicators   domain.IndicatorSnapshot
	LastPrice    float64
	Cycle        int64
	CycleID      string
	LastCycleAt  time.Time
	SkippedTicks int64
	Running      bool
}

// Engine runs trading cycles: fetch, indicate, strategize, risk-check, act.
// All trading state is owned by the goroutine calling Run; other goroutines
// talk to it through the command methods and read it through Snapshot.
type Engine struct {
	cfg        Config
	exchange   ports.ExchangeClient
	paramStore ports.ParameterStore
	streamer   ports.PriceStreamer
	bus        *events.Bus
	logger     ports.Logger
	now        func() time.Time

	machine   *execution.Machine
	guard     risk.Guard
	calc      indicators.Calculator
	evaluator strategy.Evaluator

	params     domain.TradeParameters
	leverage   int // last leverage the exchange accepted, 0 before the first
	indicators domain.IndicatorSnapshot
	lastPrice  float64
	cycle      int64
	cycleID    string
	lastCycle  time.Time
	skipped    int64

	commands chan command
	snapshot atomic.Pointer[Snapshot]
	running  atomic.Bool
}

// NewEngine wires an engine. Params must be valid.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Exchange == nil || deps.Bus == nil || deps.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	cfg.applyDefaults()
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol must be set", ports.ErrConfigurationError)
	}
	if !cfg.Interval.Valid() {
		return nil, fmt.Errorf("%w: unsupported interval %q", ports.ErrConfigurationError, cfg.Interval)
	}
	if err := deps.Params.Validate(); err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	evaluator, err := strategy.New(deps.Params.Strategy, deps.Params.Settings, deps.Logger)
	if err != nil {
		return nil, err
	}

	machine := execution.NewMachine(execution.Config{
		Symbol:            cfg.Symbol,
		MaxSubmitAttempts: cfg.MaxSubmitAttempts,
		RetryMinDelay:     cfg.RetryMinDelay,
		RetryMaxDelay:     cfg.RetryMaxDelay,
		OrderTimeout:      cfg.OrderTimeout,
		Now:               deps.Now,
		Sleep:             deps.Sleep,
	}, deps.Exchange, deps.Journal, deps.Bus, deps.Logger)

	e := &Engine{
		cfg:        cfg,
		exchange:   deps.Exchange,
		paramStore: deps.ParamStore,
		streamer:   deps.Streamer,
		bus:        deps.Bus,
		logger:     deps.Logger,
		now:        deps.Now,
		machine:    machine,
		guard:      risk.NewGuard(),
		calc:       indicators.NewCalculator(deps.Params.Settings),
		evaluator:  evaluator,
		params:     deps.Params,
		cycle:      -1,
		commands:   make(chan command, cfg.CommandBuffer),
	}
	e.publishSnapshot()
	return e, nil
}

// Snapshot returns the state as of the last cycle or command.
func (e *Engine) Snapshot() Snapshot {
	s := *e.snapshot.Load()
	s.Running = e.running.Load()
	return s
}

// Events exposes the bus for observers.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// RunCycle executes one full cycle. Errors are turned into events; only a
// fatal error stops trading, and it does so by moving the machine to Failed.
func (e *Engine) RunCycle(ctx context.Context) {
	e.runCycle(ctx, nil)
}

// runCycle applies first, then any queued commands, before fetching data.
func (e *Engine) runCycle(ctx context.Context, first *command) {
	e.cycle++
	e.cycleID = utils.NewIDAt(e.now())
	e.lastCycle = e.now()
	defer e.publishSnapshot()

	var manual *domain.TradeIntent
	if first != nil {
		manual = e.applyCommand(ctx, *first)
	}
	if queued := e.drainCommands(ctx); queued != nil {
		manual = queued
	}

	if e.machine.Phase() == domain.PhaseFailed {
		e.logger.Debug(ctx, "Engine failed, cycle skipped", map[string]interface{}{"cycle": e.cycle})
		return
	}
	if !e.syncLeverage(ctx) {
		return
	}

	limit := e.calc.RequiredCandles() + 1
	if e.cfg.CandleHistory > limit {
		limit = e.cfg.CandleHistory
	}
	candles, err := e.exchange.FetchCandles(ctx, e.cfg.Symbol, e.cfg.Interval, limit)
	if err != nil {
		e.handleError(ctx, err, "fetch candles")
		return
	}
	if err := e.checkFresh(candles); err != nil {
		e.handleError(ctx, err, "check candles")
		return
	}

	var price float64
	if len(candles) > 0 {
		price = candles[len(candles)-1].Close
		e.lastPrice = price
		e.bus.Publish(domain.EventPriceUpdate, domain.PriceUpdate{Symbol: e.cfg.Symbol, Price: price, Source: "cycle"})
	}

	account, err := e.exchange.FetchAccount(ctx, e.cfg.Symbol)
	if err != nil {
		e.handleError(ctx, err, "fetch account")
		return
	}
	e.machine.Reconcile(ctx, account, price)
	e.machine.MarkToMarket(price)
	if e.machine.Phase() == domain.PhaseFailed {
		e.haltAutomation(ctx)
		return
	}

	e.indicators = e.calc.Compute(domain.ConfirmedOnly(candles))
	e.bus.Publish(domain.EventIndicatorUpdate, domain.IndicatorUpdate{Cycle: e.cycle, Indicators: e.indicators.Copy()})

	pos := e.machine.Position()
	intent := e.evaluator.Evaluate(ctx, e.indicators, pos)
	if !e.params.AutomationEnabled {
		intent = domain.Hold(domain.OriginStrategy)
	}
	if manual != nil {
		intent = *manual
	}

	decision := e.guard.Evaluate(pos, e.params, price, intent)
	if decision.Verdict != risk.Approved || decision.Intent.Action != domain.ActionHold {
		e.logger.Info(ctx, "Risk decision", map[string]interface{}{
			"cycle":   e.cycle,
			"verdict": decision.Verdict,
			"action":  decision.Intent.Action,
			"origin":  decision.Intent.Origin,
			"size":    decision.Intent.Size,
			"reason":  decision.Reason,
		})
	}

	if err := e.machine.Apply(ctx, decision); err != nil {
		switch {
		case errors.Is(err, execution.ErrOrderInFlight):
			e.logger.Debug(ctx, "Order in flight, intent deferred", map[string]interface{}{"action": decision.Intent.Action})
		default:
			e.logger.Debug(ctx, "Intent not executed", map[string]interface{}{"error": err.Error()})
		}
	}
	if e.machine.Phase() == domain.PhaseFailed {
		e.haltAutomation(ctx)
	}
}

// checkFresh rejects out-of-order candles and a newest candle more than two
// intervals old.
func (e *Engine) checkFresh(candles []domain.Candle) error {
	iv := e.cfg.Interval.Duration()
	if err := domain.ValidateSeries(candles, iv); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStaleData, err)
	}
	if len(candles) == 0 {
		return nil
	}
	newest := candles[len(candles)-1].OpenTime
	if age := e.now().Sub(newest); age > 2*iv {
		return fmt.Errorf("%w: newest candle opened %s ago", ports.ErrStaleData, age.Truncate(time.Second))
	}
	return nil
}

func (e *Engine) handleError(ctx context.Context, err error, op string) {
	err = fmt.Errorf("%s: %w", op, err)
	if ports.IsFatal(err) {
		e.machine.Fail(ctx, err)
		e.haltAutomation(ctx)
		return
	}
	class := ports.Classify(err)
	e.logger.Warn(ctx, "Cycle aborted", map[string]interface{}{"cycle": e.cycle, "class": class, "error": err.Error()})
	e.bus.Publish(domain.EventError, domain.ErrorEvent{Message: err.Error(), Class: string(class)})
}

// syncLeverage pushes the configured leverage to the exchange when it differs
// from the last accepted value. A non-fatal failure is retried next cycle; it
// returns false only when the failure halted the engine.
func (e *Engine) syncLeverage(ctx context.Context) bool {
	want := e.params.Leverage
	if want == e.leverage {
		return true
	}
	if err := e.exchange.SetLeverage(ctx, e.cfg.Symbol, want); err != nil {
		err = fmt.Errorf("set leverage %d: %w", want, err)
		if ports.IsFatal(err) {
			e.handleError(ctx, err, "sync leverage")
			return false
		}
		class := ports.Classify(err)
		e.logger.Warn(ctx, "Leverage not applied", map[string]interface{}{"leverage": want, "class": class, "error": err.Error()})
		e.bus.Publish(domain.EventError, domain.ErrorEvent{Message: err.Error(), Class: string(class)})
		return true
	}
	e.logger.Info(ctx, "Leverage applied", map[string]interface{}{"symbol": e.cfg.Symbol, "leverage": want, "previous": e.leverage})
	e.leverage = want
	return true
}

func (e *Engine) haltAutomation(ctx context.Context) {
	if e.params.AutomationEnabled {
		e.params.AutomationEnabled = false
		e.logger.Warn(ctx, "Automation disabled after fatal error")
	}
}

func (e *Engine) publishSnapshot() {
	st := e.machine.State()
	e.snapshot.Store(&Snapshot{
		Symbol:       e.cfg.Symbol,
		Phase:        st.Phase,
		Position:     st.Position,
		ActiveOrder:  st.ActiveOrder,
		Params:       e.params,
		Indicators:   e.indicators.Copy(),
		LastPrice:    e.lastPrice,
		Cycle:        e.cycle,
		CycleID:      e.cycleID,
		LastCycleAt:  e.lastCycle,
		SkippedTicks: e.skipped,
	})
}
