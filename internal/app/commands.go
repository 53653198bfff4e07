package app

import (
	"context"
	"errors"
	"fmt"

	"autotrader/internal/domain"
	"autotrader/internal/strategy"
	"autotrader/internal/strategy/indicators"
)

var (
	ErrCommandQueueFull = errors.New("engine command queue is full")
	ErrNoParamStore     = errors.New("no parameter store configured")
)

type commandKind int

const (
	cmdSetParameters commandKind = iota
	cmdManualTrade
	cmdManualClose
	cmdStartAutomation
	cmdStopAutomation
	cmdReset
	cmdSaveParameters
)

func (k commandKind) String() string {
	switch k {
	case cmdSetParameters:
		return "set_parameters"
	case cmdManualTrade:
		return "manual_trade"
	case cmdManualClose:
		return "manual_close"
	case cmdStartAutomation:
		return "start_automation"
	case cmdStopAutomation:
		return "stop_automation"
	case cmdReset:
		return "reset"
	case cmdSaveParameters:
		return "save_parameters"
	default:
		return "unknown"
	}
}

type command struct {
	kind   commandKind
	params domain.TradeParameters
	side   domain.Side
	size   float64
}

// trades reports whether the command should run a cycle right away.
func (c command) trades() bool {
	return c.kind == cmdManualTrade || c.kind == cmdManualClose
}

// SetParameters replaces the trade parameters at the next cycle boundary.
// Invalid parameters are rejected here and the current ones stay in effect.
func (e *Engine) SetParameters(p domain.TradeParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return e.enqueue(command{kind: cmdSetParameters, params: p})
}

// ManualTrade opens a position on side. A size of 0 uses the configured position size.
func (e *Engine) ManualTrade(side domain.Side, size float64) error {
	if side != domain.SideLong && side != domain.SideShort {
		return &domain.ValidationError{Problems: []string{fmt.Sprintf("side must be long or short, got %q", side)}}
	}
	if size < 0 {
		return &domain.ValidationError{Problems: []string{"size cannot be negative"}}
	}
	return e.enqueue(command{kind: cmdManualTrade, side: side, size: size})
}

// ManualClose closes the current position.
func (e *Engine) ManualClose() error {
	return e.enqueue(command{kind: cmdManualClose})
}

func (e *Engine) StartAutomation() error {
	return e.enqueue(command{kind: cmdStartAutomation})
}

func (e *Engine) StopAutomation() error {
	return e.enqueue(command{kind: cmdStopAutomation})
}

// Reset leaves the Failed state after the operator has fixed the cause.
func (e *Engine) Reset() error {
	return e.enqueue(command{kind: cmdReset})
}

// SaveParameters persists the parameters in effect.
func (e *Engine) SaveParameters() error {
	if e.paramStore == nil {
		return ErrNoParamStore
	}
	return e.enqueue(command{kind: cmdSaveParameters})
}

func (e *Engine) enqueue(c command) error {
	select {
	case e.commands <- c:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// drainCommands applies queued commands and returns the last manual intent, if any.
func (e *Engine) drainCommands(ctx context.Context) *domain.TradeIntent {
	var manual *domain.TradeIntent
	for {
		select {
		case c := <-e.commands:
			if intent := e.applyCommand(ctx, c); intent != nil {
				manual = intent
			}
		default:
			return manual
		}
	}
}

// applyCommand mutates engine state for non-trading commands and turns trading
// commands into manual intents.
func (e *Engine) applyCommand(ctx context.Context, c command) *domain.TradeIntent {
	e.logger.Info(ctx, "Command received", map[string]interface{}{"command": c.kind.String()})

	switch c.kind {
	case cmdSetParameters:
		e.setParameters(ctx, c.params)
	case cmdStartAutomation:
		if e.machine.Phase() == domain.PhaseFailed {
			e.logger.Warn(ctx, "Automation stays off until the engine is reset")
			return nil
		}
		e.params.AutomationEnabled = true
	case cmdStopAutomation:
		e.params.AutomationEnabled = false
	case cmdReset:
		if err := e.machine.Reset(); err != nil {
			e.logger.Warn(ctx, "Reset ignored", map[string]interface{}{"error": err.Error()})
			return nil
		}
		e.evaluator.Reset()
	case cmdSaveParameters:
		if err := e.paramStore.Save(ctx, e.params); err != nil {
			e.logger.Error(ctx, err, "Failed to save trade parameters")
		}
	case cmdManualTrade:
		action := domain.ActionOpenLong
		if c.side == domain.SideShort {
			action = domain.ActionOpenShort
		}
		return &domain.TradeIntent{Action: action, Size: c.size, Origin: domain.OriginManual, Reason: "manual"}
	case cmdManualClose:
		return &domain.TradeIntent{Action: domain.ActionClose, Origin: domain.OriginManual, Reason: "manual"}
	}
	return nil
}

func (e *Engine) setParameters(ctx context.Context, p domain.TradeParameters) {
	if e.machine.Phase() == domain.PhaseFailed {
		p.AutomationEnabled = false
	}
	if p.Strategy != e.params.Strategy || p.Settings != e.params.Settings {
		evaluator, err := strategy.New(p.Strategy, p.Settings, e.logger)
		if err != nil {
			e.logger.Error(ctx, err, "Parameters rejected")
			return
		}
		e.evaluator = evaluator
		e.calc = indicators.NewCalculator(p.Settings)
	}
	e.params = p
	e.logger.Info(ctx, "Trade parameters updated", map[string]interface{}{
		"strategy":      p.Strategy,
		"stopLossPct":   p.StopLossPct,
		"takeProfitPct": p.TakeProfitPct,
		"positionSize":  p.PositionSize,
		"leverage":      p.Leverage,
		"automation":    p.AutomationEnabled,
	})
	if e.machine.Phase() != domain.PhaseFailed {
		e.syncLeverage(ctx)
	}
}
