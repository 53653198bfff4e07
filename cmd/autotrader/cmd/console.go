package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"autotrader/internal/app"
	"autotrader/internal/domain"
)

// controller is the command surface of *app.Engine used by the console.
type controller interface {
	Snapshot() app.Snapshot
	SetParameters(p domain.TradeParameters) error
	ManualTrade(side domain.Side, size float64) error
	ManualClose() error
	StartAutomation() error
	StopAutomation() error
	Reset() error
	SaveParameters() error
}

const consoleHelp = `commands:
  long [size]          open or reverse into a long position
  short [size]         open or reverse into a short position
  close                close the open position
  start | stop         enable or disable automated trading
  set <key> <value>    change a parameter: sl, tp, size, leverage, strategy
  save                 persist the current parameters
  reset                drop local state and reconcile with the exchange
  status               print the engine snapshot
  help
`

// runConsole reads one command per line until in is exhausted or ctx ends.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, ctl controller) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatch(ctl, out, strings.Fields(line)); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func dispatch(ctl controller, out io.Writer, args []string) error {
	switch strings.ToLower(args[0]) {
	case "long", "short":
		size, err := optionalSize(args[1:])
		if err != nil {
			return err
		}
		return ctl.ManualTrade(domain.Side(strings.ToLower(args[0])), size)
	case "close":
		return ctl.ManualClose()
	case "start":
		return ctl.StartAutomation()
	case "stop":
		return ctl.StopAutomation()
	case "save":
		return ctl.SaveParameters()
	case "reset":
		return ctl.Reset()
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: set <key> <value>")
		}
		params, err := withParameter(ctl.Snapshot().Params, args[1], args[2])
		if err != nil {
			return err
		}
		return ctl.SetParameters(params)
	case "status":
		printSnapshot(out, ctl.Snapshot())
		return nil
	case "help":
		fmt.Fprint(out, consoleHelp)
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
}

func optionalSize(args []string) (float64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	size, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", args[0])
	}
	return size, nil
}

func withParameter(p domain.TradeParameters, key, value string) (domain.TradeParameters, error) {
	if strings.EqualFold(key, "strategy") {
		p.Strategy = domain.StrategyKind(strings.ToUpper(value))
		return p, nil
	}
	if strings.EqualFold(key, "leverage") {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(value), "x"))
		if err != nil {
			return p, fmt.Errorf("invalid leverage %q", value)
		}
		p.Leverage = n
		return p, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return p, fmt.Errorf("invalid number %q", value)
	}
	switch strings.ToLower(key) {
	case "sl":
		p.StopLossPct = v
	case "tp":
		p.TakeProfitPct = v
	case "size":
		p.PositionSize = v
	default:
		return p, fmt.Errorf("unknown parameter %q", key)
	}
	return p, nil
}

func printSnapshot(out io.Writer, s app.Snapshot) {
	fmt.Fprintf(out, "%s cycle=%d phase=%s running=%t automation=%t last=%.4f\n",
		s.Symbol, s.Cycle, s.Phase, s.Running, s.Params.AutomationEnabled, s.LastPrice)
	if s.Position.IsFlat() {
		fmt.Fprintln(out, "position: flat")
	} else {
		fmt.Fprintf(out, "position: %s %.6f @ %.4f upnl=%.4f\n",
			s.Position.Side, s.Position.Size, s.Position.EntryPrice, s.Position.UnrealizedPnL)
	}
	if s.ActiveOrder != nil {
		fmt.Fprintf(out, "order: %s %s %.6f %s\n",
			s.ActiveOrder.ClientOrderID, s.ActiveOrder.Side, s.ActiveOrder.Size, s.ActiveOrder.Status)
	}
	fmt.Fprintf(out, "params: strategy=%s sl=%.2f%% tp=%.2f%% size=%g leverage=%dx\n",
		s.Params.Strategy, s.Params.StopLossPct, s.Params.TakeProfitPct, s.Params.PositionSize, s.Params.Leverage)
}
