package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"

	"autotrader/config"
	"autotrader/internal/adapters/health"
	"autotrader/internal/adapters/logger"
	"autotrader/internal/adapters/paramstore"
	"autotrader/internal/adapters/sqlite"
	"autotrader/internal/app"
	"autotrader/internal/domain"
	"autotrader/internal/events"
	"autotrader/internal/ports"
)

var (
	runAutomation bool
	runConsoleIn  bool
	runFollow     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if runAutomation {
			cfg.Params.AutomationEnabled = true
		}
		var in io.Reader
		if runConsoleIn {
			in = cmd.InOrStdin()
		}
		return runApp(cmd.Context(), newApp(cfg, in, cmd.OutOrStdout()))
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runAutomation, "automation", "a", false, "start with automated trading enabled")
	runCmd.Flags().BoolVarP(&runConsoleIn, "console", "c", false, "read operator commands from stdin")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "print position and order events to stdout")
	rootCmd.AddCommand(runCmd)
}

func newApp(cfg *config.Config, in io.Reader, out io.Writer) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideZapLogger,
			provideLogger,
			events.NewBus,
			provideVenue,
			provideJournal,
			provideParamStore,
			provideEngine,
			provideHealthConfig,
			func(e *app.Engine) health.Source { return e },
		),
		// registered before the engine so the flush runs after it stops
		fx.Invoke(syncLogger),
		health.Module(),
		fx.Invoke(runEngine),
		fx.Invoke(func(lc fx.Lifecycle, e *app.Engine) {
			if in != nil {
				startConsole(lc, in, out, e)
			}
			if runFollow {
				followEvents(lc, e.Events(), cfg.EventBuffer, out)
			}
		}),
		// the engine may wait up to OrderTimeout for an in-flight order
		fx.StopTimeout(cfg.OrderTimeout+15*time.Second),
		fx.WithLogger(func(z *logger.ZapLogger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: z.Zap().Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
	)
}

// runApp starts the process, blocks until a signal or an engine exit, and stops it.
func runApp(ctx context.Context, fxApp *fx.App) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startCtx, cancel := context.WithTimeout(ctx, fxApp.StartTimeout())
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}

	sig := <-fxApp.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), fxApp.StopTimeout())
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		return err
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("engine exited with code %d", sig.ExitCode)
	}
	return nil
}

func provideZapLogger(cfg *config.Config) (*logger.ZapLogger, error) {
	return logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat, "autotrader")
}

func syncLogger(lc fx.Lifecycle, z *logger.ZapLogger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = z.Sync() // fails on terminals, nothing to do about it
			return nil
		},
	})
}

// provideLogger mirrors engine logs onto the bus.
func provideLogger(z *logger.ZapLogger, bus *events.Bus) ports.Logger {
	return events.NewLogEmitter(z, bus)
}

func provideVenue(cfg *config.Config, log ports.Logger) (venue, error) {
	ctx := context.Background()
	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		return venue{}, err
	}
	v, err := newVenue(ctx, cfg, creds, log)
	if err != nil {
		return venue{}, err
	}
	if !cfg.StreamPrices {
		v.Streamer = nil
	}
	return v, nil
}

func provideJournal(lc fx.Lifecycle, cfg *config.Config, log ports.Logger) (*sqlite.Repository, error) {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return repo.Close() },
	})
	return repo, nil
}

func provideParamStore(cfg *config.Config) *paramstore.Store {
	return paramstore.New(cfg.ParamsPath)
}

// startingParams prefers the saved parameter file over the environment.
func startingParams(ctx context.Context, cfg *config.Config, store ports.ParameterStore, log ports.Logger) (domain.TradeParameters, error) {
	params, err := store.Load(ctx)
	switch {
	case err == nil:
		log.Info(ctx, "Loaded saved trade parameters", map[string]interface{}{"path": cfg.ParamsPath})
		// the command line flag still wins
		params.AutomationEnabled = params.AutomationEnabled || cfg.Params.AutomationEnabled
		return params, nil
	case errors.Is(err, ports.ErrNotFound):
		return cfg.Params, nil
	default:
		return domain.TradeParameters{}, err
	}
}

func provideEngine(cfg *config.Config, v venue, journal *sqlite.Repository, store *paramstore.Store, bus *events.Bus, log ports.Logger) (*app.Engine, error) {
	params, err := startingParams(context.Background(), cfg, store, log)
	if err != nil {
		return nil, err
	}
	return app.NewEngine(app.Config{
		Symbol:            cfg.Symbol,
		Interval:          cfg.Interval,
		CycleDelay:        cfg.CycleDelay,
		OrderPollInterval: cfg.OrderPollInterval,
		OrderTimeout:      cfg.OrderTimeout,
		CandleHistory:     cfg.CandleHistory,
		MaxSubmitAttempts: cfg.SubmitMaxAttempts,
		RetryMinDelay:     cfg.RetryMinDelay,
		RetryMaxDelay:     cfg.RetryMaxDelay,
	}, app.Deps{
		Exchange:   v.Client,
		Journal:    journal,
		ParamStore: store,
		Streamer:   v.Streamer,
		Bus:        bus,
		Logger:     log,
		Params:     params,
	})
}

func provideHealthConfig(cfg *config.Config) health.Config {
	return health.Config{
		Addr:       cfg.HealthAddr,
		StaleAfter: 3 * cfg.Interval.Duration(),
	}
}

// runEngine ties Engine.Run to the lifecycle. An engine that returns on its
// own shuts the whole process down.
func runEngine(lc fx.Lifecycle, sd fx.Shutdowner, engine *app.Engine, log ports.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := engine.Run(ctx)
				done <- err
				if ctx.Err() != nil {
					return
				}
				code := 0
				if err != nil {
					log.Error(ctx, err, "Engine stopped unexpectedly")
					code = 1
				}
				_ = sd.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case err := <-done:
				return err
			case <-stopCtx.Done():
				return fmt.Errorf("engine did not stop in time: %w", stopCtx.Err())
			}
		},
	})
}

func startConsole(lc fx.Lifecycle, in io.Reader, out io.Writer, ctl controller) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			fmt.Fprint(out, consoleHelp)
			go func() {
				if err := runConsole(ctx, in, out, ctl); err != nil {
					fmt.Fprintf(os.Stderr, "console: %v\n", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func followEvents(lc fx.Lifecycle, bus *events.Bus, buffer int, out io.Writer) {
	var unsubscribe func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ch <-chan domain.EngineEvent
			ch, unsubscribe = bus.Subscribe(buffer, domain.EventPositionChanged, domain.EventOrder, domain.EventError)
			go func() {
				for ev := range ch {
					fmt.Fprintln(out, formatEvent(ev))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
			}
			return nil
		},
	})
}

func formatEvent(ev domain.EngineEvent) string {
	ts := ev.Time.Format(time.RFC3339)
	switch p := ev.Payload.(type) {
	case domain.PositionChanged:
		return fmt.Sprintf("%s #%d position %s -> %s %g @ %g (%s)",
			ts, ev.Seq, p.Previous.Side, p.Current.Side, p.Current.Size, p.Current.EntryPrice, p.Reason)
	case domain.OrderEvent:
		return fmt.Sprintf("%s #%d order %s %s %s %g filled=%g",
			ts, ev.Seq, p.Order.ClientOrderID, p.Order.Purpose, p.Order.Status, p.Order.Size, p.Order.FilledSize)
	case domain.ErrorEvent:
		return fmt.Sprintf("%s #%d error [%s] %s", ts, ev.Seq, p.Class, p.Message)
	default:
		return fmt.Sprintf("%s #%d %s %v", ts, ev.Seq, ev.Kind, ev.Payload)
	}
}
