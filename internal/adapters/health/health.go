// Package health serves liveness, readiness and an engine status document.
package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"

	"autotrader/internal/app"
	"autotrader/internal/domain"
	"autotrader/internal/events"
	"autotrader/internal/ports"
)

type Config struct {
	Addr string // ":8080"; empty disables the server
	// StaleAfter marks the engine unready when no cycle finished for this long.
	StaleAfter time.Duration
}

// Source is what the handlers read. *app.Engine implements it.
type Source interface {
	Snapshot() app.Snapshot
	Events() *events.Bus
}

type status struct {
	Ready         bool          `json:"ready"`
	Running       bool          `json:"running"`
	Symbol        string        `json:"symbol"`
	Phase         domain.Phase  `json:"phase"`
	PositionSide  domain.Side   `json:"positionSide"`
	PositionSize  float64       `json:"positionSize"`
	EntryPrice    float64       `json:"entryPrice"`
	UnrealizedPnL float64       `json:"unrealizedPnl"`
	LastPrice     float64       `json:"lastPrice"`
	Automation    bool          `json:"automation"`
	Strategy      string        `json:"strategy"`
	Cycle         int64         `json:"cycle"`
	CycleID       string        `json:"cycleId"`
	LastCycleUnix int64         `json:"lastCycleUnix"`
	SkippedTicks  int64         `json:"skippedTicks"`
	ActiveOrder   *domain.Order `json:"activeOrder,omitempty"`
	RSI           *float64      `json:"rsi,omitempty"`
	DroppedEvents uint64        `json:"droppedEvents"`
	UptimeSec     int64         `json:"uptimeSec"`
}

type handler struct {
	src       Source
	cfg       Config
	now       func() time.Time
	startedAt time.Time
}

func (h *handler) ready(s app.Snapshot) bool {
	if !s.Running || s.Cycle < 0 || s.Phase == domain.PhaseFailed {
		return false
	}
	if h.cfg.StaleAfter > 0 && h.now().Sub(s.LastCycleAt) > h.cfg.StaleAfter {
		return false
	}
	return true
}

// NewMux builds the health routes.
func NewMux(cfg Config, src Source) *http.ServeMux {
	h := &handler{src: src, cfg: cfg, now: time.Now, startedAt: time.Now()}
	return h.mux()
}

func (h *handler) mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !h.ready(h.src.Snapshot()) {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s := h.src.Snapshot()
		resp := status{
			Ready:         h.ready(s),
			Running:       s.Running,
			Symbol:        s.Symbol,
			Phase:         s.Phase,
			PositionSide:  s.Position.Side,
			PositionSize:  s.Position.Size,
			EntryPrice:    s.Position.EntryPrice,
			UnrealizedPnL: s.Position.UnrealizedPnL,
			LastPrice:     s.LastPrice,
			Automation:    s.Params.AutomationEnabled,
			Strategy:      string(s.Params.Strategy),
			Cycle:         s.Cycle,
			CycleID:       s.CycleID,
			SkippedTicks:  s.SkippedTicks,
			ActiveOrder:   s.ActiveOrder,
			RSI:           s.Indicators.RSI,
			DroppedEvents: h.src.Events().Dropped(),
			UptimeSec:     int64(h.now().Sub(h.startedAt).Seconds()),
		}
		if !s.LastCycleAt.IsZero() {
			resp.LastCycleUnix = s.LastCycleAt.Unix()
		}
		body, err := sonic.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	return mux
}

// RunHTTP binds the server to the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, logger ports.Logger) {
	if cfg.Addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info(ctx, "Health server listening", map[string]interface{}{"addr": ln.Addr().String()})
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module expects Config, Source and ports.Logger to be provided.
func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(NewMux),
		fx.Invoke(RunHTTP),
	)
}
