package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/app"
	"autotrader/internal/domain"
	"autotrader/internal/events"
)

type fakeSource struct {
	snap app.Snapshot
	bus  *events.Bus
}

func (f *fakeSource) Snapshot() app.Snapshot { return f.snap }
func (f *fakeSource) Events() *events.Bus     { return f.bus }

func newHandler(src Source, stale time.Duration, now time.Time) *handler {
	return &handler{src: src, cfg: Config{StaleAfter: stale}, now: func() time.Time { return now }, startedAt: now.Add(-time.Minute)}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadiness(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		snap app.Snapshot
		want int
	}{
		{"not started", app.Snapshot{Cycle: -1}, http.StatusServiceUnavailable},
		{"running", app.Snapshot{Running: true, Cycle: 3, Phase: domain.PhaseFlat, LastCycleAt: now.Add(-time.Minute)}, http.StatusOK},
		{"failed", app.Snapshot{Running: true, Cycle: 3, Phase: domain.PhaseFailed, LastCycleAt: now}, http.StatusServiceUnavailable},
		{"stale", app.Snapshot{Running: true, Cycle: 3, Phase: domain.PhaseOpen, LastCycleAt: now.Add(-2 * time.Hour)}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(&fakeSource{snap: tt.snap, bus: events.NewBus()}, time.Hour, now)
			assert.Equal(t, tt.want, get(t, h.mux(), "/readyz").Code)
			assert.Equal(t, http.StatusOK, get(t, h.mux(), "/livez").Code)
		})
	}
}

func TestHealthz(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	params := domain.DefaultTradeParameters()
	params.AutomationEnabled = true
	src := &fakeSource{
		bus: events.NewBus(),
		snap: app.Snapshot{
			Symbol:      "BTC-USDT-SWAP",
			Running:     true,
			Cycle:       7,
			CycleID:     "01HX",
			Phase:       domain.PhaseOpen,
			Position:    domain.Position{Side: domain.SideLong, Size: 2, EntryPrice: 100, UnrealizedPnL: 10},
			LastPrice:   105,
			LastCycleAt: now,
			Params:      params,
			Indicators:  domain.IndicatorSnapshot{RSI: domain.Float(41.5)},
		},
	}
	rec := get(t, newHandler(src, 0, now).mux(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "open", body["phase"])
	assert.Equal(t, "long", body["positionSide"])
	assert.Equal(t, 2.0, body["positionSize"])
	assert.Equal(t, 41.5, body["rsi"])
	assert.Equal(t, true, body["automation"])
	assert.Equal(t, float64(now.Unix()), body["lastCycleUnix"])
	assert.Equal(t, 60.0, body["uptimeSec"])
	assert.NotContains(t, body, "activeOrder")
}
