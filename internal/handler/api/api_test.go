package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/repository"
	"ZepixTrader/internal/service/control"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/internal/service/ratelimit"
	"ZepixTrader/internal/service/risk"
	"ZepixTrader/internal/service/trend"
	"ZepixTrader/internal/usecase"
	"ZepixTrader/pkg/config"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, e *echo.Echo, method, path, body string, hdr map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

type stubAlerts struct {
	mu   sync.Mutex
	res  usecase.Result
	err  error
	seen []models.Alert
}

func (s *stubAlerts) HandleAlert(_ context.Context, a models.Alert) (usecase.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, a)
	res := s.res
	res.Alert = a
	return res, s.err
}

type stubDeferrer struct{ got []models.Alert }

func (d *stubDeferrer) Defer(_ context.Context, a models.Alert) error {
	d.got = append(d.got, a)
	return nil
}

const entryBody = `{"symbol":"EURUSD","tf":"5m","type":"entry","signal":"buy","price":1.1}`

func TestWebhookStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		res    usecase.Result
		err    error
		status int
	}{
		{"accepted", usecase.Result{Status: usecase.StatusAccepted}, nil, http.StatusOK},
		{"denied is not an http error", usecase.Result{Status: usecase.StatusDenied, Kind: errs.KindRiskDenied}, nil, http.StatusOK},
		{"validation", usecase.Result{Status: usecase.StatusRejected, Kind: errs.KindValidation}, nil, http.StatusBadRequest},
		{"duplicate", usecase.Result{Status: usecase.StatusRejected, Kind: errs.KindDuplicate}, nil, http.StatusConflict},
		{"transient", usecase.Result{Status: usecase.StatusFailed}, errs.Transient("store", errors.New("locked")), http.StatusServiceUnavailable},
		{"invariant", usecase.Result{Status: usecase.StatusFailed}, errs.Invariant("x", "bad levels"), http.StatusInternalServerError},
		{"venue rejection", usecase.Result{Status: usecase.StatusFailed}, errors.New("bridge: 400 invalid volume"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &stubAlerts{res: tt.res, err: tt.err}
			e := echo.New()
			NewWebhookEchoHandler(nil, s).RegisterRoutes(e)

			rec, env := do(t, e, http.MethodPost, "/webhook", entryBody, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, env.Status)
		})
	}
}

func TestWebhookBuildsAlert(t *testing.T) {
	s := &stubAlerts{res: usecase.Result{Status: usecase.StatusAccepted}}
	e := echo.New()
	NewWebhookEchoHandler(nil, s).RegisterRoutes(e)

	_, env := do(t, e, http.MethodPost, "/webhook", entryBody, nil)
	var res usecase.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, usecase.StatusAccepted, res.Status)

	require.Len(t, s.seen, 1)
	a := s.seen[0]
	assert.Equal(t, "EURUSD", a.Symbol)
	assert.Equal(t, models.TF5m, a.Timeframe)
	assert.Equal(t, models.CategoryEntry, a.Category)
	assert.Equal(t, "buy", a.Signal)
	assert.Equal(t, "webhook", a.Source)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	s := &stubAlerts{}
	e := echo.New()
	NewWebhookEchoHandler(nil, s).RegisterRoutes(e)

	rec, env := do(t, e, http.MethodPost, "/webhook", `{"tf":"5m","type":"entry","signal":"buy"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_REQUIRED")
	assert.Empty(t, s.seen)
}

func TestWebhookToken(t *testing.T) {
	s := &stubAlerts{res: usecase.Result{Status: usecase.StatusAccepted}}
	e := echo.New()
	NewWebhookEchoHandler(nil, s, WithWebhookToken("s3cret")).RegisterRoutes(e)

	rec, _ := do(t, e, http.MethodPost, "/webhook", entryBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/webhook", entryBody, map[string]string{TokenHeader: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/webhook", entryBody, map[string]string{TokenHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.seen, 1)
}

func TestWebhookRateLimit(t *testing.T) {
	now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	s := &stubAlerts{res: usecase.Result{Status: usecase.StatusAccepted}}
	e := echo.New()
	lim := ratelimit.New(1, 1, ratelimit.WithClock(func() time.Time { return now }))
	NewWebhookEchoHandler(nil, s, WithRateLimiter(lim)).RegisterRoutes(e)

	rec, _ := do(t, e, http.MethodPost, "/webhook", entryBody, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env := do(t, e, http.MethodPost, "/webhook", entryBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_RATE_LIMITED")
	assert.Len(t, s.seen, 1)
}

func TestWebhookDefersTransientFailures(t *testing.T) {
	s := &stubAlerts{res: usecase.Result{Status: usecase.StatusFailed}, err: errs.Transient("store", errors.New("locked"))}
	d := &stubDeferrer{}
	e := echo.New()
	NewWebhookEchoHandler(nil, s, WithDeferrer(d)).RegisterRoutes(e)

	rec, env := do(t, e, http.MethodPost, "/webhook", entryBody, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, string(env.Data), `"deferred"`)
	require.Len(t, d.got, 1)
	assert.Equal(t, "EURUSD", d.got[0].Symbol)
}

type priceBroker struct{ balance float64 }

func (b priceBroker) Balance(context.Context) (float64, error) { return b.balance, nil }
func (priceBroker) GetPrice(context.Context, string) (float64, error) {
	return 1.1, nil
}

type failingStore struct{ err error }

func (f failingStore) Health(context.Context) error { return f.err }

type stubPnL struct{ rows []repository.SymbolPnL }

func (s stubPnL) PnLBySymbol(context.Context, time.Time) ([]repository.SymbolPnL, error) {
	return s.rows, nil
}

type stubCloser struct{}

func (stubCloser) Close(context.Context, string, models.CloseReason, float64) (models.Trade, bool, error) {
	return models.Trade{}, false, nil
}

func newControl(t *testing.T, mutate func(*ControlDeps)) (*echo.Echo, ControlDeps) {
	t.Helper()
	cfg := config.Default()
	now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := repository.NewMemoryStore()
	l := ledger.New(store, nil, nil)
	ctrl := control.New(control.FromConfig(cfg), control.WithClock(clock))
	table := market.NewTable(cfg.Symbols)
	tr := trend.NewState(store, nil, nil)
	broker := priceBroker{balance: 10000}

	d := ControlDeps{
		Settings:   ctrl,
		Ledger:     l,
		Accountant: risk.NewAccountant(store, risk.WithClock(clock)),
		Gate:       risk.NewGate(cfg.RiskTiers, cfg.VolatilityRisk, table, ctrl.RiskOverrides),
		Trend:      tr,
		Exits:      usecase.NewExitHandler(l, stubCloser{}, nil, store, nil),
		Monitor:    usecase.NewPriceMonitor(l, stubCloser{}, nil, broker, ctrl.MonitorInterval),
		Closer:     stubCloser{},
		Balance:    broker,
		Store:      store,
		Version:    "test",
		Now:        clock,
	}
	if mutate != nil {
		mutate(&d)
	}
	e := echo.New()
	NewControlEchoHandler(nil, d, "adm").RegisterRoutes(e)
	return e, d
}

var admin = map[string]string{TokenHeader: "adm"}

func TestControlRequiresToken(t *testing.T) {
	e, d := newControl(t, nil)

	rec, _ := do(t, e, http.MethodPost, "/api/control/pause", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, d.Settings.Current().Paused)

	rec, _ = do(t, e, http.MethodPost, "/api/control/pause", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, d.Settings.Current().Paused)

	rec, _ = do(t, e, http.MethodPost, "/api/control/resume", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, d.Settings.Current().Paused)
}

func TestControlSettingsWrites(t *testing.T) {
	e, d := newControl(t, nil)

	rec, _ := do(t, e, http.MethodPost, "/api/control/logics", `{"logic":"LOGIC2","enabled":false}`, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, d.Settings.Current().LogicEnabled(models.Logic2))

	rec, _ = do(t, e, http.MethodPost, "/api/control/logics", `{"logic":"LOGIC9","enabled":true}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/control/caps", `{"daily":150}`, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 150.0, d.Settings.Current().DailyCap)

	rec, _ = do(t, e, http.MethodPost, "/api/control/chains", `{"sl_hunt":true,"tp_continuation":false,"max_levels":3}`, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	s := d.Settings.Current()
	assert.True(t, s.SLHuntEnabled)
	assert.False(t, s.TPContinuationEnabled)
	assert.True(t, s.ExitContinuationEnabled, "untouched when omitted")
	assert.Equal(t, 3, s.MaxChainLevels)

	rec, _ = do(t, e, http.MethodPost, "/api/control/chains", `{"sl_hunt":true,"tp_continuation":true,"max_levels":2,"exit_continuation":false}`, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, d.Settings.Current().ExitContinuationEnabled)

	rec, _ = do(t, e, http.MethodPost, "/api/control/chains", `{"max_levels":11}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestControlManualTrend(t *testing.T) {
	e, d := newControl(t, nil)

	rec, env := do(t, e, http.MethodPost, "/api/control/trend", `{"symbol":"EURUSD","tf":"1h","direction":"bear"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var r models.TrendRecord
	require.NoError(t, json.Unmarshal(env.Data, &r))
	assert.Equal(t, models.TrendManual, r.Mode)
	assert.Equal(t, models.Bear, r.Direction)

	changed, err := d.Trend.Update(context.Background(), "EURUSD", models.TF1h, models.Bull, time.Now())
	require.NoError(t, err)
	assert.False(t, changed, "manual lock holds")

	rec, _ = do(t, e, http.MethodPost, "/api/control/trend", `{"symbol":"EURUSD","tf":"1h","mode":"auto"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := d.Trend.Get("EURUSD", models.TF1h)
	assert.Equal(t, models.TrendAuto, got.Mode)

	rec, _ = do(t, e, http.MethodPost, "/api/control/trend", `{"symbol":"EURUSD","tf":"1h"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsReportsTierAndRisk(t *testing.T) {
	e, d := newControl(t, nil)
	_, err := d.Accountant.Book(context.Background(), decimal.NewFromInt(-25))
	require.NoError(t, err)
	_, err = d.Accountant.Book(context.Background(), decimal.NewFromInt(40))
	require.NoError(t, err)

	rec, env := do(t, e, http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st statsResponse
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "10000", st.Limits.Tier)
	assert.True(t, st.Limits.DailyCap.Equal(decimal.NewFromInt(400)))
	assert.True(t, st.Risk.DailyLoss.Equal(decimal.NewFromInt(25)))
	assert.InDelta(t, 50.0, st.WinRate, 1e-9)
	assert.Equal(t, 10000.0, st.Balance)
	assert.False(t, st.Paused)
}

func TestHealth(t *testing.T) {
	e, _ := newControl(t, nil)
	rec, env := do(t, e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"version":"test"`)

	e, _ = newControl(t, func(d *ControlDeps) { d.Store = failingStore{err: errors.New("disk I/O error")} })
	rec, env = do(t, e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "degraded")
}

func TestReadViews(t *testing.T) {
	e, _ := newControl(t, nil)

	for _, path := range []string{"/api/trades", "/api/trades?status=closed&limit=5", "/api/chains", "/api/trends", "/api/exits"} {
		rec, _ := do(t, e, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec, _ := do(t, e, http.MethodGet, "/api/analytics/pnl", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e, _ = newControl(t, func(d *ControlDeps) {
		d.PnL = stubPnL{rows: []repository.SymbolPnL{{Symbol: "EURUSD", Trades: 3, Wins: 2, PnL: 45}}}
	})
	rec, env := do(t, e, http.MethodGet, "/api/analytics/pnl?since=2024-06-01T00:00:00Z", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "EURUSD")
}

func TestMonitorTickAndManualClose(t *testing.T) {
	e, _ := newControl(t, nil)

	rec, env := do(t, e, http.MethodPost, "/api/control/monitor/tick", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"ticks":1`)

	rec, _ = do(t, e, http.MethodPost, "/api/control/trades/01J0000000/close", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
