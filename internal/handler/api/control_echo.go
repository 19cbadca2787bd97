package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/repository"
	"ZepixTrader/internal/service/control"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/internal/service/risk"
	"ZepixTrader/internal/service/trend"
	"ZepixTrader/internal/usecase"
	xhttp "ZepixTrader/pkg/http"
	xlogger "ZepixTrader/pkg/logger"
)

type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// PnLReporter serves the analytics archive report.
type PnLReporter interface {
	PnLBySymbol(ctx context.Context, since time.Time) ([]repository.SymbolPnL, error)
}

// ControlDeps groups what the control surface reads and drives.
type ControlDeps struct {
	Settings   *control.Controller
	Ledger     *ledger.Ledger
	Accountant *risk.Accountant
	Gate       *risk.Gate
	Trend      *trend.State
	Exits      *usecase.ExitHandler
	Monitor    *usecase.PriceMonitor
	Closer     usecase.Closer
	Balance    BalanceSource
	Store      HealthChecker
	// PnL is nil when no analytics archive is configured.
	PnL     PnLReporter
	Version string
	Now     func() time.Time
}

// ControlEchoHandler serves health, stats, read-only views and the
// runtime control routes.
type ControlEchoHandler struct {
	logger *xlogger.Logger
	d      ControlDeps
	token  string
}

func NewControlEchoHandler(logger *xlogger.Logger, d ControlDeps, token string) *ControlEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &ControlEchoHandler{logger: logger, d: d, token: token}
}

func (h *ControlEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/stats", h.Stats)

	g := e.Group("/api")
	g.GET("/trades", h.Trades)
	g.GET("/chains", h.Chains)
	g.GET("/trends", h.Trends)
	g.GET("/exits", h.Exits)
	g.GET("/analytics/pnl", h.PnL)

	ctl := g.Group("/control", requireToken(h.token))
	ctl.GET("/settings", h.Settings)
	ctl.POST("/pause", h.Pause)
	ctl.POST("/resume", h.Resume)
	ctl.POST("/logics", h.SetLogic)
	ctl.POST("/caps", h.SetCaps)
	ctl.POST("/chains", h.SetChains)
	ctl.POST("/trend", h.SetTrend)
	ctl.POST("/monitor/tick", h.Tick)
	ctl.POST("/trades/:id/close", h.CloseTrade)
}

type healthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version,omitempty"`
	Store   string                 `json:"store"`
	Monitor usecase.MonitorStatus  `json:"monitor"`
	Paused  bool                   `json:"paused"`
}

func (h *ControlEchoHandler) Health(c echo.Context) error {
	res := healthResponse{
		Status:  "ok",
		Version: h.d.Version,
		Store:   "ok",
		Paused:  h.d.Settings.Current().Paused,
	}
	if h.d.Monitor != nil {
		res.Monitor = h.d.Monitor.Status()
	}
	if h.d.Store != nil {
		if err := h.d.Store.Health(c.Request().Context()); err != nil {
			h.logger.Warn("store health check failed", xlogger.Error(err))
			res.Status, res.Store = "degraded", err.Error()
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
		}
	}
	return xhttp.SuccessResponse(c, res)
}

type statsResponse struct {
	Risk           models.RiskState `json:"risk"`
	WinRate        float64          `json:"win_rate"`
	Balance        float64          `json:"balance"`
	Limits         risk.Limits      `json:"limits"`
	OpenTrades     int              `json:"open_trades"`
	ActiveChains   int              `json:"active_chains"`
	Paused         bool             `json:"paused"`
	SimulateOrders bool             `json:"simulate_orders"`
}

func (h *ControlEchoHandler) Stats(c echo.Context) error {
	st := h.d.Accountant.Snapshot()
	s := h.d.Settings.Current()
	res := statsResponse{
		Risk:           st,
		WinRate:        st.WinRate(),
		OpenTrades:     len(h.d.Ledger.OpenTrades()),
		ActiveChains:   len(h.d.Ledger.ActiveChains("")),
		Paused:         s.Paused,
		SimulateOrders: s.SimulateOrders,
	}
	if h.d.Balance != nil {
		b, err := h.d.Balance.Balance(c.Request().Context())
		if err != nil {
			h.logger.Warn("balance unavailable for stats", xlogger.Error(err))
		} else {
			res.Balance = b
			res.Limits = h.d.Gate.Limits(b)
		}
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ControlEchoHandler) Trades(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	if c.QueryParam("status") != string(models.TradeClosed) {
		rows := h.d.Ledger.OpenTrades()
		if symbol != "" {
			rows = h.d.Ledger.OpenTradesFor(symbol, "")
		}
		return xhttp.ListResponse(c, rows, int64(len(rows)))
	}

	rows, err := h.d.Ledger.History(c.Request().Context(), models.TradeFilter{
		Symbol: symbol,
		Status: models.TradeClosed,
		Since:  xhttp.ParseTimeDefault(c.QueryParam("since"), time.Time{}),
		Limit:  xhttp.QueryLimit(c, 50, 500),
	})
	if err != nil {
		h.logger.Error("trade history", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ControlEchoHandler) Chains(c echo.Context) error {
	rows := h.d.Ledger.ActiveChains(c.QueryParam("symbol"))
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ControlEchoHandler) Trends(c echo.Context) error {
	rows := h.d.Trend.All()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// since reads ?since=, defaulting to the last 24 hours.
func (h *ControlEchoHandler) since(c echo.Context) time.Time {
	return xhttp.ParseTimeDefault(c.QueryParam("since"), h.d.Now().Add(-24*time.Hour))
}

func (h *ControlEchoHandler) Exits(c echo.Context) error {
	st, err := h.d.Exits.ExitStats(c.Request().Context(), h.since(c))
	if err != nil {
		h.logger.Error("exit stats", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *ControlEchoHandler) PnL(c echo.Context) error {
	if h.d.PnL == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("analytics archive is not configured"))
	}
	rows, err := h.d.PnL.PnLBySymbol(c.Request().Context(), h.since(c))
	if err != nil {
		h.logger.Error("pnl report", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("analytics unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ControlEchoHandler) Settings(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Settings.Current())
}

// settingsResult answers a control write and logs the change.
func (h *ControlEchoHandler) settingsResult(c echo.Context, action string, s control.Settings, err error) error {
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	h.logger.Info("control updated", xlogger.String("action", action), xlogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, s)
}

func (h *ControlEchoHandler) Pause(c echo.Context) error {
	s, err := h.d.Settings.Pause(c.Request().Context())
	return h.settingsResult(c, "pause", s, err)
}

func (h *ControlEchoHandler) Resume(c echo.Context) error {
	s, err := h.d.Settings.Resume(c.Request().Context())
	return h.settingsResult(c, "resume", s, err)
}

type LogicRequest struct {
	Logic   string `json:"logic" validate:"required,oneof=LOGIC1 LOGIC2 LOGIC3"`
	Enabled bool   `json:"enabled"`
}

func (h *ControlEchoHandler) SetLogic(c echo.Context) error {
	req := &LogicRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.d.Settings.SetLogic(c.Request().Context(), models.Logic(req.Logic), req.Enabled)
	return h.settingsResult(c, "logic", s, err)
}

// CapsRequest overrides tier caps; zero restores the tier value.
type CapsRequest struct {
	Daily    float64 `json:"daily" validate:"gte=0"`
	Lifetime float64 `json:"lifetime" validate:"gte=0"`
}

func (h *ControlEchoHandler) SetCaps(c echo.Context) error {
	req := &CapsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.d.Settings.SetCaps(c.Request().Context(), req.Daily, req.Lifetime)
	return h.settingsResult(c, "caps", s, err)
}

type ChainsRequest struct {
	SLHunt         bool `json:"sl_hunt"`
	TPContinuation bool `json:"tp_continuation"`
	MaxLevels      int  `json:"max_levels" validate:"gte=0,lte=10" default:"2"`

	// ExitContinuation is left unchanged when omitted.
	ExitContinuation *bool `json:"exit_continuation"`
}

func (h *ControlEchoHandler) SetChains(c echo.Context) error {
	req := &ChainsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	s, err := h.d.Settings.SetChains(ctx, req.SLHunt, req.TPContinuation, req.MaxLevels)
	if err == nil && req.ExitContinuation != nil {
		s, err = h.d.Settings.SetExitContinuation(ctx, *req.ExitContinuation)
	}
	return h.settingsResult(c, "chains", s, err)
}

type TrendRequest struct {
	Symbol    string `json:"symbol" validate:"required"`
	TF        string `json:"tf" validate:"required,oneof=5m 15m 1h 1d"`
	Direction string `json:"direction" validate:"omitempty,oneof=bull bear"`
	Mode      string `json:"mode" validate:"oneof=manual auto" default:"manual"`
}

func (h *ControlEchoHandler) SetTrend(c echo.Context) error {
	req := &TrendRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Mode == "manual" && req.Direction == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("direction is required for a manual trend"))
	}
	ctx := c.Request().Context()
	tf := models.Timeframe(req.TF)

	var err error
	if req.Mode == "auto" {
		err = h.d.Trend.SetAuto(ctx, req.Symbol, tf)
	} else {
		err = h.d.Trend.SetManual(ctx, req.Symbol, tf, models.Direction(req.Direction), h.d.Now())
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	rec, _ := h.d.Trend.Get(req.Symbol, tf)
	h.logger.Info("trend set", xlogger.String("symbol", req.Symbol), xlogger.String("tf", req.TF),
		xlogger.String("mode", req.Mode), xlogger.String("direction", req.Direction))
	return xhttp.SuccessResponse(c, rec)
}

func (h *ControlEchoHandler) Tick(c echo.Context) error {
	if !h.d.Monitor.TickNow(c.Request().Context()) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("a monitor tick is already running"))
	}
	return xhttp.SuccessResponse(c, h.d.Monitor.Status())
}

type CloseRequest struct {
	Price float64 `json:"price" validate:"gte=0"`
}

func (h *ControlEchoHandler) CloseTrade(c echo.Context) error {
	req := &CloseRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := c.Param("id")
	t, closed, err := h.d.Closer.Close(c.Request().Context(), id, models.CloseManual, req.Price)
	if err != nil {
		h.logger.Error("manual close", xlogger.String("trade_id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	if !closed {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no open trade %s", id))
	}
	return xhttp.SuccessResponse(c, t)
}
