package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"ZepixTrader/internal/domain/errs"
	"ZepixTrader/internal/domain/models"
	"ZepixTrader/internal/service/ratelimit"
	"ZepixTrader/internal/usecase"
	xhttp "ZepixTrader/pkg/http"
	xlogger "ZepixTrader/pkg/logger"
)

// TokenHeader carries the shared webhook secret.
const TokenHeader = "X-Webhook-Token"

// WebhookRequest is the TradingView alert body. Only presence is checked
// here; the alert gate normalizes and applies the category rules.
type WebhookRequest struct {
	Symbol   string  `json:"symbol" validate:"required"`
	TF       string  `json:"tf" validate:"required"`
	Type     string  `json:"type" validate:"required"`
	Signal   string  `json:"signal" validate:"required"`
	Price    float64 `json:"price" validate:"gte=0"`
	Strategy string  `json:"strategy"`
	Source   string  `json:"source" default:"webhook"`
}

func (r *WebhookRequest) alert() models.Alert {
	return models.Alert{
		Symbol:    r.Symbol,
		Timeframe: models.Timeframe(r.TF),
		Category:  models.Category(r.Type),
		Signal:    r.Signal,
		Price:     r.Price,
		Strategy:  r.Strategy,
		Source:    r.Source,
	}
}

// WebhookEchoHandler receives alerts over HTTP and hands them to the
// orchestrator.
type WebhookEchoHandler struct {
	logger   *xlogger.Logger
	alerts   usecase.AlertHandler
	token    string
	limiter  *ratelimit.Limiter
	deferrer usecase.Deferrer
}

type WebhookOption func(*WebhookEchoHandler)

// WithWebhookToken requires the shared secret on every request.
func WithWebhookToken(token string) WebhookOption {
	return func(h *WebhookEchoHandler) { h.token = token }
}

func WithRateLimiter(l *ratelimit.Limiter) WebhookOption {
	return func(h *WebhookEchoHandler) { h.limiter = l }
}

// WithDeferrer parks alerts that failed transiently and answers 202 instead
// of 503.
func WithDeferrer(d usecase.Deferrer) WebhookOption {
	return func(h *WebhookEchoHandler) { h.deferrer = d }
}

func NewWebhookEchoHandler(logger *xlogger.Logger, alerts usecase.AlertHandler, opts ...WebhookOption) *WebhookEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &WebhookEchoHandler{logger: logger, alerts: alerts}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WebhookEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook", h.Receive, requireToken(h.token))
}

func (h *WebhookEchoHandler) Receive(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many alerts"))
	}

	req := &WebhookRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	res, err := h.alerts.HandleAlert(ctx, req.alert())
	if err != nil {
		if errs.KindOf(err) == errs.KindTransient && h.deferrer != nil {
			derr := h.deferrer.Defer(ctx, res.Alert)
			if derr == nil {
				res.Status = "deferred"
				return xhttp.DataResponse(c, http.StatusAccepted, res)
			}
			h.logger.Error("defer alert", xlogger.Error(derr))
		}
		return xhttp.AppErrorResponse(c, appError(err))
	}

	switch res.Kind {
	case errs.KindValidation:
		return xhttp.BadRequestResponse(c, res)
	case errs.KindDuplicate:
		return xhttp.ConflictResponse(c, res)
	default:
		return xhttp.SuccessResponse(c, res)
	}
}

// requireToken rejects requests without the shared secret. An empty token
// disables the check.
func requireToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}
			got := c.Request().Header.Get(TokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("invalid token"))
			}
			return next(c)
		}
	}
}
