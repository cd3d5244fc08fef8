package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"SqueezeWatch/internal/domain/models"
	icache "SqueezeWatch/internal/service/cache"
	apimetrics "SqueezeWatch/internal/service/metrics"
	"SqueezeWatch/internal/usecase"
	xhttp "SqueezeWatch/pkg/http"
	xlogger "SqueezeWatch/pkg/logger"
)

// MonitorHandler serves the monitoring API: engine status and control,
// alerts, positions, and the history read side.
type MonitorHandler struct {
	engine  *usecase.Engine
	history *usecase.HistoryUseCase
	cache   icache.BytesCache
	logger  *xlogger.Logger
}

func NewMonitorHandler(engine *usecase.Engine, history *usecase.HistoryUseCase, logger *xlogger.Logger) *MonitorHandler {
	apimetrics.Register()
	return &MonitorHandler{engine: engine, history: history, logger: logger}
}

// SetCache enables response caching on the read endpoints.
func (h *MonitorHandler) SetCache(c icache.BytesCache) { h.cache = c }

func (h *MonitorHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api/v1")
	g.GET("/status", h.Status)
	g.GET("/symbols", h.Symbols)
	g.POST("/symbols", h.AddSymbol)
	g.DELETE("/symbols/:symbol", h.RemoveSymbol)
	g.POST("/symbols/:symbol/pause", h.PauseSymbol)
	g.POST("/symbols/:symbol/resume", h.ResumeSymbol)
	g.GET("/alerts/recent", h.RecentAlerts)
	g.GET("/positions", h.Positions)
	g.GET("/trades/recent", h.RecentTrades)
	g.GET("/signals/:symbol/recent", h.RecentSignals)
	g.GET("/signals/:symbol/range", h.SignalRange)
}

func (h *MonitorHandler) Health(c echo.Context) error {
	status := h.engine.Status()
	body := map[string]interface{}{
		"status":       "ok",
		"engine":       status.State,
		"health_score": status.HealthScore,
	}
	if err := h.history.Health(c.Request().Context()); err != nil {
		body["history_store"] = "unreachable"
	}
	return c.JSON(http.StatusOK, body)
}

func (h *MonitorHandler) Status(c echo.Context) error {
	defer h.observe("status", time.Now())
	return h.respondCached(c, "status", time.Second, func() (interface{}, error) {
		return h.engine.Status(), nil
	})
}

func (h *MonitorHandler) Symbols(c echo.Context) error {
	defer h.observe("symbols", time.Now())
	return xhttp.SuccessResponse(c, h.engine.Symbols())
}

func (h *MonitorHandler) AddSymbol(c echo.Context) error {
	defer h.observe("add_symbol", time.Now())
	req := &models.AddSymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if err := h.engine.AddSymbol(c.Request().Context(), req.Symbol, interval); err != nil {
		if errors.Is(err, models.ErrSymbolExists) {
			return xhttp.BadRequestResponse(c, err.Error())
		}
		h.logger.Error("add symbol failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		apimetrics.APIErrors.WithLabelValues("add_symbol").Inc()
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, h.symbolStatus(req.Symbol))
}

func (h *MonitorHandler) RemoveSymbol(c echo.Context) error {
	defer h.observe("remove_symbol", time.Now())
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.RemoveSymbol(c.Request().Context(), req.Symbol); err != nil {
		if errors.Is(err, models.ErrSymbolNotFound) {
			return xhttp.NotFoundResponse(c, err.Error())
		}
		apimetrics.APIErrors.WithLabelValues("remove_symbol").Inc()
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *MonitorHandler) PauseSymbol(c echo.Context) error {
	defer h.observe("pause_symbol", time.Now())
	return h.setSymbolState(c, h.engine.PauseSymbol)
}

func (h *MonitorHandler) ResumeSymbol(c echo.Context) error {
	defer h.observe("resume_symbol", time.Now())
	return h.setSymbolState(c, h.engine.ResumeSymbol)
}

func (h *MonitorHandler) setSymbolState(c echo.Context, op func(string) error) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := op(req.Symbol); err != nil {
		if errors.Is(err, models.ErrSymbolNotFound) {
			return xhttp.NotFoundResponse(c, err.Error())
		}
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.symbolStatus(req.Symbol))
}

func (h *MonitorHandler) RecentAlerts(c echo.Context) error {
	defer h.observe("recent_alerts", time.Now())
	req := &models.RecentAlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.engine.RecentAlerts(req.Limit))
}

// PositionsResponse pairs the open positions with the ledger's realized
// stats, matching the original monitor's combined PnL view.
type PositionsResponse struct {
	Positions []*models.PositionView `json:"positions"`
	Stats     models.TradeStats      `json:"stats"`
}

func (h *MonitorHandler) Positions(c echo.Context) error {
	defer h.observe("positions", time.Now())
	return xhttp.SuccessResponse(c, &PositionsResponse{
		Positions: h.engine.OpenPositions(),
		Stats:     h.engine.TradeStats(),
	})
}

func (h *MonitorHandler) RecentTrades(c echo.Context) error {
	defer h.observe("recent_trades", time.Now())
	req := &models.RecentTradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := "trades:recent:" + strconv.Itoa(req.Limit)
	return h.respondCached(c, key, 2*time.Second, func() (interface{}, error) {
		return h.history.RecentTrades(c.Request().Context(), req.Limit)
	})
}

func (h *MonitorHandler) RecentSignals(c echo.Context) error {
	defer h.observe("recent_signals", time.Now())
	req := &models.RecentSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := "signals:recent:" + req.Symbol + ":" + strconv.Itoa(req.Limit)
	return h.respondCached(c, key, 2*time.Second, func() (interface{}, error) {
		return h.history.RecentSignals(c.Request().Context(), req.Symbol, req.Limit)
	})
}

// SignalRange serves signals inside an explicit [from, to] window. Times
// accept RFC3339 or unix seconds; the window defaults to the last 24h.
func (h *MonitorHandler) SignalRange(c echo.Context) error {
	defer h.observe("signal_range", time.Now())

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	to := xhttp.ParseTimeDefault(c.QueryParam("to"), time.Now().UTC())
	from := xhttp.ParseTimeDefault(c.QueryParam("from"), to.Add(-24*time.Hour))
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)

	if from.After(to) {
		return xhttp.BadRequestResponse(c, "from must be before to")
	}

	res, err := h.history.SignalsBetween(c.Request().Context(), usecase.SignalRangeParams{
		Symbol: symbol,
		From:   from,
		To:     to,
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("signal range query failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		apimetrics.APIErrors.WithLabelValues("signal_range").Inc()
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("history store unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *MonitorHandler) symbolStatus(symbol string) models.SymbolStatus {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	return h.engine.Status().PerSymbol[key]
}

// respondCached serves the standard success envelope out of the byte cache
// when present, loading and storing it otherwise. Cache failures fall back to
// an uncached response.
func (h *MonitorHandler) respondCached(c echo.Context, key string, ttl time.Duration, load func() (interface{}, error)) error {
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(key); err != nil {
			h.logger.Warn("response cache get failed", xlogger.String("key", key), xlogger.Error(err))
		} else if ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	data, err := load()
	if err != nil {
		h.logger.Error("usecase error", xlogger.String("key", key), xlogger.Error(err))
		// Read-side failures mean the history store is down, not a bug;
		// 503 tells pollers to retry.
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("history store unavailable").WithError(err))
	}
	if h.cache == nil {
		return xhttp.SuccessResponse(c, data)
	}

	b, err := json.Marshal(xhttp.APIResponse{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
	if err != nil {
		return xhttp.SuccessResponse(c, data)
	}
	if err := h.cache.SetBytes(key, b, ttl); err != nil {
		h.logger.Warn("response cache set failed", xlogger.String("key", key), xlogger.Error(err))
	}
	return c.JSONBlob(http.StatusOK, b)
}

func (h *MonitorHandler) observe(endpoint string, start time.Time) {
	apimetrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
