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

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
	icache "SqueezeWatch/internal/service/cache"
	"SqueezeWatch/internal/usecase"
	"SqueezeWatch/pkg/logger"
)

// The engine is never started here: registry operations and the read side
// work without workers, which keeps these tests synchronous.

type stubSnapshots struct{}

func (stubSnapshots) Snapshot(context.Context, string, repository.Timeframe) (*models.IndicatorSnapshot, error) {
	return nil, errors.New("no polling in handler tests")
}

type stubContext struct{}

func (stubContext) Context(context.Context, string) ([]*models.IndicatorSnapshot, map[string]string) {
	return nil, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordCycle(string, float64)      {}
func (nopMetrics) RecordSignal(string, string)      {}
func (nopMetrics) RecordAlert(string, string)       {}
func (nopMetrics) RecordSuppressed(string, string)  {}
func (nopMetrics) RecordError(string)               {}
func (nopMetrics) RecordEventLag(string, float64)   {}
func (nopMetrics) RecordAPICall(string)             {}
func (nopMetrics) RecordLastPrice(string, float64)  {}
func (nopMetrics) SetHealthScore(float64)           {}
func (nopMetrics) SetSymbolStates(int, int, int)    {}

type nopBackend struct{}

func (nopBackend) Name() string                                    { return "test" }
func (nopBackend) Send(context.Context, *models.AlertRecord) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *models.HistoryEvent) error        { return nil }
func (nopPublisher) PublishBatch(context.Context, []*models.HistoryEvent) error { return nil }
func (nopPublisher) Close() error                                               { return nil }

// fakeStore records the query bounds the handler passed down and serves
// scripted results.
type fakeStore struct {
	mu         sync.Mutex
	healthErr  error
	queryErr   error
	signals    []*models.TradingSignal
	trades     []*models.ClosedTrade
	lastSymbol string
	lastLimit  int
	lastFrom   time.Time
	lastTo     time.Time
}

func (s *fakeStore) Init(context.Context) error                               { return nil }
func (s *fakeStore) Store(context.Context, *models.HistoryEvent) error        { return nil }
func (s *fakeStore) StoreBatch(context.Context, []*models.HistoryEvent) error { return nil }
func (s *fakeStore) Close() error                                             { return nil }

func (s *fakeStore) Health(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthErr
}

func (s *fakeStore) RecentSignals(_ context.Context, symbol string, limit int) ([]*models.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSymbol, s.lastLimit = symbol, limit
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.signals, nil
}

func (s *fakeStore) RecentTrades(_ context.Context, limit int) ([]*models.ClosedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.trades, nil
}

func (s *fakeStore) SignalsBetween(_ context.Context, symbol string, from, to time.Time, limit int) ([]*models.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSymbol, s.lastFrom, s.lastTo, s.lastLimit = symbol, from, to, limit
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.signals, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	return l
}

type handlerFixture struct {
	e      *echo.Echo
	h      *MonitorHandler
	engine *usecase.Engine
	store  *fakeStore
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	log := testLogger(t)
	m := nopMetrics{}
	disp := usecase.NewDispatcher([]repository.NotificationBackend{nopBackend{}}, m, log)
	eng := usecase.NewEngine(
		stubSnapshots{}, stubContext{}, usecase.NewClassifier(),
		usecase.NewLedger(decimal.NewFromInt(10000), log),
		disp, usecase.NewAggregator(),
		usecase.NewEventRecorder(nopPublisher{}, nil, m, log, usecase.BackendKafka),
		m, log,
	)

	store := &fakeStore{}
	h := NewMonitorHandler(eng, usecase.NewHistoryUseCase(store), log)

	e := echo.New()
	h.RegisterRoutes(e)
	return &handlerFixture{e: e, h: h, engine: eng, store: store}
}

func (fx *handlerFixture) request(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	fx.e.ServeHTTP(rec, req)
	return rec
}

// envelope mirrors the standard response wrapper; Status carries the real
// outcome even though the wire code is 200.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func envelopeOf(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestMonitorHandler_AddSymbol(t *testing.T) {
	fx := newFixture(t)

	rec := fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"btcusdt"}`)
	env := envelopeOf(t, rec)
	require.Equal(t, http.StatusCreated, env.Status)

	var st models.SymbolStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.Equal(t, models.SymbolActive, st.State)

	// duplicate registration is rejected, case-insensitively
	rec = fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"BTCUSDT"}`)
	assert.Equal(t, http.StatusBadRequest, envelopeOf(t, rec).Status)
	assert.Len(t, fx.engine.Symbols(), 1)
}

func TestMonitorHandler_AddSymbolValidation(t *testing.T) {
	fx := newFixture(t)

	// too short for a trading pair
	rec := fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"BTC"}`)
	assert.Equal(t, http.StatusBadRequest, envelopeOf(t, rec).Status)

	// separators are not part of exchange pair symbols
	rec = fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"BTC-USDT"}`)
	assert.Equal(t, http.StatusBadRequest, envelopeOf(t, rec).Status)

	// custom interval outside 5s..300s
	rec = fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"ETHUSDT","interval_ms":1000}`)
	assert.Equal(t, http.StatusBadRequest, envelopeOf(t, rec).Status)

	assert.Empty(t, fx.engine.Symbols())
}

func TestMonitorHandler_RemoveSymbol(t *testing.T) {
	fx := newFixture(t)

	rec := fx.request(http.MethodDelete, "/api/v1/symbols/ETHUSDT", "")
	assert.Equal(t, http.StatusNotFound, envelopeOf(t, rec).Status)

	fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"ETHUSDT"}`)
	rec = fx.request(http.MethodDelete, "/api/v1/symbols/ETHUSDT", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, fx.engine.Symbols())
}

func TestMonitorHandler_PauseResume(t *testing.T) {
	fx := newFixture(t)

	rec := fx.request(http.MethodPost, "/api/v1/symbols/BTCUSDT/pause", "")
	assert.Equal(t, http.StatusNotFound, envelopeOf(t, rec).Status)

	fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"BTCUSDT"}`)

	rec = fx.request(http.MethodPost, "/api/v1/symbols/BTCUSDT/pause", "")
	env := envelopeOf(t, rec)
	require.Equal(t, http.StatusOK, env.Status)
	var st models.SymbolStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, models.SymbolPaused, st.State)

	rec = fx.request(http.MethodPost, "/api/v1/symbols/BTCUSDT/resume", "")
	env = envelopeOf(t, rec)
	require.Equal(t, http.StatusOK, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, models.SymbolActive, st.State)
}

func TestMonitorHandler_Health(t *testing.T) {
	fx := newFixture(t)

	rec := fx.request(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "history_store")

	fx.store.mu.Lock()
	fx.store.healthErr = errors.New("connection refused")
	fx.store.mu.Unlock()

	rec = fx.request(http.MethodGet, "/health", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unreachable", body["history_store"])
}

func TestMonitorHandler_StatusServedFromCache(t *testing.T) {
	fx := newFixture(t)
	fx.h.SetCache(icache.NewTTLCache())

	fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"BTCUSDT"}`)
	first := fx.request(http.MethodGet, "/api/v1/status", "").Body.String()

	// a registry change inside the TTL is not visible yet
	fx.request(http.MethodPost, "/api/v1/symbols", `{"symbol":"ETHUSDT"}`)
	second := fx.request(http.MethodGet, "/api/v1/status", "").Body.String()

	assert.JSONEq(t, first, second)
	assert.Len(t, fx.engine.Symbols(), 2)
}

func TestMonitorHandler_RecentSignalsBounds(t *testing.T) {
	fx := newFixture(t)
	fx.store.signals = []*models.TradingSignal{{Symbol: "BTCUSDT", Type: models.SignalSuperBullish}}

	rec := fx.request(http.MethodGet, "/api/v1/signals/BTCUSDT/recent", "")
	env := envelopeOf(t, rec)
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "BTCUSDT", fx.store.lastSymbol)
	assert.Equal(t, 50, fx.store.lastLimit, "default limit")

	var got []*models.TradingSignal
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, models.SignalSuperBullish, got[0].Type)

	// validation rejects limits above the request bound
	rec = fx.request(http.MethodGet, "/api/v1/signals/BTCUSDT/recent?limit=2000", "")
	assert.Equal(t, http.StatusBadRequest, envelopeOf(t, rec).Status)

	// the use case clamps valid but oversized limits before querying
	fx.request(http.MethodGet, "/api/v1/signals/BTCUSDT/recent?limit=700", "")
	assert.Equal(t, 500, fx.store.lastLimit)
}

func TestMonitorHandler_RecentTradesDefaultLimit(t *testing.T) {
	fx := newFixture(t)

	rec := fx.request(http.MethodGet, "/api/v1/trades/recent", "")
	require.Equal(t, http.StatusOK, envelopeOf(t, rec).Status)
	assert.Equal(t, 50, fx.store.lastLimit)

	fx.request(http.MethodGet, "/api/v1/trades/recent?limit=3", "")
	assert.Equal(t, 3, fx.store.lastLimit)
}

func TestMonitorHandler_SignalRange(t *testing.T) {
	fx := newFixture(t)

	// inverted window
	rec := fx.request(http.MethodGet,
		"/api/v1/signals/BTCUSDT/range?from=2025-06-02T00:00:00Z&to=2025-06-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, envelopeOf(t, rec).Status)

	// unix-second bounds, lowercase symbol in the path
	rec = fx.request(http.MethodGet,
		"/api/v1/signals/btcusdt/range?from=1748736000&to=1748822400&limit=900", "")
	env := envelopeOf(t, rec)
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "BTCUSDT", fx.store.lastSymbol)
	assert.Equal(t, int64(1748736000), fx.store.lastFrom.Unix())
	assert.Equal(t, int64(1748822400), fx.store.lastTo.Unix())
	assert.Equal(t, 500, fx.store.lastLimit, "oversized limit clamps")

	var res usecase.SignalRangeResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, 0, res.Count)
}

func TestMonitorHandler_SignalRangeStoreError(t *testing.T) {
	fx := newFixture(t)
	fx.store.queryErr = errors.New("clickhouse down")

	rec := fx.request(http.MethodGet, "/api/v1/signals/BTCUSDT/range", "")
	assert.Equal(t, http.StatusServiceUnavailable, envelopeOf(t, rec).Status,
		"store outages are retryable, not server bugs")
}

func TestMonitorHandler_AlertsAndPositionsEmpty(t *testing.T) {
	fx := newFixture(t)

	rec := fx.request(http.MethodGet, "/api/v1/alerts/recent", "")
	assert.Equal(t, http.StatusOK, envelopeOf(t, rec).Status)

	rec = fx.request(http.MethodGet, "/api/v1/positions", "")
	env := envelopeOf(t, rec)
	require.Equal(t, http.StatusOK, env.Status)

	var res PositionsResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Empty(t, res.Positions)
	assert.Equal(t, 0, res.Stats.TotalTrades)
}
