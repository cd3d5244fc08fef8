package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
)

// fakeSnapshots drives the engine with scripted indicator snapshots.
type fakeSnapshots struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, symbol string) (*models.IndicatorSnapshot, error)
}

func (f *fakeSnapshots) Snapshot(_ context.Context, symbol string, _ repository.Timeframe) (*models.IndicatorSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call, fn := f.calls, f.fn
	f.mu.Unlock()
	return fn(call, symbol)
}

func (f *fakeSnapshots) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSnapshots) set(fn func(call int, symbol string) (*models.IndicatorSnapshot, error)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

type stubContext struct{}

func (stubContext) Context(context.Context, string) ([]*models.IndicatorSnapshot, map[string]string) {
	return nil, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []*models.HistoryEvent
}

func (p *memPublisher) Publish(_ context.Context, e *models.HistoryEvent) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) PublishBatch(_ context.Context, events []*models.HistoryEvent) error {
	p.mu.Lock()
	p.events = append(p.events, events...)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) Close() error { return nil }

func superBullish(symbol string) *models.IndicatorSnapshot {
	return snapshotFixture(func(s *models.IndicatorSnapshot) {
		s.Symbol = symbol
		s.SqueezeOn = true
	})
}

func superBearish(symbol string) *models.IndicatorSnapshot {
	return snapshotFixture(func(s *models.IndicatorSnapshot) {
		s.Symbol = symbol
		s.SqueezeOn = true
		s.Trend = models.TrendRed
		s.PrevTrend = models.TrendRed
		s.Momentum = models.MomentumRed
	})
}

type engineFixture struct {
	engine  *Engine
	snaps   *fakeSnapshots
	backend *fakeBackend
	metrics *fakeMetrics
	ledger  *Ledger
	agg     *Aggregator
	disp    *Dispatcher
}

func testEngine(t *testing.T, snaps *fakeSnapshots, opts ...EngineOption) *engineFixture {
	t.Helper()
	log := testLogger(t)
	metrics := newFakeMetrics()
	backend := &fakeBackend{name: "test"}
	disp := NewDispatcher(backends(backend), metrics, log, WithQueueSize(64))
	agg := NewAggregator()
	led := NewLedger(dec("10000"), log)
	rec := NewEventRecorder(&memPublisher{}, nil, metrics, log, BackendKafka)

	base := []EngineOption{
		WithPollInterval(5 * time.Millisecond),
		WithPollTimeout(time.Second),
	}
	eng := NewEngine(snaps, stubContext{}, NewClassifier(), led, disp, agg, rec, metrics, log,
		append(base, opts...)...)
	return &engineFixture{
		engine:  eng,
		snaps:   snaps,
		backend: backend,
		metrics: metrics,
		ledger:  led,
		agg:     agg,
		disp:    disp,
	}
}

func (fx *engineFixture) start(t *testing.T, ctx context.Context) {
	t.Helper()
	fx.disp.Start(ctx)
	require.NoError(t, fx.engine.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, fx.engine.Stop(context.Background()))
		fx.disp.Stop()
	})
}

func TestEngine_RegistryOperations(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(_ int, symbol string) (*models.IndicatorSnapshot, error) {
		return superBullish(symbol), nil
	}}
	fx := testEngine(t, snaps)
	eng := fx.engine
	ctx := context.Background()

	require.NoError(t, eng.AddSymbol(ctx, "btcusdt", 0))
	assert.ErrorIs(t, eng.AddSymbol(ctx, "BTCUSDT", 0), models.ErrSymbolExists)

	st := eng.Status()
	assert.Equal(t, 1, st.TotalSymbols)
	assert.Equal(t, 1, st.ActiveSymbols)
	assert.Equal(t, models.SymbolActive, st.PerSymbol["BTCUSDT"].State)

	// pause is idempotent, resume on ACTIVE is a no-op
	require.NoError(t, eng.PauseSymbol("BTCUSDT"))
	require.NoError(t, eng.PauseSymbol("BTCUSDT"))
	assert.Equal(t, models.SymbolPaused, eng.Status().PerSymbol["BTCUSDT"].State)
	require.NoError(t, eng.ResumeSymbol("BTCUSDT"))
	require.NoError(t, eng.ResumeSymbol("BTCUSDT"))
	assert.Equal(t, models.SymbolActive, eng.Status().PerSymbol["BTCUSDT"].State)

	assert.ErrorIs(t, eng.PauseSymbol("ETHUSDT"), models.ErrSymbolNotFound)
	require.NoError(t, eng.RemoveSymbol(ctx, "BTCUSDT"))
	assert.ErrorIs(t, eng.RemoveSymbol(ctx, "BTCUSDT"), models.ErrSymbolNotFound)
	assert.Equal(t, 0, eng.Status().TotalSymbols)
}

func TestEngine_PollingEmitsSignalAndOpensPosition(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(_ int, symbol string) (*models.IndicatorSnapshot, error) {
		return superBullish(symbol), nil
	}}
	fx := testEngine(t, snaps)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.start(t, ctx)

	require.Eventually(t, func() bool { return fx.snaps.count() >= 3 },
		2*time.Second, 2*time.Millisecond)

	// repeated identical signals dedup to one delivered alert
	require.Eventually(t, func() bool { return fx.backend.count() == 1 },
		2*time.Second, 2*time.Millisecond)

	pos, ok := fx.ledger.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, models.SideLong, pos.Side)
	assert.True(t, pos.InvestedCapital.Equal(dec("100")))

	st := fx.engine.Status()
	assert.Equal(t, models.SignalSuperBullish, st.PerSymbol["BTCUSDT"].LastSignal)
	assert.GreaterOrEqual(t, st.PerSymbol["BTCUSDT"].SignalCount, int64(1))
	assert.GreaterOrEqual(t, st.TotalSignals, int64(1))
	assert.GreaterOrEqual(t, st.Performance.TotalCycles, int64(3))
}

func TestEngine_OpposingSignalClosesPosition(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(call int, symbol string) (*models.IndicatorSnapshot, error) {
		if call == 1 {
			return superBullish(symbol), nil
		}
		return superBearish(symbol), nil
	}}
	fx := testEngine(t, snaps)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.start(t, ctx)

	require.Eventually(t, func() bool { return len(fx.ledger.Trades(10)) >= 1 },
		2*time.Second, 2*time.Millisecond)

	trades := fx.ledger.Trades(10)
	assert.Equal(t, models.SideLong, trades[0].Side)

	pos, ok := fx.ledger.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, models.SideShort, pos.Side)
}

func TestEngine_RemoveSymbolStopsAlerts(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(call int, symbol string) (*models.IndicatorSnapshot, error) {
		return superBullish(symbol), nil
	}}
	fx := testEngine(t, snaps)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.start(t, ctx)

	require.Eventually(t, func() bool { return fx.backend.count() >= 1 },
		2*time.Second, 2*time.Millisecond)

	require.NoError(t, fx.engine.RemoveSymbol(ctx, "BTCUSDT"))

	// the worker exits once it observes REMOVED; polling stops with it
	frozen := -1
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n := fx.snaps.count()
		time.Sleep(15 * time.Millisecond)
		if fx.snaps.count() == n {
			frozen = n
			break
		}
	}
	require.GreaterOrEqual(t, frozen, 1, "polling never stopped after remove")

	delivered := fx.backend.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, fx.snaps.count())
	assert.Equal(t, delivered, fx.backend.count())
	assert.Equal(t, 0, fx.engine.Status().TotalSymbols)
}

func TestEngine_ErrorThresholdMovesSymbolToError(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(_ int, symbol string) (*models.IndicatorSnapshot, error) {
		return nil, &models.DataProviderError{Symbol: symbol, Op: "klines", Err: context.DeadlineExceeded}
	}}
	fx := testEngine(t, snaps,
		WithErrorThreshold(3, time.Hour),
		WithBackoffCap(10*time.Millisecond),
	)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.start(t, ctx)

	require.Eventually(t, func() bool {
		return fx.engine.Status().PerSymbol["BTCUSDT"].State == models.SymbolError
	}, 2*time.Second, 2*time.Millisecond)

	st := fx.engine.Status()
	assert.GreaterOrEqual(t, st.PerSymbol["BTCUSDT"].ConsecutiveErrors, 3)
	assert.Equal(t, 1, st.ErrorSymbols)
	assert.NotEmpty(t, st.PerSymbol["BTCUSDT"].LastError)

	fx.metrics.mu.Lock()
	dataErrors := fx.metrics.errors["data_provider"]
	fx.metrics.mu.Unlock()
	assert.GreaterOrEqual(t, dataErrors, 3)
}

func TestEngine_BudgetExhaustionDoesNotCountAsError(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(_ int, _ string) (*models.IndicatorSnapshot, error) {
		return nil, fmt.Errorf("klines budget: %w", &models.RateLimitExceeded{
			Budget: 1200, Window: time.Minute, Err: context.DeadlineExceeded,
		})
	}}
	fx := testEngine(t, snaps, WithErrorThreshold(2, time.Hour))
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.start(t, ctx)

	// well past the error threshold, the symbol must still be ACTIVE
	require.Eventually(t, func() bool { return fx.snaps.count() >= 4 },
		2*time.Second, 2*time.Millisecond)

	st := fx.engine.Status().PerSymbol["BTCUSDT"]
	assert.Equal(t, models.SymbolActive, st.State)
	assert.Zero(t, st.ConsecutiveErrors)
	assert.GreaterOrEqual(t, fx.agg.Snapshot().RateLimitHits, int64(3))
}

func TestEngine_ErrorStreakResetsOnSuccess(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(call int, symbol string) (*models.IndicatorSnapshot, error) {
		if call <= 2 {
			return nil, &models.DataProviderError{Symbol: symbol, Op: "klines", Err: context.DeadlineExceeded}
		}
		return superBullish(symbol), nil
	}}
	fx := testEngine(t, snaps,
		WithErrorThreshold(5, time.Hour),
		WithBackoffCap(10*time.Millisecond),
	)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.start(t, ctx)

	require.Eventually(t, func() bool {
		s := fx.engine.Status().PerSymbol["BTCUSDT"]
		return s.ConsecutiveErrors == 0 && s.State == models.SymbolActive && fx.snaps.count() >= 3
	}, 2*time.Second, 2*time.Millisecond)
}

func TestEngine_ErrorCooldownReactivates(t *testing.T) {
	snaps := &fakeSnapshots{}
	snaps.set(func(_ int, symbol string) (*models.IndicatorSnapshot, error) {
		return nil, &models.DataProviderError{Symbol: symbol, Op: "klines", Err: context.DeadlineExceeded}
	})
	fx := testEngine(t, snaps,
		WithErrorThreshold(1, 40*time.Millisecond),
		WithBackoffCap(10*time.Millisecond),
	)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.start(t, ctx)

	require.Eventually(t, func() bool {
		return fx.engine.Status().PerSymbol["BTCUSDT"].State == models.SymbolError
	}, 2*time.Second, 2*time.Millisecond)

	snaps.set(func(_ int, symbol string) (*models.IndicatorSnapshot, error) {
		return superBullish(symbol), nil
	})

	require.Eventually(t, func() bool {
		s := fx.engine.Status().PerSymbol["BTCUSDT"]
		return s.State == models.SymbolActive && s.ConsecutiveErrors == 0
	}, 2*time.Second, 2*time.Millisecond)
}

func TestEngine_StopDrainsInFlightCycle(t *testing.T) {
	var inFlight sync.WaitGroup
	snaps := &fakeSnapshots{fn: func(_ int, symbol string) (*models.IndicatorSnapshot, error) {
		inFlight.Add(1)
		defer inFlight.Done()
		time.Sleep(30 * time.Millisecond)
		return superBullish(symbol), nil
	}}
	fx := testEngine(t, snaps)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	fx.disp.Start(ctx)
	defer fx.disp.Stop()
	require.NoError(t, fx.engine.Start(ctx))

	require.Eventually(t, func() bool { return fx.snaps.count() >= 1 },
		2*time.Second, time.Millisecond)

	require.NoError(t, fx.engine.Stop(context.Background()))

	// after Stop returns no cycle is still running and none start anymore
	inFlight.Wait()
	n := fx.snaps.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, fx.snaps.count())
	assert.Equal(t, models.EngineStopped, fx.engine.Status().State)
}

func TestEngine_PausedSymbolSkipsCycles(t *testing.T) {
	snaps := &fakeSnapshots{fn: func(_ int, symbol string) (*models.IndicatorSnapshot, error) {
		return superBullish(symbol), nil
	}}
	fx := testEngine(t, snaps)
	ctx := context.Background()

	require.NoError(t, fx.engine.AddSymbol(ctx, "BTCUSDT", 0))
	require.NoError(t, fx.engine.PauseSymbol("BTCUSDT"))
	fx.start(t, ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fx.snaps.count())

	require.NoError(t, fx.engine.ResumeSymbol("BTCUSDT"))
	require.Eventually(t, func() bool { return fx.snaps.count() >= 1 },
		2*time.Second, 2*time.Millisecond)
}
