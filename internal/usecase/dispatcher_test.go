package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
)

func backends(bs ...repository.NotificationBackend) []repository.NotificationBackend {
	return bs
}

// fakeMetrics satisfies repository.Metrics and counts what it saw.
type fakeMetrics struct {
	mu         sync.Mutex
	alerts     int
	suppressed map[string]int
	errors     map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{suppressed: make(map[string]int), errors: make(map[string]int)}
}

func (m *fakeMetrics) RecordCycle(string, float64) {}
func (m *fakeMetrics) RecordSignal(string, string) {}
func (m *fakeMetrics) RecordAlert(string, string) {
	m.mu.Lock()
	m.alerts++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordSuppressed(_, reason string) {
	m.mu.Lock()
	m.suppressed[reason]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordEventLag(string, float64) {}
func (m *fakeMetrics) RecordAPICall(string)           {}
func (m *fakeMetrics) RecordLastPrice(string, float64) {}
func (m *fakeMetrics) SetHealthScore(float64)        {}
func (m *fakeMetrics) SetSymbolStates(int, int, int) {}

// fakeBackend records sends and can be told to fail.
type fakeBackend struct {
	mu   sync.Mutex
	name string
	fail bool
	sent []*models.AlertRecord
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Send(_ context.Context, rec *models.AlertRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return &models.DeliveryFailure{Backend: b.name, Err: errors.New("boom")}
	}
	b.sent = append(b.sent, rec)
	return nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// fakeClock is a mutable time source for window tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func strongSignal(symbol string, typ models.SignalType) *models.TradingSignal {
	return &models.TradingSignal{
		Symbol:    symbol,
		Type:      typ,
		Direction: models.DirectionLong,
		Strength:  0.9,
		Price:     50000,
		Timeframe: "1h",
		Timestamp: time.Now(),
	}
}

// submit mirrors the scheduler's call pattern: priority from the standard
// mapping.
func submit(d *Dispatcher, sig *models.TradingSignal) *models.AlertRecord {
	return d.Submit(sig, PriorityFor(sig))
}

func TestDispatcher_RateLimitFiveOfSix(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	backend := &fakeBackend{name: "log"}
	metrics := newFakeMetrics()

	d := NewDispatcher(backends(backend), metrics, testLogger(t),
		WithMaxPerHour(5),
		WithDedupWindow(time.Minute),
		WithClock(clock.now),
	)
	d.Start(context.Background())

	// six submissions spread past the dedup window but inside one hour
	for i := 0; i < 6; i++ {
		submit(d, strongSignal("BTCUSDT", models.SignalSuperBullish))
		clock.advance(2 * time.Minute)
	}
	d.Stop()

	recent := d.Recent(10)
	require.Len(t, recent, 6)

	delivered, suppressed := 0, 0
	for _, rec := range recent {
		if rec.Delivered {
			delivered++
		} else {
			suppressed++
			assert.Equal(t, SuppressRateLimited, rec.SuppressReason)
		}
	}
	assert.Equal(t, 5, delivered)
	assert.Equal(t, 1, suppressed)
	assert.Equal(t, 5, backend.count())
	assert.Equal(t, 1, metrics.suppressed[SuppressRateLimited])
}

func TestDispatcher_DedupCoalesces(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	backend := &fakeBackend{name: "log"}

	d := NewDispatcher(backends(backend), newFakeMetrics(), testLogger(t),
		WithDedupWindow(time.Minute),
		WithClock(clock.now),
	)
	d.Start(context.Background())

	first := submit(d, strongSignal("BTCUSDT", models.SignalSuperBullish))
	assert.Empty(t, first.SuppressReason)

	clock.advance(30 * time.Second)
	repeat := submit(d, strongSignal("BTCUSDT", models.SignalSuperBullish))
	assert.Equal(t, SuppressDuplicate, repeat.SuppressReason)

	// a different type for the same symbol is not a duplicate
	other := submit(d, strongSignal("BTCUSDT", models.SignalBreakoutBullish))
	assert.Empty(t, other.SuppressReason)

	// past the window the same type goes through again
	clock.advance(2 * time.Minute)
	again := submit(d, strongSignal("BTCUSDT", models.SignalSuperBullish))
	assert.Empty(t, again.SuppressReason)

	d.Stop()
	assert.Equal(t, 3, backend.count())
}

func TestDispatcher_BelowStrengthSuppressed(t *testing.T) {
	backend := &fakeBackend{name: "log"}
	d := NewDispatcher(backends(backend), newFakeMetrics(), testLogger(t),
		WithMinStrength(0.7),
	)
	d.Start(context.Background())

	weak := strongSignal("BTCUSDT", models.SignalTrendChangeBull)
	weak.Strength = 0.6
	rec := submit(d, weak)
	d.Stop()

	assert.Equal(t, SuppressBelowStrength, rec.SuppressReason)
	assert.Zero(t, backend.count())

	recent := d.Recent(10)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Delivered)
}

func TestDispatcher_ConfigureSymbolOverrides(t *testing.T) {
	backend := &fakeBackend{name: "log"}
	d := NewDispatcher(backends(backend), newFakeMetrics(), testLogger(t),
		WithMinStrength(0.7),
	)
	d.Start(context.Background())
	defer d.Stop()

	d.ConfigureSymbol("ETHUSDT", 0.95, 0)

	sig := strongSignal("ETHUSDT", models.SignalSuperBullish) // strength 0.9
	rec := submit(d, sig)
	assert.Equal(t, SuppressBelowStrength, rec.SuppressReason)

	// other symbols keep the default floor
	rec = submit(d, strongSignal("BTCUSDT", models.SignalSuperBullish))
	assert.Empty(t, rec.SuppressReason)
}

func TestDispatcher_FallbackChain(t *testing.T) {
	failing := &fakeBackend{name: "telegram", fail: true}
	working := &fakeBackend{name: "webhook"}

	d := NewDispatcher([]repository.NotificationBackend{failing, working}, newFakeMetrics(), testLogger(t))
	d.Start(context.Background())
	submit(d, strongSignal("BTCUSDT", models.SignalSuperBullish))
	d.Stop()

	recent := d.Recent(1)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Delivered)
	assert.Equal(t, "webhook", recent[0].DeliveredBy)
	assert.Equal(t, 1, working.count())
}

func TestDispatcher_AllBackendsFail(t *testing.T) {
	metrics := newFakeMetrics()
	d := NewDispatcher(backends(&fakeBackend{name: "telegram", fail: true}), metrics, testLogger(t))
	d.Start(context.Background())
	submit(d, strongSignal("BTCUSDT", models.SignalSuperBullish))
	d.Stop()

	recent := d.Recent(1)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Delivered)
	assert.Equal(t, SuppressNoBackend, recent[0].SuppressReason)
	assert.Equal(t, 1, metrics.suppressed[SuppressNoBackend])
}

func TestDispatcher_HistoryRingCaps(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	d := NewDispatcher(backends(&fakeBackend{name: "log"}), newFakeMetrics(), testLogger(t),
		WithHistorySize(3),
		WithMaxPerHour(100),
		WithDedupWindow(time.Second),
		WithClock(clock.now),
	)
	d.Start(context.Background())

	types := []models.SignalType{
		models.SignalSuperBullish,
		models.SignalSuperBearish,
		models.SignalBreakoutBullish,
		models.SignalBreakoutBearish,
		models.SignalTrendChangeBull,
	}
	for _, typ := range types {
		submit(d, strongSignal("BTCUSDT", typ))
		clock.advance(2 * time.Second)
	}
	d.Stop()

	recent := d.Recent(10)
	require.Len(t, recent, 3)
	// newest first: the last three submissions survive
	assert.Equal(t, models.SignalTrendChangeBull, recent[0].Signal.Type)
	assert.Equal(t, models.SignalBreakoutBearish, recent[1].Signal.Type)
	assert.Equal(t, models.SignalBreakoutBullish, recent[2].Signal.Type)
}

func TestDispatcher_SubmitKeepsCallerPriority(t *testing.T) {
	d := NewDispatcher(backends(&fakeBackend{name: "log"}), newFakeMetrics(), testLogger(t))
	d.Start(context.Background())
	rec := d.Submit(strongSignal("BTCUSDT", models.SignalBreakoutBullish), models.PriorityInfo)
	d.Stop()

	assert.Equal(t, models.PriorityInfo, rec.Priority)
}

func TestPriorityFor(t *testing.T) {
	cases := []struct {
		typ      models.SignalType
		strength float64
		want     models.AlertPriority
	}{
		{models.SignalSuperBullish, 1.0, models.PriorityCritical},
		{models.SignalSuperBullish, 0.9, models.PriorityHigh},
		{models.SignalSuperBearish, 0.95, models.PriorityHigh},
		{models.SignalBreakoutBullish, 0.85, models.PriorityMedium},
		{models.SignalTrendChangeBull, 0.7, models.PriorityLow},
	}

	for _, tc := range cases {
		sig := strongSignal("BTCUSDT", tc.typ)
		sig.Strength = tc.strength
		assert.Equal(t, tc.want, PriorityFor(sig), "type %s strength %v", tc.typ, tc.strength)
	}
}
