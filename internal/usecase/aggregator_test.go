package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SqueezeWatch/internal/domain/models"
)

func TestAggregator_IdleEngineIsHealthy(t *testing.T) {
	a := NewAggregator()

	assert.InDelta(t, 1.0, a.HealthScore(), 1e-9)

	m := a.Snapshot()
	assert.Zero(t, m.TotalCycles)
	assert.Zero(t, m.ErrorRate)
	assert.InDelta(t, 1.0, m.HealthScore, 1e-9)
}

func TestAggregator_CycleAccounting(t *testing.T) {
	a := NewAggregator()

	a.RecordCycle("BTCUSDT", 100*time.Millisecond, true)
	a.RecordCycle("BTCUSDT", 300*time.Millisecond, false)
	a.RecordCycle("ETHUSDT", 200*time.Millisecond, true)

	m := a.Snapshot()
	assert.Equal(t, int64(3), m.TotalCycles)
	assert.Equal(t, int64(2), m.TotalAPICalls)
	assert.InDelta(t, 200.0, m.AvgCycleMs, 1e-9)
	assert.InDelta(t, 300.0, m.MaxCycleMs, 1e-9)
	assert.Equal(t, int64(2), m.CyclesPerSymbol["BTCUSDT"])
	assert.Equal(t, int64(1), m.CyclesPerSymbol["ETHUSDT"])
}

func TestAggregator_HealthScoreParts(t *testing.T) {
	a := NewAggregator(WithLatencyBound(time.Second))

	// all symbols active, no errors, fast cycles
	a.SetSymbolCounts(4, 4)
	a.RecordCycle("BTCUSDT", 50*time.Millisecond, true)
	assert.InDelta(t, 1.0, a.HealthScore(), 1e-9)

	// half the symbols errored: active part drops to 0.5
	a.SetSymbolCounts(2, 4)
	assert.InDelta(t, (0.5+1.0+1.0)/3, a.HealthScore(), 1e-9)

	// one failure among two samples: error part drops to 0.5
	a.RecordError("ETHUSDT")
	assert.InDelta(t, (0.5+0.5+1.0)/3, a.HealthScore(), 1e-9)

	// last cycle over the bound: latency part drops to zero
	a.RecordCycle("BTCUSDT", 2*time.Second, true)
	score := a.HealthScore()
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 1.0)
}

func TestAggregator_HealthScoreBounded(t *testing.T) {
	a := NewAggregator(WithLatencyBound(time.Millisecond))

	a.SetSymbolCounts(0, 10)
	for i := 0; i < 50; i++ {
		a.RecordError("BTCUSDT")
	}
	a.RecordCycle("BTCUSDT", time.Minute, true)

	score := a.HealthScore()
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestAggregator_APICallsPerMinuteRolls(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	a := NewAggregator(WithAggregatorClock(clock.now))

	a.RecordCycle("BTCUSDT", 10*time.Millisecond, true)
	a.RecordCycle("BTCUSDT", 10*time.Millisecond, true)
	clock.advance(30 * time.Second)
	a.RecordCycle("BTCUSDT", 10*time.Millisecond, true)

	m := a.Snapshot()
	assert.InDelta(t, 3.0, m.APICallsPerMinute, 1e-9)

	// the first two fall out of the trailing minute
	clock.advance(45 * time.Second)
	m = a.Snapshot()
	assert.InDelta(t, 1.0, m.APICallsPerMinute, 1e-9)
	// lifetime total is unaffected by the window
	assert.Equal(t, int64(3), m.TotalAPICalls)
}

func TestAggregator_SignalAndAlertCounters(t *testing.T) {
	a := NewAggregator()

	a.RecordSignal(models.SignalSuperBullish)
	a.RecordSignal(models.SignalSuperBullish)
	a.RecordSignal(models.SignalBreakoutBearish)
	a.RecordAlertSent()
	a.RecordRateLimitHit()

	m := a.Snapshot()
	assert.Equal(t, int64(2), m.SignalCounts[models.SignalSuperBullish])
	assert.Equal(t, int64(1), m.SignalCounts[models.SignalBreakoutBearish])
	assert.Equal(t, int64(1), m.AlertsSent)
	assert.Equal(t, int64(1), m.RateLimitHits)
	assert.Equal(t, int64(3), a.TotalSignals())
}

func TestAggregator_SnapshotReplacedNotMerged(t *testing.T) {
	a := NewAggregator()

	a.RecordCycle("BTCUSDT", 100*time.Millisecond, true)
	first := a.Snapshot()

	a.RecordCycle("BTCUSDT", 100*time.Millisecond, true)
	second := a.Snapshot()

	require.Equal(t, int64(1), first.TotalCycles)
	require.Equal(t, int64(2), second.TotalCycles)
	// snapshots own their maps
	second.CyclesPerSymbol["BTCUSDT"] = 999
	assert.Equal(t, int64(1), first.CyclesPerSymbol["BTCUSDT"])
}

func TestAggregator_Forget(t *testing.T) {
	a := NewAggregator()

	a.RecordCycle("BTCUSDT", 10*time.Millisecond, false)
	a.Forget("BTCUSDT")

	m := a.Snapshot()
	_, ok := m.CyclesPerSymbol["BTCUSDT"]
	assert.False(t, ok)
	// lifetime totals survive
	assert.Equal(t, int64(1), m.TotalCycles)
}
