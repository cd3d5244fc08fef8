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
)

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// memStore is an in-memory HistoryStore for recorder tests. Only the write
// side matters here.
type memStore struct {
	mu     sync.Mutex
	events []*models.HistoryEvent
	fail   bool
}

func (s *memStore) Init(context.Context) error { return nil }

func (s *memStore) Store(ctx context.Context, e *models.HistoryEvent) error {
	return s.StoreBatch(ctx, []*models.HistoryEvent{e})
}

func (s *memStore) StoreBatch(_ context.Context, events []*models.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *memStore) RecentSignals(context.Context, string, int) ([]*models.TradingSignal, error) {
	return nil, nil
}

func (s *memStore) RecentTrades(context.Context, int) ([]*models.ClosedTrade, error) {
	return nil, nil
}

func (s *memStore) SignalsBetween(context.Context, string, time.Time, time.Time, int) ([]*models.TradingSignal, error) {
	return nil, nil
}

func (s *memStore) Health(context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func signalEvents(n int) []*models.HistoryEvent {
	out := make([]*models.HistoryEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.SignalEvent(strongSignal("BTCUSDT", models.SignalSuperBullish)))
	}
	return out
}

func TestRecorder_FlushesAtBatchSize(t *testing.T) {
	pub := &memPublisher{}
	r := NewEventRecorder(pub, nil, newFakeMetrics(), testLogger(t), BackendKafka,
		WithBatch(3, time.Hour))
	r.Start(context.Background())
	defer r.Stop()

	for _, e := range signalEvents(3) {
		r.Record(e)
	}

	// the long timeout guarantees this flush came from the size trigger
	require.Eventually(t, func() bool { return pub.count() == 3 },
		2*time.Second, 2*time.Millisecond)
}

func TestRecorder_FlushesOnTimer(t *testing.T) {
	pub := &memPublisher{}
	r := NewEventRecorder(pub, nil, newFakeMetrics(), testLogger(t), BackendKafka,
		WithBatch(100, 10*time.Millisecond))
	r.Start(context.Background())
	defer r.Stop()

	r.Record(models.SignalEvent(strongSignal("BTCUSDT", models.SignalSuperBullish)))

	require.Eventually(t, func() bool { return pub.count() == 1 },
		2*time.Second, 2*time.Millisecond)
}

func TestRecorder_StopDrainsBuffer(t *testing.T) {
	pub := &memPublisher{}
	r := NewEventRecorder(pub, nil, newFakeMetrics(), testLogger(t), BackendKafka,
		WithBatch(2, time.Hour))
	r.Start(context.Background())

	for _, e := range signalEvents(5) {
		r.Record(e)
	}
	r.Stop()

	assert.Equal(t, 5, pub.count())
}

func TestRecorder_BothBackendSurvivesStoreFailure(t *testing.T) {
	pub := &memPublisher{}
	store := &memStore{fail: true}
	metrics := newFakeMetrics()
	r := NewEventRecorder(pub, store, metrics, testLogger(t), BackendBoth,
		WithBatch(1, time.Hour))
	r.Start(context.Background())

	r.Record(models.SignalEvent(strongSignal("BTCUSDT", models.SignalSuperBullish)))
	require.Eventually(t, func() bool { return pub.count() == 1 },
		2*time.Second, 2*time.Millisecond)
	r.Stop()

	// kafka accepted the batch; the store failure is accounted, not fatal
	assert.Zero(t, store.count())
	metrics.mu.Lock()
	storeErrs := metrics.errors["recorder_store"]
	flushErrs := metrics.errors["recorder_flush"]
	metrics.mu.Unlock()
	assert.Equal(t, 1, storeErrs)
	assert.Zero(t, flushErrs)
}

func TestRecorder_ClickHouseBackend(t *testing.T) {
	store := &memStore{}
	r := NewEventRecorder(nil, store, newFakeMetrics(), testLogger(t), BackendClickHouse,
		WithBatch(2, time.Hour))
	r.Start(context.Background())

	for _, e := range signalEvents(2) {
		r.Record(e)
	}
	require.Eventually(t, func() bool { return store.count() == 2 },
		2*time.Second, 2*time.Millisecond)
	r.Stop()
}

func TestRecorder_FullBufferDropsWithMetric(t *testing.T) {
	metrics := newFakeMetrics()
	r := NewEventRecorder(&memPublisher{}, nil, metrics, testLogger(t), BackendKafka,
		WithBuffer(1))
	// not started: the buffer fills and the second record drops

	for _, e := range signalEvents(2) {
		r.Record(e)
	}

	metrics.mu.Lock()
	drops := metrics.errors["recorder_buffer_full"]
	metrics.mu.Unlock()
	assert.Equal(t, 1, drops)
}
