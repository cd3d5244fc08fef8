package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) all() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]AggregatedLogEntry, len(p.batches))
	copy(out, p.batches)
	return out
}

func TestCollectorDeduplicatesRepeats(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "logs",
		Publisher:      pub,
	})

	for i := 0; i < 5; i++ {
		c.AddLog("error", "poll failed", map[string]interface{}{"symbol": "BTCUSDT"}, "engine.go:42")
	}
	c.Close()

	batches := pub.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)

	entry := batches[0][0]
	assert.Equal(t, "poll failed", entry.Message)
	assert.Equal(t, 5, entry.Count)
	assert.Equal(t, "BTCUSDT", entry.Fields["symbol"])
	assert.False(t, entry.LastSeen.Before(entry.FirstSeen))
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "logs",
		Publisher:      pub,
	})
	defer c.Close()

	c.AddLog("error", "poll failed", nil, "engine.go:42")
	c.AddLog("error", "publish failed", nil, "recorder.go:17")

	require.Eventually(t, func() bool {
		return len(pub.all()) == 1
	}, time.Second, 10*time.Millisecond, "threshold must force a flush before the interval")

	assert.Len(t, pub.all()[0], 2)
}

func TestCollectorSeparatesCallSites(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "logs",
		Publisher:      pub,
	})

	c.AddLog("error", "poll failed", nil, "engine.go:42")
	c.AddLog("error", "poll failed", nil, "collector.go:99")
	c.Close()

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2, "same message from different call sites must not merge")
}

func TestCollectorCloseIsIdempotent(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{Topic: "logs", Publisher: pub})

	c.AddLog("error", "poll failed", nil, "engine.go:42")
	c.Close()
	c.Close()

	require.Len(t, pub.all(), 1)
}
