package logger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Publisher ships aggregated log batches to an external sink. The Kafka
// producer satisfies it without this package importing kafka.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls error-log aggregation.
type CollectionConfig struct {
	TimeInterval   time.Duration // flush cadence
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one deduplicated error line. Repeats of the same
// message from the same call site bump Count; Fields sample the first
// occurrence only.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates error logs and ships them in batches. A symbol
// failing on every poll cycle produces one entry with a count instead of a
// line per cycle.
type LogCollector struct {
	config *CollectionConfig

	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	dropped int
	closed  bool

	batches chan []AggregatedLogEntry

	ctx       context.Context
	cancel    context.CancelFunc
	flushWg   sync.WaitGroup
	senderWg  sync.WaitGroup
	closeOnce sync.Once
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &LogCollector{
		config:  config,
		entries: make(map[string]*AggregatedLogEntry),
		batches: make(chan []AggregatedLogEntry, 4),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.flushWg.Add(1)
	go c.flushLoop()
	c.senderWg.Add(1)
	go c.sendLoop()

	return c
}

// AddLog folds an entry into the current window. Entries are keyed by level,
// call site and message, so field values (symbol, error text) do not break
// deduplication.
func (d *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := level + "|" + caller + "|" + message

	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.entries[key]; ok {
		entry.Count++
		entry.LastSeen = now
	} else {
		d.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(d.entries) >= d.config.CountThreshold {
		d.flushLocked()
	}
}

func (d *LogCollector) flushLoop() {
	defer d.flushWg.Done()

	ticker := time.NewTicker(d.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
		case <-d.ctx.Done():
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
			return
		}
	}
}

// flushLocked hands the current window to the sender. Callers hold d.mu.
// When the sender is backed up the window is dropped rather than blocking
// the logging path; the loss is reported in the next shipped batch.
func (d *LogCollector) flushLocked() {
	if d.closed || len(d.entries) == 0 {
		return
	}

	batch := make([]AggregatedLogEntry, 0, len(d.entries))
	for _, entry := range d.entries {
		batch = append(batch, *entry)
	}
	d.entries = make(map[string]*AggregatedLogEntry)

	select {
	case d.batches <- batch:
	default:
		d.dropped++
	}
}

func (d *LogCollector) sendLoop() {
	defer d.senderWg.Done()

	for batch := range d.batches {
		d.mu.Lock()
		dropped := d.dropped
		d.dropped = 0
		d.mu.Unlock()

		if dropped > 0 {
			now := time.Now()
			batch = append(batch, AggregatedLogEntry{
				Level:     "error",
				Message:   "log collector dropped batches while sender was backed up",
				Caller:    "logger/collector.go",
				Count:     dropped,
				FirstSeen: now,
				LastSeen:  now,
			})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := d.config.Publisher.PublishMessage(ctx, d.config.Topic, batch)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "log collector: publish failed: %v\n", err)
		}
	}
}

// Close flushes the current window and stops both goroutines. Entries logged
// after Close are silently discarded.
func (d *LogCollector) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		d.flushWg.Wait()

		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.batches)
		d.senderWg.Wait()
	})
}
