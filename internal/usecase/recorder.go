package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
	"SqueezeWatch/pkg/logger"
)

// Recorder backends.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendBoth       = "both"
)

// EventRecorder ships signal/alert/trade events to the configured history
// backend. Recording is fire-and-forget behind a bounded buffer: the engine's
// poll cycles never wait on Kafka or ClickHouse, and a full buffer drops the
// event with a metric rather than blocking.
type EventRecorder struct {
	pub     repository.EventPublisher
	store   repository.HistoryStore
	metrics repository.Metrics
	logger  *logger.Logger

	backend string
	batchSz int
	batchTO time.Duration

	bufCh   chan *models.HistoryEvent
	stopCh  chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	started bool
}

// RecorderOption configures an EventRecorder.
type RecorderOption func(*EventRecorder)

// WithBatch sets the flush batch size and timeout.
func WithBatch(size int, timeout time.Duration) RecorderOption {
	return func(r *EventRecorder) {
		if size > 0 {
			r.batchSz = size
		}
		if timeout > 0 {
			r.batchTO = timeout
		}
	}
}

// WithBuffer bounds the in-flight event buffer.
func WithBuffer(n int) RecorderOption {
	return func(r *EventRecorder) {
		if n > 0 {
			r.bufCh = make(chan *models.HistoryEvent, n)
		}
	}
}

// NewEventRecorder creates a recorder routing events to backend
// (kafka, clickhouse or both).
func NewEventRecorder(
	pub repository.EventPublisher,
	store repository.HistoryStore,
	metrics repository.Metrics,
	log *logger.Logger,
	backend string,
	opts ...RecorderOption,
) *EventRecorder {
	r := &EventRecorder{
		pub:     pub,
		store:   store,
		metrics: metrics,
		logger:  log,
		backend: backend,
		batchSz: 100,
		batchTO: 3 * time.Second,
		bufCh:   make(chan *models.HistoryEvent, 4096),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start launches the flush loop.
func (r *EventRecorder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.flushLoop(ctx)
}

// Stop drains buffered events, flushes them, and waits for the loop to exit.
func (r *EventRecorder) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	<-r.done
}

// Record queues an event without blocking. Full buffer drops the event.
func (r *EventRecorder) Record(e *models.HistoryEvent) {
	if e == nil {
		return
	}
	select {
	case r.bufCh <- e:
	default:
		r.metrics.RecordError("recorder_buffer_full")
	}
}

func (r *EventRecorder) flushLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.batchTO)
	defer ticker.Stop()

	batch := make([]*models.HistoryEvent, 0, r.batchSz)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.flush(ctx, batch); err != nil {
			r.metrics.RecordError("recorder_flush")
			r.logger.Error("history flush failed",
				logger.Int("events", len(batch)),
				logger.Error(err),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-r.stopCh:
			for {
				select {
				case e := <-r.bufCh:
					batch = append(batch, e)
					if len(batch) >= r.batchSz {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			flush()
			return
		case e := <-r.bufCh:
			batch = append(batch, e)
			if len(batch) >= r.batchSz {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flush routes one batch to the configured backend. With "both", Kafka is
// the primary path and a ClickHouse failure alone does not fail the batch
// twice over.
func (r *EventRecorder) flush(ctx context.Context, batch []*models.HistoryEvent) error {
	switch r.backend {
	case BackendKafka:
		return r.pub.PublishBatch(ctx, batch)
	case BackendClickHouse:
		return r.store.StoreBatch(ctx, batch)
	case BackendBoth:
		if err := r.pub.PublishBatch(ctx, batch); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		if err := r.store.StoreBatch(ctx, batch); err != nil {
			r.metrics.RecordError("recorder_store")
			r.logger.Warn("clickhouse store failed, kafka accepted batch",
				logger.Int("events", len(batch)),
				logger.Error(err),
			)
		}
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", r.backend)
	}
}

// Close releases the underlying sinks.
func (r *EventRecorder) Close() {
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}
