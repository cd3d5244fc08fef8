package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SqueezeWatch/internal/domain/models"
	domrepo "SqueezeWatch/internal/domain/repository"
	pkgkafka "SqueezeWatch/pkg/kafka"
)

// KafkaEventsHandler consumes history events from Kafka and writes them to
// the history store. It is the storage half of the "kafka" and "both"
// recording backends: the recorder publishes, this handler persists.
type KafkaEventsHandler struct {
	topic   string
	store   domrepo.HistoryStore
	metrics domrepo.Metrics
}

func NewKafkaEventsHandler(topic string, store domrepo.HistoryStore, metrics domrepo.Metrics) *KafkaEventsHandler {
	return &KafkaEventsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaEventsHandler) Topic() string { return h.topic }

// Handle unmarshals one history event and persists it. Unmarshal failures are
// permanent and reported as nil so the consumer does not retry garbage; store
// failures are returned so the consumer's retry/DLQ path applies.
func (h *KafkaEventsHandler) Handle(ctx context.Context, b []byte) error {
	var e models.HistoryEvent
	if err := json.Unmarshal(b, &e); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	if err := validateEvent(&e); err != nil {
		h.metrics.RecordError("consumer_invalid_event")
		return nil
	}
	if err := h.store.Store(ctx, &e); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	// Pipeline lag from publish to durable storage, using the producer
	// timestamp stamped on the context by the consumer hook.
	if published, ok := pkgkafka.StartTimeFromContext(ctx); ok && !published.IsZero() {
		h.metrics.RecordEventLag(h.topic, time.Since(published).Seconds())
	}
	return nil
}

// validateEvent rejects envelopes whose payload does not match the kind.
func validateEvent(e *models.HistoryEvent) error {
	if e.Symbol == "" {
		return fmt.Errorf("event without symbol")
	}
	switch e.Kind {
	case models.EventSignal:
		if e.Signal == nil {
			return fmt.Errorf("signal event without signal payload")
		}
	case models.EventAlert:
		if e.Alert == nil {
			return fmt.Errorf("alert event without alert payload")
		}
	case models.EventTrade:
		if e.Trade == nil {
			return fmt.Errorf("trade event without trade payload")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaEventsHandler)(nil)
