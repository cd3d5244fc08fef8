package repository

import (
	"context"
	"time"

	"SqueezeWatch/internal/domain/models"
)

// MarketData is the exchange REST surface the engine polls.
type MarketData interface {
	Klines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Candle, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceStream is a live exchange price feed.
type PriceStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan *models.PriceTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// EventPublisher pushes history events into the pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, e *models.HistoryEvent) error
	PublishBatch(ctx context.Context, events []*models.HistoryEvent) error
	Close() error
}

// HistoryStore persists events and serves the read side of the history API.
type HistoryStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, e *models.HistoryEvent) error
	StoreBatch(ctx context.Context, events []*models.HistoryEvent) error
	RecentSignals(ctx context.Context, symbol string, limit int) ([]*models.TradingSignal, error)
	RecentTrades(ctx context.Context, limit int) ([]*models.ClosedTrade, error)
	SignalsBetween(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.TradingSignal, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// Metrics is the engine-facing metrics surface.
type Metrics interface {
	RecordCycle(symbol string, seconds float64)
	RecordSignal(symbol, signalType string)
	RecordAlert(backend, symbol string)
	RecordSuppressed(symbol, reason string)
	RecordError(kind string)
	RecordEventLag(topic string, seconds float64)
	RecordAPICall(endpoint string)
	RecordLastPrice(symbol string, price float64)
	SetHealthScore(score float64)
	SetSymbolStates(active, paused, errored int)
}
