package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"SqueezeWatch/internal/domain/models"
	domrepo "SqueezeWatch/internal/domain/repository"
)

// PriceBoard keeps the latest streamed price per symbol and marks open
// positions to market as ticks arrive. Reads fall back to the exchange REST
// endpoint when the stream has not produced a fresh tick yet.
type PriceBoard struct {
	mu         sync.RWMutex
	prices     map[string]*models.PriceTick
	ledger     *Ledger
	rest       domrepo.MarketData
	metrics    domrepo.Metrics
	staleAfter time.Duration
}

type PriceBoardOption func(*PriceBoard)

// WithStaleAfter sets how old a streamed tick may be before Price falls back
// to REST.
func WithStaleAfter(d time.Duration) PriceBoardOption {
	return func(b *PriceBoard) {
		if d > 0 {
			b.staleAfter = d
		}
	}
}

func NewPriceBoard(ledger *Ledger, rest domrepo.MarketData, metrics domrepo.Metrics, opts ...PriceBoardOption) *PriceBoard {
	b := &PriceBoard{
		prices:     make(map[string]*models.PriceTick),
		ledger:     ledger,
		rest:       rest,
		metrics:    metrics,
		staleAfter: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Apply records one accepted tick. Mark-to-market failures do not fail the
// tick: a missing position is normal, and a capital consistency breach is
// flagged on the position itself by the ledger.
func (b *PriceBoard) Apply(ctx context.Context, t *models.PriceTick) error {
	b.mu.Lock()
	b.prices[t.Symbol] = t
	b.mu.Unlock()

	b.metrics.RecordLastPrice(t.Symbol, t.Price)

	if _, err := b.ledger.MarkToMarket(t.Symbol, decimal.NewFromFloat(t.Price)); err != nil {
		if !errors.Is(err, models.ErrPositionNotFound) {
			b.metrics.RecordError("mark_to_market")
		}
	}
	return nil
}

// Price returns the freshest known price for a symbol, preferring the stream
// and falling back to REST.
func (b *PriceBoard) Price(ctx context.Context, symbol string) (float64, error) {
	b.mu.RLock()
	tick, ok := b.prices[symbol]
	b.mu.RUnlock()
	if ok && time.Since(tick.At) <= b.staleAfter {
		return tick.Price, nil
	}

	price, err := b.rest.LastPrice(ctx, symbol)
	if err != nil {
		if ok {
			// stale beats nothing when REST is down
			return tick.Price, nil
		}
		return 0, err
	}
	b.mu.Lock()
	b.prices[symbol] = &models.PriceTick{Symbol: symbol, Price: price, At: time.Now()}
	b.mu.Unlock()
	return price, nil
}

// Forget drops the cached price for a symbol that is no longer monitored.
func (b *PriceBoard) Forget(symbol string) {
	b.mu.Lock()
	delete(b.prices, symbol)
	b.mu.Unlock()
}
