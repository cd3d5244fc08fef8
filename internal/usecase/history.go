package usecase

import (
	"context"
	"fmt"
	"time"

	"SqueezeWatch/internal/domain/models"
	domrepo "SqueezeWatch/internal/domain/repository"
)

// HistoryUseCase serves the read side of the events pipeline: recent signals
// and closed trades out of the history store, with request bounds enforced
// before any query runs.
type HistoryUseCase struct {
	store domrepo.HistoryStore
}

func NewHistoryUseCase(store domrepo.HistoryStore) *HistoryUseCase {
	return &HistoryUseCase{store: store}
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// RecentSignals returns the newest stored signals for a symbol, newest first.
func (uc *HistoryUseCase) RecentSignals(ctx context.Context, symbol string, limit int) ([]*models.TradingSignal, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	signals, err := uc.store.RecentSignals(ctx, symbol, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	return signals, nil
}

// RecentTrades returns the newest closed trades across all symbols.
func (uc *HistoryUseCase) RecentTrades(ctx context.Context, limit int) ([]*models.ClosedTrade, error) {
	trades, err := uc.store.RecentTrades(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	return trades, nil
}

type SignalRangeParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type SignalRangeResult struct {
	Symbol  string                  `json:"symbol"`
	From    time.Time               `json:"from"`
	To      time.Time               `json:"to"`
	Count   int                     `json:"count"`
	Signals []*models.TradingSignal `json:"signals"`
}

// SignalsBetween returns signals inside [from, to], oldest first.
func (uc *HistoryUseCase) SignalsBetween(ctx context.Context, p SignalRangeParams) (*SignalRangeResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.To.IsZero() {
		p.To = time.Now().UTC()
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	p.Limit = clampLimit(p.Limit)

	signals, err := uc.store.SignalsBetween(ctx, p.Symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("signals between: %w", err)
	}
	return &SignalRangeResult{
		Symbol:  p.Symbol,
		From:    p.From,
		To:      p.To,
		Count:   len(signals),
		Signals: signals,
	}, nil
}

// Health reports whether the history store is reachable.
func (uc *HistoryUseCase) Health(ctx context.Context) error {
	return uc.store.Health(ctx)
}
