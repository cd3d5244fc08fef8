package service

import (
	"context"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
)

// SnapshotProvider turns market data into the indicator state one poll cycle
// consumes.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, symbol string, tf repository.Timeframe) (*models.IndicatorSnapshot, error)
}

// ContextProvider assembles higher-timeframe snapshots used for alignment
// scoring. Missing timeframes are reported in the error map, never as a hard
// failure.
type ContextProvider interface {
	Context(ctx context.Context, symbol string) ([]*models.IndicatorSnapshot, map[string]string)
}

// PriceSource serves the latest known price for a symbol, typically fed by
// the live stream with a REST fallback.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}
