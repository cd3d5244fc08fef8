package usecase

import (
	"context"
	"sync"
	"time"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
	"SqueezeWatch/internal/domain/service"
)

// ContextBuilder fetches the higher-timeframe snapshots used for alignment
// scoring. Timeframes are fetched concurrently under one timeout; a failed
// timeframe lands in the error map instead of failing the whole build, so
// classification can proceed on whatever context is available.
type ContextBuilder struct {
	snapshots  service.SnapshotProvider
	timeframes []repository.Timeframe
	timeout    time.Duration
}

// NewContextBuilder creates a builder over the given higher timeframes.
func NewContextBuilder(snapshots service.SnapshotProvider, timeframes []repository.Timeframe, timeout time.Duration) *ContextBuilder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ContextBuilder{
		snapshots:  snapshots,
		timeframes: timeframes,
		timeout:    timeout,
	}
}

// Context fetches one snapshot per configured timeframe. The returned slice
// holds only the successful fetches; errors are keyed by timeframe.
func (b *ContextBuilder) Context(ctx context.Context, symbol string) ([]*models.IndicatorSnapshot, map[string]string) {
	if len(b.timeframes) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type item struct {
		tf   repository.Timeframe
		snap *models.IndicatorSnapshot
		err  error
	}

	ch := make(chan item, len(b.timeframes))
	var wg sync.WaitGroup

	for _, tf := range b.timeframes {
		wg.Add(1)
		go func(tf repository.Timeframe) {
			defer wg.Done()
			snap, err := b.snapshots.Snapshot(ctx, symbol, tf)
			ch <- item{tf: tf, snap: snap, err: err}
		}(tf)
	}

	go func() { wg.Wait(); close(ch) }()

	// keep configured order for deterministic alignment input
	byTF := make(map[repository.Timeframe]*models.IndicatorSnapshot, len(b.timeframes))
	errs := map[string]string{}
	for it := range ch {
		if it.err != nil {
			errs[string(it.tf)] = it.err.Error()
			continue
		}
		byTF[it.tf] = it.snap
	}

	out := make([]*models.IndicatorSnapshot, 0, len(byTF))
	for _, tf := range b.timeframes {
		if snap, ok := byTF[tf]; ok {
			out = append(out, snap)
		}
	}

	if len(errs) == 0 {
		errs = nil
	}
	return out, errs
}
