package usecase

import (
	"context"

	"SqueezeWatch/internal/domain/models"
	drepo "SqueezeWatch/internal/domain/repository"
	mid "SqueezeWatch/internal/middleware"
	applogger "SqueezeWatch/pkg/logger"
)

// PriceCollector reads the live exchange stream and feeds accepted ticks
// through the pipeline. Stream errors trigger a reconnect; the collector
// itself never gives up until its context is cancelled.
type PriceCollector struct {
	stream  drepo.PriceStream
	pipe    *mid.TickPipeline
	metrics drepo.Metrics
	logger  *applogger.Logger
}

func NewPriceCollector(stream drepo.PriceStream, pipe *mid.TickPipeline, metrics drepo.Metrics, logger *applogger.Logger) *PriceCollector {
	return &PriceCollector{stream: stream, pipe: pipe, metrics: metrics, logger: logger}
}

// IsConnected reports whether the underlying stream is connected.
func (c *PriceCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes the initial symbol set, and launches the
// consume loop.
func (c *PriceCollector) Start(ctx context.Context, symbols []string) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if len(symbols) > 0 {
		if err := c.stream.Subscribe(ctx, symbols); err != nil {
			return err
		}
	}
	c.pipe.Start(ctx)
	tickCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, tickCh, errCh)
	return nil
}

// Watch subscribes one more symbol at runtime.
func (c *PriceCollector) Watch(ctx context.Context, symbol string) error {
	return c.stream.Subscribe(ctx, []string{symbol})
}

// Unwatch unsubscribes a symbol and drops its pipeline throttle state.
func (c *PriceCollector) Unwatch(ctx context.Context, symbol string) error {
	c.pipe.Forget(symbol)
	return c.stream.Unsubscribe(ctx, []string{symbol})
}

func (c *PriceCollector) consume(ctx context.Context, tickCh <-chan *models.PriceTick, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				c.logger.Warn("price stream error, reconnecting", applogger.Error(err))
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.metrics.RecordError("stream_reconnect")
					c.logger.Error("price stream reconnect failed", applogger.Error(rerr))
				} else {
					tickCh, errCh = c.stream.Read(ctx)
				}
			}
		case t := <-tickCh:
			if t == nil {
				continue
			}
			_ = c.pipe.Process(ctx, t)
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *PriceCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
