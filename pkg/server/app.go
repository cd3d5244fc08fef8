package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SqueezeWatch/internal/domain/repository"
	"SqueezeWatch/internal/usecase"
	pkgch "SqueezeWatch/pkg/clickhouse"
	"SqueezeWatch/pkg/config"
	xhttp "SqueezeWatch/pkg/http"
	pkgkafka "SqueezeWatch/pkg/kafka"
	applogger "SqueezeWatch/pkg/logger"
)

// App owns process startup and shutdown. Components start in dependency
// order (sinks before producers) and stop in reverse: the engine drains
// first so nothing keeps producing while the alert queue and event buffer
// flush behind it.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	engine     *usecase.Engine
	collector  *usecase.PriceCollector
	dispatcher *usecase.Dispatcher
	recorder   *usecase.EventRecorder
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	store      repository.HistoryStore
	chClient   *pkgch.Client
	httpServer *xhttp.Server
}

// New creates the application from its wired components.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	engine *usecase.Engine,
	collector *usecase.PriceCollector,
	dispatcher *usecase.Dispatcher,
	recorder *usecase.EventRecorder,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	store repository.HistoryStore,
	chClient *pkgch.Client,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:        cfg,
		logger:     logger,
		engine:     engine,
		collector:  collector,
		dispatcher: dispatcher,
		recorder:   recorder,
		consumer:   consumer,
		kh:         kh,
		store:      store,
		chClient:   chClient,
		httpServer: httpServer,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	err := a.store.Init(initCtx)
	initCancel()
	if err != nil {
		return fmt.Errorf("history schema: %w", err)
	}

	a.recorder.Start(ctx)
	a.dispatcher.Start(ctx)

	// The engine's symbol hooks drive all stream subscriptions, so the
	// collector starts with an empty set. A dead stream is not fatal: mark
	// to market falls back to REST prices.
	if err := a.collector.Start(ctx, nil); err != nil {
		a.logger.Warn("price stream unavailable, continuing on REST prices", applogger.Error(err))
	}

	for _, sym := range a.cfg.Symbols {
		if err := a.engine.AddSymbol(ctx, sym, 0); err != nil {
			a.logger.Warn("configured symbol skipped",
				applogger.String("symbol", sym), applogger.Error(err))
		}
	}
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.logger.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.logger.Info("squeezewatch started",
		applogger.Int("symbols", len(a.cfg.Symbols)),
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("backend", a.cfg.Backend.Type),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops everything in reverse start order. Each step gets its own
// slice of the shutdown budget; a stuck component costs its slice, not the
// whole window.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.engine.Stop(drainCtx); err != nil {
		a.logger.Warn("engine drain incomplete", applogger.Error(err))
	}

	a.dispatcher.Stop()
	a.recorder.Stop()

	if err := a.collector.Shutdown(drainCtx); err != nil {
		a.logger.Warn("collector stop error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(drainCtx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), timeout)
	defer httpCancel()
	if err := a.httpServer.Stop(httpCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	// Flush aggregated logs while the producer is still open.
	a.logger.RemoveCollector()

	a.recorder.Close()

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
