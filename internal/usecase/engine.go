package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"SqueezeWatch/internal/domain/models"
	domrepo "SqueezeWatch/internal/domain/repository"
	domsvc "SqueezeWatch/internal/domain/service"
	applogger "SqueezeWatch/pkg/logger"
)

// Engine is the symbol scheduler: it owns the registry of monitored symbols,
// runs one supervised polling goroutine per symbol, and drives each cycle
// through snapshot -> context -> classify -> alert -> ledger -> metrics.
//
// Failures are symbol-scoped. A symbol that keeps failing transitions to
// ERROR and backs off; it never affects other symbols or the process. Stop
// drains: in-flight cycles complete, no new ones start.
type Engine struct {
	mu       sync.RWMutex
	registry map[string]*models.MonitoredSymbol
	workers  map[string]struct{} // symbols with a live worker goroutine
	state    models.EngineState
	started  time.Time

	snapshots  domsvc.SnapshotProvider
	contextual domsvc.ContextProvider
	classifier *Classifier
	ledger     *Ledger
	dispatcher *Dispatcher
	aggregator *Aggregator
	recorder   *EventRecorder
	metrics    domrepo.Metrics
	logger     *applogger.Logger

	primaryTF    domrepo.Timeframe
	pollInterval time.Duration
	pollTimeout  time.Duration
	maxErrors    int
	errorReset   time.Duration
	backoffCap   time.Duration

	positionSize decimal.Decimal
	makerFee     decimal.Decimal
	takerFee     decimal.Decimal

	// optional hooks the wiring layer uses to follow registry changes, e.g.
	// stream subscriptions and price cache eviction.
	onWatch   func(ctx context.Context, symbol string)
	onUnwatch func(ctx context.Context, symbol string)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type EngineOption func(*Engine)

// WithPollInterval sets the default per-symbol cadence.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithPollTimeout bounds one cycle's external I/O.
func WithPollTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.pollTimeout = d
		}
	}
}

// WithErrorThreshold sets how many consecutive failures move a symbol to
// ERROR and how long it stays there before auto-reactivation.
func WithErrorThreshold(maxErrors int, resetAfter time.Duration) EngineOption {
	return func(e *Engine) {
		if maxErrors > 0 {
			e.maxErrors = maxErrors
		}
		if resetAfter > 0 {
			e.errorReset = resetAfter
		}
	}
}

// WithBackoffCap caps the per-symbol exponential backoff while erroring.
func WithBackoffCap(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.backoffCap = d
		}
	}
}

// WithPrimaryTimeframe sets the timeframe the classifier snapshot uses.
func WithPrimaryTimeframe(tf domrepo.Timeframe) EngineOption {
	return func(e *Engine) {
		if tf != "" {
			e.primaryTF = tf
		}
	}
}

// WithPositionSizing sets the simulated capital per position and the
// maker/taker fee rates applied at entry and exit.
func WithPositionSizing(capital, makerFee, takerFee decimal.Decimal) EngineOption {
	return func(e *Engine) {
		if capital.Sign() > 0 {
			e.positionSize = capital
		}
		e.makerFee = makerFee
		e.takerFee = takerFee
	}
}

// WithSymbolHooks wires callbacks invoked after a symbol joins or leaves the
// registry.
func WithSymbolHooks(onWatch, onUnwatch func(ctx context.Context, symbol string)) EngineOption {
	return func(e *Engine) {
		e.onWatch = onWatch
		e.onUnwatch = onUnwatch
	}
}

func NewEngine(
	snapshots domsvc.SnapshotProvider,
	contextual domsvc.ContextProvider,
	classifier *Classifier,
	ledger *Ledger,
	dispatcher *Dispatcher,
	aggregator *Aggregator,
	recorder *EventRecorder,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		registry:     make(map[string]*models.MonitoredSymbol),
		workers:      make(map[string]struct{}),
		state:        models.EngineStopped,
		snapshots:    snapshots,
		contextual:   contextual,
		classifier:   classifier,
		ledger:       ledger,
		dispatcher:   dispatcher,
		aggregator:   aggregator,
		recorder:     recorder,
		metrics:      metrics,
		logger:       logger,
		primaryTF:    domrepo.DefaultTimeframe(),
		pollInterval: 30 * time.Second,
		pollTimeout:  30 * time.Second,
		maxErrors:    5,
		errorReset:   30 * time.Minute,
		backoffCap:   5 * time.Minute,
		positionSize: decimal.NewFromInt(100),
		makerFee:     decimal.NewFromFloat(0.0004),
		takerFee:     decimal.NewFromFloat(0.0005),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches one worker per registered symbol. Calling Start on a
// running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == models.EngineRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = models.EngineRunning
	e.started = time.Now()
	e.stopCh = make(chan struct{})
	count := 0
	for sym := range e.registry {
		e.spawnWorkerLocked(sym)
		count++
	}
	e.mu.Unlock()

	e.refreshCounts()
	e.logger.Info("engine started", applogger.Int("symbols", count))
	return nil
}

// spawnWorkerLocked starts a worker for the symbol unless one is already
// alive (a not-yet-exited worker picks up a re-added symbol by itself).
// Callers hold e.mu.
func (e *Engine) spawnWorkerLocked(symbol string) {
	if _, alive := e.workers[symbol]; alive {
		return
	}
	e.workers[symbol] = struct{}{}
	e.wg.Add(1)
	go e.runWorker(symbol)
}

// Stop signals every worker to finish its current cycle and exit, then waits
// for the drain. No cycle is aborted mid-flight; ctx bounds only how long the
// caller is willing to wait.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != models.EngineRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = models.EngineStopping
	close(e.stopCh)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("engine stop: drain timed out", applogger.Error(ctx.Err()))
		return fmt.Errorf("engine drain: %w", ctx.Err())
	}

	e.mu.Lock()
	e.state = models.EngineStopped
	e.mu.Unlock()
	e.logger.Info("engine stopped")
	return nil
}

// AddSymbol registers a symbol and, when the engine is running, starts its
// worker immediately. intervalMs <= 0 uses the engine default.
func (e *Engine) AddSymbol(ctx context.Context, symbol string, interval time.Duration) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol required")
	}
	if interval <= 0 {
		interval = e.pollInterval
	}

	e.mu.Lock()
	if existing, ok := e.registry[symbol]; ok && existing.State != models.SymbolRemoved {
		e.mu.Unlock()
		return models.ErrSymbolExists
	}
	e.registry[symbol] = &models.MonitoredSymbol{
		Symbol:       symbol,
		State:        models.SymbolActive,
		PollInterval: interval,
		AddedAt:      time.Now(),
	}
	if e.state == models.EngineRunning {
		e.spawnWorkerLocked(symbol)
	}
	e.mu.Unlock()

	if e.onWatch != nil {
		e.onWatch(ctx, symbol)
	}
	e.refreshCounts()
	e.logger.Info("symbol added",
		applogger.String("symbol", symbol),
		applogger.String("interval", interval.String()),
	)
	return nil
}

// RemoveSymbol marks the symbol REMOVED. Its worker observes the state after
// the in-flight cycle (if any) completes and exits; alert emission for the
// symbol stops with it.
func (e *Engine) RemoveSymbol(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	e.mu.Lock()
	entry, ok := e.registry[symbol]
	if !ok || entry.State == models.SymbolRemoved {
		e.mu.Unlock()
		return models.ErrSymbolNotFound
	}
	entry.State = models.SymbolRemoved
	running := e.state == models.EngineRunning
	if !running {
		delete(e.registry, symbol)
	}
	e.mu.Unlock()

	e.dispatcher.Drop(symbol)
	e.aggregator.Forget(symbol)
	if e.onUnwatch != nil {
		e.onUnwatch(ctx, symbol)
	}
	e.refreshCounts()
	e.logger.Info("symbol removed", applogger.String("symbol", symbol))
	return nil
}

// PauseSymbol suspends polling for a symbol. Pausing an already paused
// symbol is a no-op.
func (e *Engine) PauseSymbol(symbol string) error {
	return e.setState(symbol, models.SymbolPaused)
}

// ResumeSymbol reactivates a paused or errored symbol, clearing its error
// streak. Resuming an ACTIVE symbol is a no-op.
func (e *Engine) ResumeSymbol(symbol string) error {
	return e.setState(symbol, models.SymbolActive)
}

func (e *Engine) setState(symbol string, target models.SymbolState) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	e.mu.Lock()
	entry, ok := e.registry[symbol]
	if !ok || entry.State == models.SymbolRemoved {
		e.mu.Unlock()
		return models.ErrSymbolNotFound
	}
	if entry.State != target {
		entry.State = target
		if target == models.SymbolActive {
			entry.ConsecutiveErrors = 0
			entry.LastError = ""
		}
	}
	e.mu.Unlock()

	e.refreshCounts()
	return nil
}

// Status assembles the aggregate engine view. It copies registry state under
// the read lock and never blocks workers beyond that copy.
func (e *Engine) Status() *models.MonitoringStatus {
	e.mu.RLock()
	st := &models.MonitoringStatus{
		State:     e.state,
		StartedAt: e.started,
		PerSymbol: make(map[string]models.SymbolStatus, len(e.registry)),
	}
	if !e.started.IsZero() && e.state != models.EngineStopped {
		st.UptimeSeconds = time.Since(e.started).Seconds()
	}
	for sym, entry := range e.registry {
		if entry.State == models.SymbolRemoved {
			continue
		}
		st.TotalSymbols++
		switch entry.State {
		case models.SymbolActive:
			st.ActiveSymbols++
		case models.SymbolPaused:
			st.PausedSymbols++
		case models.SymbolError:
			st.ErrorSymbols++
		}
		st.PerSymbol[sym] = models.SymbolStatus{
			Symbol:            entry.Symbol,
			State:             entry.State,
			PollIntervalMs:    entry.PollInterval.Milliseconds(),
			ConsecutiveErrors: entry.ConsecutiveErrors,
			LastPollAt:        entry.LastPollAt,
			LastSignal:        entry.LastSignal,
			LastSignalAt:      entry.LastSignalAt,
			SignalCount:       entry.SignalCount,
			LastError:         entry.LastError,
		}
	}
	e.mu.RUnlock()

	st.TotalSignals = e.aggregator.TotalSignals()
	st.Performance = e.aggregator.Snapshot()
	st.HealthScore = st.Performance.HealthScore
	return st
}

// RecentAlerts returns the newest dispatcher history entries.
func (e *Engine) RecentAlerts(n int) []*models.AlertRecord {
	return e.dispatcher.Recent(n)
}

// OpenPositions returns the ledger's open positions marked to the latest
// known prices, exit commission estimated at the engine's taker fee.
func (e *Engine) OpenPositions() []*models.PositionView {
	return e.ledger.OpenViews(e.takerFee)
}

// TradeStats returns the ledger's realized performance summary.
func (e *Engine) TradeStats() models.TradeStats {
	return e.ledger.Stats()
}

// Symbols lists the non-removed registry entries.
func (e *Engine) Symbols() []models.SymbolStatus {
	status := e.Status()
	out := make([]models.SymbolStatus, 0, len(status.PerSymbol))
	for _, s := range status.PerSymbol {
		out = append(out, s)
	}
	return out
}

// runWorker polls one symbol until the engine stops or the symbol is
// removed. Cycle N+1 never starts before cycle N finished: the worker is the
// only goroutine mutating this symbol's registry entry.
func (e *Engine) runWorker(symbol string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.workers, symbol)
		if entry, ok := e.registry[symbol]; ok && entry.State == models.SymbolRemoved {
			delete(e.registry, symbol)
		}
		e.mu.Unlock()
	}()

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		state, wait := e.beforeCycle(symbol)
		switch state {
		case models.SymbolRemoved:
			return
		case models.SymbolActive:
			e.runCycle(symbol)
			wait = e.afterCycle(symbol)
		}

		select {
		case <-e.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// beforeCycle inspects the symbol's state, applies the ERROR auto-reactivate
// rule, and returns the state to act on plus how long to wait when the cycle
// is skipped.
func (e *Engine) beforeCycle(symbol string) (models.SymbolState, time.Duration) {
	e.mu.Lock()
	entry, ok := e.registry[symbol]
	if !ok {
		e.mu.Unlock()
		return models.SymbolRemoved, 0
	}
	reactivated := false
	if entry.State == models.SymbolError && time.Since(entry.LastErrorAt) >= e.errorReset {
		entry.State = models.SymbolActive
		entry.ConsecutiveErrors = 0
		entry.LastError = ""
		reactivated = true
	}
	state, wait := entry.State, entry.PollInterval
	e.mu.Unlock()

	if reactivated {
		e.logger.Info("symbol reactivated after error cooldown", applogger.String("symbol", symbol))
		e.refreshCounts()
	}
	return state, wait
}

// afterCycle returns the wait before the next cycle, exponential while the
// error streak lasts.
func (e *Engine) afterCycle(symbol string) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.registry[symbol]
	if !ok {
		return 0
	}
	wait := entry.PollInterval
	if n := entry.ConsecutiveErrors; n > 0 {
		wait = backoff(entry.PollInterval, n, e.backoffCap)
	}
	return wait
}

func backoff(base time.Duration, attempts int, limit time.Duration) time.Duration {
	wait := base
	for i := 0; i < attempts && wait < limit; i++ {
		wait *= 2
	}
	if wait > limit {
		wait = limit
	}
	return wait
}

// runCycle executes one poll for the symbol and folds the outcome back into
// the registry entry.
func (e *Engine) runCycle(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.pollTimeout)
	defer cancel()

	start := time.Now()
	sig, err := e.cycle(ctx, symbol)
	latency := time.Since(start)

	e.mu.Lock()
	entry, ok := e.registry[symbol]
	if !ok || entry.State == models.SymbolRemoved {
		e.mu.Unlock()
		return
	}
	entry.LastPollAt = time.Now()

	if err != nil {
		var rle *models.RateLimitExceeded
		if errors.As(err, &rle) {
			// budget exhaustion is backpressure, not a symbol failure
			e.mu.Unlock()
			e.aggregator.RecordRateLimitHit()
			e.metrics.RecordError("rate_limited")
			e.logger.Warn("cycle skipped, api budget exhausted",
				applogger.String("symbol", symbol))
			return
		}

		entry.ConsecutiveErrors++
		entry.LastError = err.Error()
		entry.LastErrorAt = time.Now()
		crossed := entry.State == models.SymbolActive && entry.ConsecutiveErrors >= e.maxErrors
		if crossed {
			entry.State = models.SymbolError
		}
		count := entry.ConsecutiveErrors
		e.mu.Unlock()

		e.aggregator.RecordError(symbol)
		e.metrics.RecordError(errorKind(err))
		if crossed {
			e.logger.Error("symbol moved to ERROR",
				applogger.String("symbol", symbol),
				applogger.Int("consecutive_errors", count),
				applogger.String("reset_after", e.errorReset.String()),
				applogger.Error(err),
			)
			e.refreshCounts()
		} else {
			e.logger.Warn("cycle failed",
				applogger.String("symbol", symbol),
				applogger.Int("consecutive_errors", count),
				applogger.Error(err),
			)
		}
		return
	}

	entry.ConsecutiveErrors = 0
	entry.LastError = ""
	if sig != nil && sig.Type.Actionable() {
		entry.LastSignal = sig.Type
		entry.LastSignalAt = sig.Timestamp
		entry.SignalCount++
	}
	e.mu.Unlock()

	e.aggregator.RecordCycle(symbol, latency, true)
	e.metrics.RecordCycle(symbol, latency.Seconds())
	e.metrics.SetHealthScore(e.aggregator.HealthScore())
}

// cycle is one poll: snapshot, higher-timeframe context, classify, alert,
// ledger. Only the snapshot fetch can fail the cycle; everything after it is
// local and never blocks on I/O.
func (e *Engine) cycle(ctx context.Context, symbol string) (*models.TradingSignal, error) {
	snap, err := e.snapshots.Snapshot(ctx, symbol, e.primaryTF)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, err)
	}

	htf, missing := e.contextual.Context(ctx, symbol)
	if len(missing) > 0 {
		e.logger.Debug("context timeframes missing",
			applogger.String("symbol", symbol),
			applogger.Int("missing", len(missing)),
		)
	}

	sig := e.classifier.Classify(snap, htf)
	price := decimal.NewFromFloat(snap.Close)

	if sig.Type.Actionable() {
		e.aggregator.RecordSignal(sig.Type)
		e.metrics.RecordSignal(symbol, string(sig.Type))
		e.recorder.Record(models.SignalEvent(sig))

		rec := e.dispatcher.Submit(sig, PriorityFor(sig))
		switch rec.SuppressReason {
		case "":
			e.aggregator.RecordAlertSent()
		case SuppressRateLimited:
			e.aggregator.RecordRateLimitHit()
		}

		e.applyTrade(sig, price)
	}

	// mark the open position (if any) to the cycle's close price
	if _, err := e.ledger.MarkToMarket(symbol, price); err != nil && !errors.Is(err, models.ErrPositionNotFound) {
		e.metrics.RecordError("mark_to_market")
	}

	return sig, nil
}

// applyTrade turns a signal into simulated ledger actions. Only
// high-conviction setups trade: an opposing SUPER or TREND_CHANGE closes the
// open position, and a SUPER opens a new one when the symbol has none and a
// slot is free. Breakouts alert without trading.
func (e *Engine) applyTrade(sig *models.TradingSignal, price decimal.Decimal) {
	if !sig.Type.Super() && !sig.Type.TrendChange() {
		return
	}

	side := models.SideLong
	if sig.Direction == models.DirectionShort {
		side = models.SideShort
	} else if sig.Direction != models.DirectionLong {
		return
	}

	if pos, ok := e.ledger.Position(sig.Symbol); ok && pos.Side != side {
		trade, err := e.ledger.ClosePosition(sig.Symbol, price, e.takerFee, sig.Timestamp)
		if err != nil {
			e.logger.Warn("close on opposing signal failed",
				applogger.String("symbol", sig.Symbol),
				applogger.Error(err),
			)
			return
		}
		e.recorder.Record(models.TradeEvent(trade))
	}

	if !sig.Type.Super() {
		return
	}

	_, err := e.ledger.OpenPosition(sig.Symbol, side, price, e.positionSize, e.makerFee, sig.Timestamp)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrPositionExists):
		// same-side position already open; hold
	case errors.Is(err, models.ErrMaxOpenPositions):
		e.logger.Debug("open skipped: no free position slot", applogger.String("symbol", sig.Symbol))
	default:
		e.logger.Warn("open on signal failed",
			applogger.String("symbol", sig.Symbol),
			applogger.Error(err),
		)
	}
}

// refreshCounts pushes registry composition to the aggregator and metrics.
func (e *Engine) refreshCounts() {
	e.mu.RLock()
	var active, paused, errored, total int
	for _, entry := range e.registry {
		switch entry.State {
		case models.SymbolActive:
			active++
		case models.SymbolPaused:
			paused++
		case models.SymbolError:
			errored++
		case models.SymbolRemoved:
			continue
		}
		total++
	}
	e.mu.RUnlock()

	e.aggregator.SetSymbolCounts(active, total)
	e.metrics.SetSymbolStates(active, paused, errored)
}

func errorKind(err error) string {
	var dpe *models.DataProviderError
	if errors.As(err, &dpe) {
		return "data_provider"
	}
	var ice *models.IndicatorCalculationError
	if errors.As(err, &ice) {
		return "indicator"
	}
	return "cycle"
}
