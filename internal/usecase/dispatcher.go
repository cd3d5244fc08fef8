package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
	"SqueezeWatch/internal/service/ratelimit"
	"SqueezeWatch/pkg/logger"
)

// Suppression reasons recorded on alerts that were not delivered.
const (
	SuppressBelowStrength = "below_min_strength"
	SuppressDuplicate     = "duplicate"
	SuppressRateLimited   = "rate_limited"
	SuppressQueueFull     = "queue_full"
	SuppressNoBackend     = "delivery_failed"
)

// Dispatcher routes trading signals to notification backends. Submission is
// synchronous only up to the suppression decision; delivery runs on a worker
// behind a bounded queue so a slow backend never stalls a poll cycle. Every
// submission, delivered or suppressed, lands in the capped history ring.
type Dispatcher struct {
	mu sync.Mutex

	backends []repository.NotificationBackend
	window   *ratelimit.SlidingWindow
	dedup    *ratelimit.Deduper

	minStrength    float64
	symbolStrength map[string]float64

	history *alertRing
	queue   chan *models.AlertRecord
	stopCh  chan struct{}
	done    chan struct{}
	started bool

	metrics repository.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMinStrength sets the default strength floor for delivery.
func WithMinStrength(v float64) DispatcherOption {
	return func(d *Dispatcher) { d.minStrength = v }
}

// WithMaxPerHour caps deliveries per symbol per sliding hour.
func WithMaxPerHour(n int) DispatcherOption {
	return func(d *Dispatcher) { d.window = ratelimit.NewSlidingWindow(n, time.Hour) }
}

// WithDedupWindow sets the coalescing window for repeated symbol+type alerts.
func WithDedupWindow(w time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = ratelimit.NewDeduper(w) }
}

// WithQueueSize bounds the delivery queue.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan *models.AlertRecord, n)
		}
	}
}

// WithHistorySize caps the alert history ring.
func WithHistorySize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.history = newAlertRing(n)
		}
	}
}

// WithClock overrides the time source. Tests use it to drive the windows.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher delivering through backends in order.
// The first backend that accepts an alert wins; later ones are fallbacks.
func NewDispatcher(
	backends []repository.NotificationBackend,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		backends:       backends,
		window:         ratelimit.NewSlidingWindow(10, time.Hour),
		dedup:          ratelimit.NewDeduper(time.Minute),
		minStrength:    0.7,
		symbolStrength: make(map[string]float64),
		history:        newAlertRing(1000),
		queue:          make(chan *models.AlertRecord, 256),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
		metrics:        metrics,
		logger:         log,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.deliverLoop(ctx)
}

// Stop drains queued alerts and stops the worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	<-d.done
}

// ConfigureSymbol overrides the strength floor and hourly cap for one symbol.
// Zero values fall back to the defaults.
func (d *Dispatcher) ConfigureSymbol(symbol string, minStrength float64, maxPerHour int) {
	d.mu.Lock()
	if minStrength > 0 {
		d.symbolStrength[symbol] = minStrength
	} else {
		delete(d.symbolStrength, symbol)
	}
	d.mu.Unlock()

	d.window.SetKeyLimit(symbol, maxPerHour)
}

// Drop clears per-symbol dispatcher state after a symbol is removed.
func (d *Dispatcher) Drop(symbol string) {
	d.mu.Lock()
	delete(d.symbolStrength, symbol)
	d.mu.Unlock()

	d.window.Forget(symbol)
}

// Submit runs the suppression checks and queues the alert for delivery. The
// returned record is final for suppressed alerts; for queued ones the
// delivery fields are filled in by the worker. Submit never blocks on
// delivery. An empty priority falls back to the standard mapping.
func (d *Dispatcher) Submit(sig *models.TradingSignal, priority models.AlertPriority) *models.AlertRecord {
	if priority == "" {
		priority = PriorityFor(sig)
	}

	now := d.now()
	rec := &models.AlertRecord{
		ID:        uuid.NewString(),
		Symbol:    sig.Symbol,
		Signal:    *sig,
		Priority:  priority,
		DedupKey:  fmt.Sprintf("%s:%s", sig.Symbol, sig.Type),
		Message:   alertMessage(sig),
		CreatedAt: now,
	}

	if reason := d.suppress(sig, rec, now); reason != "" {
		rec.SuppressReason = reason
		d.history.add(rec)
		d.metrics.RecordSuppressed(sig.Symbol, reason)
		d.logger.Debug("alert suppressed",
			logger.String("symbol", sig.Symbol),
			logger.String("type", string(sig.Type)),
			logger.String("reason", reason),
		)
		return rec
	}

	d.history.add(rec)

	select {
	case d.queue <- rec:
	default:
		d.history.update(rec.ID, func(r *models.AlertRecord) {
			r.SuppressReason = SuppressQueueFull
		})
		d.metrics.RecordSuppressed(sig.Symbol, SuppressQueueFull)
		d.logger.Warn("alert queue full, dropping",
			logger.String("symbol", sig.Symbol),
			logger.String("type", string(sig.Type)),
		)
	}

	return rec
}

// suppress applies the checks in cheap-to-expensive order: strength floor,
// dedup coalescing, then the per-symbol hourly window. Suppressed alerts do
// not consume window capacity.
func (d *Dispatcher) suppress(sig *models.TradingSignal, rec *models.AlertRecord, now time.Time) string {
	if sig.Strength < d.strengthFloor(sig.Symbol) {
		return SuppressBelowStrength
	}
	if d.dedup.Seen(rec.DedupKey, now) {
		return SuppressDuplicate
	}
	if !d.window.Allow(sig.Symbol, now) {
		return SuppressRateLimited
	}
	return ""
}

func (d *Dispatcher) strengthFloor(symbol string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v, ok := d.symbolStrength[symbol]; ok {
		return v
	}
	return d.minStrength
}

// Recent returns up to n alerts, newest first.
func (d *Dispatcher) Recent(n int) []*models.AlertRecord {
	return d.history.recent(n)
}

// deliverLoop drains the queue until stopped, then flushes what remains.
func (d *Dispatcher) deliverLoop(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-d.stopCh:
			for {
				select {
				case rec := <-d.queue:
					d.deliver(ctx, rec)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		case rec := <-d.queue:
			d.deliver(ctx, rec)
		}
	}
}

// deliver walks the backend chain in order. A backend failure logs and falls
// through to the next; only total failure leaves the record undelivered.
func (d *Dispatcher) deliver(ctx context.Context, rec *models.AlertRecord) {
	for _, b := range d.backends {
		if err := b.Send(ctx, rec); err != nil {
			d.logger.Info("backend delivery failed, trying next",
				logger.String("backend", b.Name()),
				logger.String("symbol", rec.Symbol),
				logger.Error(err),
			)
			continue
		}

		d.history.update(rec.ID, func(r *models.AlertRecord) {
			r.Delivered = true
			r.DeliveredBy = b.Name()
		})
		d.metrics.RecordAlert(b.Name(), rec.Symbol)
		return
	}

	d.history.update(rec.ID, func(r *models.AlertRecord) {
		r.SuppressReason = SuppressNoBackend
	})
	d.metrics.RecordSuppressed(rec.Symbol, SuppressNoBackend)
	d.logger.Error("all backends failed", logger.String("symbol", rec.Symbol))
}

// PriorityFor maps a signal to an alert priority. Super setups page loudest;
// anything at full strength escalates to critical.
func PriorityFor(sig *models.TradingSignal) models.AlertPriority {
	switch {
	case sig.Type.Super() && sig.Strength >= 1.0:
		return models.PriorityCritical
	case sig.Type.Super():
		return models.PriorityHigh
	case sig.Strength >= 0.8:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func alertMessage(sig *models.TradingSignal) string {
	return fmt.Sprintf("%s %s %s @ %.4f (strength %.2f, confidence %.2f)",
		sig.Symbol, sig.Type, sig.Direction, sig.Price, sig.Strength, sig.Confidence)
}

// alertRing is a fixed-capacity ring over alert records. Writes evict the
// oldest entry once full.
type alertRing struct {
	mu   sync.RWMutex
	buf  []*models.AlertRecord
	next int
	full bool
}

func newAlertRing(capacity int) *alertRing {
	return &alertRing{buf: make([]*models.AlertRecord, capacity)}
}

func (r *alertRing) add(rec *models.AlertRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// update mutates the record with the given id under the ring lock, so
// concurrent readers never observe a half-written delivery status.
func (r *alertRing) update(id string, fn func(*models.AlertRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.buf {
		if rec != nil && rec.ID == id {
			fn(rec)
			return
		}
	}
}

// recent returns up to n records, newest first.
func (r *alertRing) recent(n int) []*models.AlertRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]*models.AlertRecord, 0, n)
	idx := r.next - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		clone := *r.buf[idx]
		out = append(out, &clone)
		idx--
	}
	return out
}
