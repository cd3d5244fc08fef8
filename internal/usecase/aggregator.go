package usecase

import (
	"sync"
	"time"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/pkg/util"
)

// cycleSample is one completed or failed poll cycle in the rolling window.
type cycleSample struct {
	at     time.Time
	ms     float64
	failed bool
	apiHit bool
}

// Aggregator accumulates engine counters and serves point-in-time
// PerformanceMetrics snapshots. Recent-rate figures (error rate, latency,
// API calls per minute) come from a bounded rolling window of cycle samples;
// lifetime totals are kept separately. The health score is a derived view and
// never feeds back into scheduling.
type Aggregator struct {
	mu sync.Mutex

	startedAt time.Time
	window    []cycleSample
	windowCap int

	totalCycles   int64
	totalErrors   int64
	totalAPICalls int64
	rateLimitHits int64
	alertsSent    int64
	maxCycleMs    float64
	sumCycleMs    float64

	cyclesPerSymbol map[string]int64
	signalCounts    map[models.SignalType]int64

	activeSymbols int
	totalSymbols  int

	latencyBound time.Duration

	lastCPUSeconds float64
	lastCPUAt      time.Time

	now func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLatencyBound sets the per-cycle latency considered healthy.
func WithLatencyBound(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.latencyBound = d
		}
	}
}

// WithWindowSize bounds the rolling sample window.
func WithWindowSize(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.windowCap = n
		}
	}
}

// WithAggregatorClock overrides the time source for tests.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		windowCap:       256,
		cyclesPerSymbol: make(map[string]int64),
		signalCounts:    make(map[models.SignalType]int64),
		latencyBound:    5 * time.Second,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.startedAt = a.now()
	a.lastCPUSeconds = util.ProcessCPUSeconds()
	a.lastCPUAt = a.startedAt

	return a
}

// RecordCycle records one completed poll cycle. apiCallMade marks cycles that
// reached the network rather than being served from cache; the per-minute API
// rate is derived from these marks.
func (a *Aggregator) RecordCycle(symbol string, latency time.Duration, apiCallMade bool) {
	ms := float64(latency) / float64(time.Millisecond)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalCycles++
	a.sumCycleMs += ms
	if ms > a.maxCycleMs {
		a.maxCycleMs = ms
	}
	a.cyclesPerSymbol[symbol]++
	if apiCallMade {
		a.totalAPICalls++
	}

	a.push(cycleSample{at: a.now(), ms: ms, apiHit: apiCallMade})
}

// RecordError records one failed poll cycle for symbol.
func (a *Aggregator) RecordError(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalErrors++
	a.push(cycleSample{at: a.now(), failed: true})
}

// RecordSignal counts an actionable classification outcome.
func (a *Aggregator) RecordSignal(typ models.SignalType) {
	a.mu.Lock()
	a.signalCounts[typ]++
	a.mu.Unlock()
}

// RecordAlertSent counts one alert handed to a backend successfully.
func (a *Aggregator) RecordAlertSent() {
	a.mu.Lock()
	a.alertsSent++
	a.mu.Unlock()
}

// RecordRateLimitHit counts one wait imposed by the API budget.
func (a *Aggregator) RecordRateLimitHit() {
	a.mu.Lock()
	a.rateLimitHits++
	a.mu.Unlock()
}

// SetSymbolCounts feeds the scheduler's registry shape into the health score.
func (a *Aggregator) SetSymbolCounts(active, total int) {
	a.mu.Lock()
	a.activeSymbols = active
	a.totalSymbols = total
	a.mu.Unlock()
}

// Forget drops per-symbol accumulation after a symbol is removed.
func (a *Aggregator) Forget(symbol string) {
	a.mu.Lock()
	delete(a.cyclesPerSymbol, symbol)
	a.mu.Unlock()
}

// TotalSignals returns the count of actionable signals seen so far.
func (a *Aggregator) TotalSignals() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n int64
	for _, c := range a.signalCounts {
		n += c
	}
	return n
}

// Snapshot builds a fresh PerformanceMetrics view. CPU utilization is derived
// from process CPU time consumed since the previous snapshot.
func (a *Aggregator) Snapshot() *models.PerformanceMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	perSymbol := make(map[string]int64, len(a.cyclesPerSymbol))
	for k, v := range a.cyclesPerSymbol {
		perSymbol[k] = v
	}
	perType := make(map[models.SignalType]int64, len(a.signalCounts))
	for k, v := range a.signalCounts {
		perType[k] = v
	}

	m := &models.PerformanceMetrics{
		StartedAt:         a.startedAt,
		UptimeSeconds:     now.Sub(a.startedAt).Seconds(),
		CPUPct:            a.sampleCPU(now),
		MemMB:             util.HeapAllocMB(),
		TotalCycles:       a.totalCycles,
		TotalErrors:       a.totalErrors,
		ErrorRate:         a.recentErrorRate(),
		TotalAPICalls:     a.totalAPICalls,
		APICallsPerMinute: a.apiCallsPerMinute(now),
		RateLimitHits:     a.rateLimitHits,
		AlertsSent:        a.alertsSent,
		AvgCycleMs:        a.avgCycleMs(),
		MaxCycleMs:        a.maxCycleMs,
		CyclesPerSymbol:   perSymbol,
		SignalCounts:      perType,
		HealthScore:       a.healthScore(),
	}

	return m
}

// HealthScore returns the current composite health in [0,1].
func (a *Aggregator) HealthScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthScore()
}

// healthScore averages three equally weighted parts: the fraction of
// non-ERROR symbols, the inverse recent error rate, and whether the last
// cycle finished inside the latency bound. An idle engine scores 1.0.
func (a *Aggregator) healthScore() float64 {
	activePart := 1.0
	if a.totalSymbols > 0 {
		activePart = float64(a.activeSymbols) / float64(a.totalSymbols)
	}

	errorPart := 1.0 - a.recentErrorRate()

	latencyPart := 1.0
	if last, ok := a.lastCycle(); ok && last.ms > float64(a.latencyBound)/float64(time.Millisecond) {
		latencyPart = 0.0
	}

	score := (activePart + errorPart + latencyPart) / 3
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (a *Aggregator) push(s cycleSample) {
	a.window = append(a.window, s)
	if len(a.window) > a.windowCap {
		a.window = a.window[len(a.window)-a.windowCap:]
	}
}

func (a *Aggregator) lastCycle() (cycleSample, bool) {
	for i := len(a.window) - 1; i >= 0; i-- {
		if !a.window[i].failed {
			return a.window[i], true
		}
	}
	return cycleSample{}, false
}

func (a *Aggregator) recentErrorRate() float64 {
	if len(a.window) == 0 {
		return 0
	}
	failed := 0
	for _, s := range a.window {
		if s.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(a.window))
}

func (a *Aggregator) avgCycleMs() float64 {
	if a.totalCycles == 0 {
		return 0
	}
	return a.sumCycleMs / float64(a.totalCycles)
}

// apiCallsPerMinute counts network-backed cycles over the trailing minute.
func (a *Aggregator) apiCallsPerMinute(now time.Time) float64 {
	cutoff := now.Add(-time.Minute)
	n := 0
	for _, s := range a.window {
		if s.apiHit && s.at.After(cutoff) {
			n++
		}
	}
	return float64(n)
}

// sampleCPU converts process CPU time consumed since the last snapshot into
// a utilization percentage of one core.
func (a *Aggregator) sampleCPU(now time.Time) float64 {
	cpu := util.ProcessCPUSeconds()
	wall := now.Sub(a.lastCPUAt).Seconds()

	var pct float64
	if wall > 0 && cpu >= a.lastCPUSeconds {
		pct = (cpu - a.lastCPUSeconds) / wall * 100
	}

	a.lastCPUSeconds = cpu
	a.lastCPUAt = now
	return pct
}
