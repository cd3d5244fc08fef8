package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts events per key over a rolling window. An event is
// admitted when fewer than the limit happened within the window ending now;
// admitted events are recorded, rejected ones are not.
type SlidingWindow struct {
	mu        sync.Mutex
	window    time.Duration
	limit     int
	keyLimits map[string]int
	hits      map[string][]time.Time
}

// NewSlidingWindow creates a limiter allowing limit events per key per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window:    window,
		limit:     limit,
		keyLimits: make(map[string]int),
		hits:      make(map[string][]time.Time),
	}
}

// SetKeyLimit overrides the limit for a single key. A zero or negative
// limit restores the default.
func (w *SlidingWindow) SetKeyLimit(key string, limit int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if limit <= 0 {
		delete(w.keyLimits, key)
		return
	}
	w.keyLimits[key] = limit
}

// Allow reports whether an event for key is admitted at now, recording it
// when admitted.
func (w *SlidingWindow) Allow(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.prune(key, now)
	if len(kept) >= w.limitFor(key) {
		return false
	}

	w.hits[key] = append(kept, now)
	return true
}

// Count returns how many events for key fall inside the window ending now.
func (w *SlidingWindow) Count(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.prune(key, now))
}

// Forget drops all state for key.
func (w *SlidingWindow) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.hits, key)
	delete(w.keyLimits, key)
}

func (w *SlidingWindow) limitFor(key string) int {
	if l, ok := w.keyLimits[key]; ok {
		return l
	}
	return w.limit
}

// prune drops timestamps older than the window and stores the survivors.
func (w *SlidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	old := w.hits[key]

	kept := old[:0]
	for _, t := range old {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		delete(w.hits, key)
		return nil
	}
	w.hits[key] = kept
	return kept
}

// Deduper suppresses repeats of the same key seen within the window.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// NewDeduper creates a deduper with the given suppression window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Seen reports whether key was already recorded inside the window. A fresh
// key is recorded and reported as unseen.
func (d *Deduper) Seen(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return true
	}

	d.seen[key] = now
	d.prune(now)
	return false
}

// prune evicts expired entries so the map does not grow unbounded.
func (d *Deduper) prune(now time.Time) {
	cutoff := now.Add(-d.window)
	for k, t := range d.seen {
		if !t.After(cutoff) {
			delete(d.seen, k)
		}
	}
}
