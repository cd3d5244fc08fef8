package ratelimit

import (
	"testing"
	"time"
)

func TestSlidingWindowAllow(t *testing.T) {
	w := NewSlidingWindow(3, time.Hour)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !w.Allow("BTCUSDT", now.Add(time.Duration(i)*time.Minute)) {
			t.Fatalf("event %d should be admitted", i)
		}
	}
	if w.Allow("BTCUSDT", now.Add(3*time.Minute)) {
		t.Fatal("fourth event within window should be rejected")
	}
	// other keys have their own window
	if !w.Allow("ETHUSDT", now) {
		t.Fatal("different key should be admitted")
	}
}

func TestSlidingWindowSlides(t *testing.T) {
	w := NewSlidingWindow(2, time.Hour)
	now := time.Now()

	if !w.Allow("BTCUSDT", now) || !w.Allow("BTCUSDT", now.Add(30*time.Minute)) {
		t.Fatal("first two events should be admitted")
	}
	if w.Allow("BTCUSDT", now.Add(59*time.Minute)) {
		t.Fatal("window still full at 59m")
	}
	// first event falls out after one hour
	if !w.Allow("BTCUSDT", now.Add(61*time.Minute)) {
		t.Fatal("capacity should free once the oldest event leaves the window")
	}
}

func TestSlidingWindowRejectedNotRecorded(t *testing.T) {
	w := NewSlidingWindow(1, time.Hour)
	now := time.Now()

	w.Allow("BTCUSDT", now)
	for i := 0; i < 10; i++ {
		w.Allow("BTCUSDT", now.Add(time.Duration(i)*time.Minute))
	}
	if got := w.Count("BTCUSDT", now.Add(10*time.Minute)); got != 1 {
		t.Fatalf("rejected events must not count, got %d", got)
	}
}

func TestSlidingWindowKeyLimit(t *testing.T) {
	w := NewSlidingWindow(1, time.Hour)
	w.SetKeyLimit("ETHUSDT", 3)
	now := time.Now()

	if !w.Allow("ETHUSDT", now) || !w.Allow("ETHUSDT", now) || !w.Allow("ETHUSDT", now) {
		t.Fatal("per-key override should allow three events")
	}
	if w.Allow("ETHUSDT", now) {
		t.Fatal("fourth event should be rejected")
	}

	w.SetKeyLimit("ETHUSDT", 0)
	if w.Allow("ETHUSDT", now) {
		t.Fatal("default limit of one should apply after reset")
	}
}

func TestDeduperWindow(t *testing.T) {
	d := NewDeduper(time.Minute)
	now := time.Now()

	if d.Seen("BTCUSDT:SUPER_BULLISH", now) {
		t.Fatal("first occurrence should be unseen")
	}
	if !d.Seen("BTCUSDT:SUPER_BULLISH", now.Add(30*time.Second)) {
		t.Fatal("repeat within window should be seen")
	}
	if d.Seen("BTCUSDT:SUPER_BEARISH", now.Add(30*time.Second)) {
		t.Fatal("different key should be unseen")
	}
	if d.Seen("BTCUSDT:SUPER_BULLISH", now.Add(2*time.Minute)) {
		t.Fatal("repeat after window should be unseen again")
	}
}
