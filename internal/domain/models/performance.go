package models

import "time"

// PerformanceMetrics is an immutable snapshot of engine-level counters. Each
// Snapshot call replaces the previous view; nothing is merged across ticks.
type PerformanceMetrics struct {
	StartedAt         time.Time            `json:"started_at"`
	UptimeSeconds     float64              `json:"uptime_seconds"`
	CPUPct            float64              `json:"cpu_pct"`
	MemMB             float64              `json:"mem_mb"`
	TotalCycles       int64                `json:"total_cycles"`
	TotalErrors       int64                `json:"total_errors"`
	ErrorRate         float64              `json:"error_rate"`
	TotalAPICalls     int64                `json:"total_api_calls"`
	APICallsPerMinute float64              `json:"api_calls_per_minute"`
	RateLimitHits     int64                `json:"rate_limit_hits"`
	AlertsSent        int64                `json:"alerts_sent"`
	AvgCycleMs        float64              `json:"avg_cycle_ms"`
	MaxCycleMs        float64              `json:"max_cycle_ms"`
	CyclesPerSymbol   map[string]int64     `json:"cycles_per_symbol,omitempty"`
	SignalCounts      map[SignalType]int64 `json:"signal_counts,omitempty"`
	HealthScore       float64              `json:"health_score"`
}
