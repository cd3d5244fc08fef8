package models

import "time"

// SymbolState is the scheduler lifecycle state of a monitored symbol.
type SymbolState string

const (
	SymbolActive  SymbolState = "ACTIVE"
	SymbolPaused  SymbolState = "PAUSED"
	SymbolError   SymbolState = "ERROR"   // too many consecutive failures, waiting for reset
	SymbolRemoved SymbolState = "REMOVED" // terminal
)

// MonitoredSymbol is the registry entry the scheduler keeps per symbol.
type MonitoredSymbol struct {
	Symbol            string
	State             SymbolState
	PollInterval      time.Duration
	ConsecutiveErrors int
	LastPollAt        time.Time
	LastErrorAt       time.Time
	LastError         string
	LastSignal        SignalType
	LastSignalAt      time.Time
	SignalCount       int64
	AddedAt           time.Time
}

// EngineState is the top-level scheduler state.
type EngineState string

const (
	EngineStopped  EngineState = "STOPPED"
	EngineRunning  EngineState = "RUNNING"
	EngineStopping EngineState = "STOPPING"
)

// SymbolStatus is the API view of one registry entry.
type SymbolStatus struct {
	Symbol            string      `json:"symbol"`
	State             SymbolState `json:"state"`
	PollIntervalMs    int64       `json:"poll_interval_ms"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastPollAt        time.Time   `json:"last_poll_at"`
	LastSignal        SignalType  `json:"last_signal,omitempty"`
	LastSignalAt      time.Time   `json:"last_signal_at"`
	SignalCount       int64       `json:"signal_count"`
	LastError         string      `json:"last_error,omitempty"`
}

// MonitoringStatus is the aggregate engine view served by the status
// endpoint. It is derived on demand from the registry and aggregator, never
// a source of truth itself.
type MonitoringStatus struct {
	State         EngineState             `json:"state"`
	StartedAt     time.Time               `json:"started_at"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	TotalSymbols  int                     `json:"total_symbols"`
	ActiveSymbols int                     `json:"active_symbols"`
	PausedSymbols int                     `json:"paused_symbols"`
	ErrorSymbols  int                     `json:"error_symbols"`
	TotalSignals  int64                   `json:"total_signals"`
	PerSymbol     map[string]SymbolStatus `json:"per_symbol"`
	HealthScore   float64                 `json:"health_score"`
	Performance   *PerformanceMetrics     `json:"performance,omitempty"`
}
