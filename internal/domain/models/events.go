package models

import "time"

// EventKind tags the payload carried by a HistoryEvent.
type EventKind string

const (
	EventSignal EventKind = "signal"
	EventAlert  EventKind = "alert"
	EventTrade  EventKind = "trade"
)

// HistoryEvent is the envelope published to the events pipeline and persisted
// by the history store. Exactly one payload field is set, matching Kind.
type HistoryEvent struct {
	Kind   EventKind      `json:"kind"`
	Symbol string         `json:"symbol"`
	At     time.Time      `json:"at"`
	Signal *TradingSignal `json:"signal,omitempty"`
	Alert  *AlertRecord   `json:"alert,omitempty"`
	Trade  *ClosedTrade   `json:"trade,omitempty"`
}

// SignalEvent wraps a signal in a history envelope.
func SignalEvent(s *TradingSignal) *HistoryEvent {
	return &HistoryEvent{Kind: EventSignal, Symbol: s.Symbol, At: s.Timestamp, Signal: s}
}

// AlertEvent wraps an alert record in a history envelope.
func AlertEvent(a *AlertRecord) *HistoryEvent {
	return &HistoryEvent{Kind: EventAlert, Symbol: a.Symbol, At: a.CreatedAt, Alert: a}
}

// TradeEvent wraps a closed trade in a history envelope.
func TradeEvent(t *ClosedTrade) *HistoryEvent {
	return &HistoryEvent{Kind: EventTrade, Symbol: t.Symbol, At: t.ClosedAt, Trade: t}
}
