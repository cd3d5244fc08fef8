package models

import "time"

// SignalType is the closed set of classifier outcomes.
type SignalType string

const (
	SignalSuperBullish    SignalType = "SUPER_BULLISH"
	SignalSuperBearish    SignalType = "SUPER_BEARISH"
	SignalBreakoutBullish SignalType = "BREAKOUT_BULLISH"
	SignalBreakoutBearish SignalType = "BREAKOUT_BEARISH"
	SignalTrendChangeBull SignalType = "TREND_CHANGE_BULLISH"
	SignalTrendChangeBear SignalType = "TREND_CHANGE_BEARISH"
	SignalNone            SignalType = "NO_SIGNAL"
)

// Actionable reports whether the type should reach the alert dispatcher.
func (t SignalType) Actionable() bool { return t != SignalNone && t != "" }

// Super reports whether the type is one of the squeeze-plus-trend setups.
func (t SignalType) Super() bool {
	return t == SignalSuperBullish || t == SignalSuperBearish
}

// TrendChange reports whether the type marks a trend color flip.
func (t SignalType) TrendChange() bool {
	return t == SignalTrendChangeBull || t == SignalTrendChangeBear
}

// Direction is the trade side implied by a signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNone  Direction = "NONE"
)

// TradingSignal is one classification outcome for a symbol at a point in time.
// Strength and Confidence are always within [0,1]; Reasons lists the matched
// conditions in evaluation order.
type TradingSignal struct {
	Symbol     string     `json:"symbol"`
	Type       SignalType `json:"type"`
	Direction  Direction  `json:"direction"`
	Strength   float64    `json:"strength"`
	Confidence float64    `json:"confidence"`
	Price      float64    `json:"price"`
	Timeframe  string     `json:"timeframe"`
	Reasons    []string   `json:"reasons,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
