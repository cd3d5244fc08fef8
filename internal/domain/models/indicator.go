package models

import "time"

// TrendColor is the Trend Magic line state: BLUE while CCI holds at or above
// zero, RED below.
type TrendColor string

const (
	TrendBlue TrendColor = "BLUE"
	TrendRed  TrendColor = "RED"
)

// MomentumColor is the squeeze-momentum histogram shade. LIME and GREEN are
// the bullish pair (positive histogram), RED and MAROON the bearish one.
type MomentumColor string

const (
	MomentumLime   MomentumColor = "LIME"   // positive and rising
	MomentumGreen  MomentumColor = "GREEN"  // positive and fading
	MomentumRed    MomentumColor = "RED"    // negative and falling
	MomentumMaroon MomentumColor = "MAROON" // negative and recovering
)

// Bullish reports whether the shade belongs to the bullish pair.
func (c MomentumColor) Bullish() bool { return c == MomentumLime || c == MomentumGreen }

// Bearish reports whether the shade belongs to the bearish pair.
func (c MomentumColor) Bearish() bool { return c == MomentumRed || c == MomentumMaroon }

// Candle is one OHLCV bar as returned by the market data provider.
type Candle struct {
	OpenTime time.Time
	Symbol   string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// IndicatorSnapshot is the per-cycle indicator state the classifier consumes.
// The previous-bar fields carry the transition information (squeeze release,
// trend flip) that breakout and trend-change signals key on.
type IndicatorSnapshot struct {
	Symbol        string
	Timeframe     string
	Close         float64
	SqueezeOn     bool
	PrevSqueezeOn bool
	Trend         TrendColor
	PrevTrend     TrendColor
	Momentum      MomentumColor
	MomentumValue float64
	TrendValue    float64 // Trend Magic line level
	TrendStrength float64 // [0,1], price distance from the trend line, normalized
	Timestamp     time.Time
}

// SqueezeReleased reports the ON -> OFF transition that arms breakout signals.
func (s *IndicatorSnapshot) SqueezeReleased() bool { return s.PrevSqueezeOn && !s.SqueezeOn }

// TrendFlipped reports a BLUE <-> RED change against the previous bar.
func (s *IndicatorSnapshot) TrendFlipped() bool {
	return s.PrevTrend != "" && s.PrevTrend != s.Trend
}
