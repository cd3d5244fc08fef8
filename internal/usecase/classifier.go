package usecase

import (
	"fmt"

	"SqueezeWatch/internal/domain/models"
)

// Base strengths and adjustments for the decision table. Super setups carry
// the highest probability, breakouts next, trend changes depend on momentum
// support.
const (
	strengthSuper          = 0.90
	strengthBreakout       = 0.80
	strengthTrendChange    = 0.70
	strengthTrendNoSupport = 0.60

	alignmentBonus   = 0.05
	strongTrendBonus = 0.03
	disagreePenalty  = 0.05
	strongTrendFloor = 0.8

	baseConfidence       = 0.5
	alignmentConfidence  = 0.2
	trendConfidenceScale = 0.2
	superConfidence      = 0.1
)

// Classifier maps an indicator snapshot to at most one trading signal using
// a fixed priority table: super setups, then breakouts, then trend changes.
// The first matching rule wins; conflicting conditions fall through to
// NO_SIGNAL. The classifier holds no state, so evaluations are reproducible
// for any given snapshot.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// alignment summarizes how the higher timeframes agree with the primary one.
type alignment struct {
	aligned       bool
	trendStrength float64
	bullishCount  int
	total         int
}

// Classify evaluates the snapshot against the decision table. The htf slice
// carries confirmation/context timeframe snapshots and may be empty, in which
// case alignment bonuses simply do not apply. The result is never nil; a
// non-actionable outcome comes back as NO_SIGNAL.
func (c *Classifier) Classify(snap *models.IndicatorSnapshot, htf []*models.IndicatorSnapshot) *models.TradingSignal {
	align := c.alignment(snap, htf)

	if sig := c.superSignal(snap, align); sig != nil {
		return sig
	}
	if sig := c.breakoutSignal(snap, align); sig != nil {
		return sig
	}
	if sig := c.trendChangeSignal(snap, align); sig != nil {
		return sig
	}

	return &models.TradingSignal{
		Symbol:    snap.Symbol,
		Type:      models.SignalNone,
		Direction: models.DirectionNone,
		Price:     snap.Close,
		Timeframe: snap.Timeframe,
		Timestamp: snap.Timestamp,
	}
}

// superSignal fires while the squeeze is still compressed and trend plus
// momentum already point the same way.
func (c *Classifier) superSignal(snap *models.IndicatorSnapshot, align alignment) *models.TradingSignal {
	if !snap.SqueezeOn {
		return nil
	}

	if snap.Trend == models.TrendBlue && snap.Momentum.Bullish() {
		return c.buildSignal(snap, align, models.SignalSuperBullish, models.DirectionLong, strengthSuper, []string{
			"squeeze ON (volatility compressed)",
			fmt.Sprintf("Trend Magic BLUE (%.2f)", snap.TrendValue),
			fmt.Sprintf("momentum %s (%.2f)", snap.Momentum, snap.MomentumValue),
			fmt.Sprintf("price above trend line (%+.2f%%)", distancePct(snap)),
		})
	}

	if snap.Trend == models.TrendRed && snap.Momentum.Bearish() {
		return c.buildSignal(snap, align, models.SignalSuperBearish, models.DirectionShort, strengthSuper, []string{
			"squeeze ON (volatility compressed)",
			fmt.Sprintf("Trend Magic RED (%.2f)", snap.TrendValue),
			fmt.Sprintf("momentum %s (%.2f)", snap.Momentum, snap.MomentumValue),
			fmt.Sprintf("price below trend line (%+.2f%%)", distancePct(snap)),
		})
	}

	return nil
}

// breakoutSignal requires a fresh squeeze release: compressed on the previous
// bar, expanding on this one. A squeeze that has been off for a while does
// not qualify.
func (c *Classifier) breakoutSignal(snap *models.IndicatorSnapshot, align alignment) *models.TradingSignal {
	if !snap.SqueezeReleased() {
		return nil
	}

	if snap.Trend == models.TrendBlue && snap.Momentum.Bullish() {
		return c.buildSignal(snap, align, models.SignalBreakoutBullish, models.DirectionLong, strengthBreakout, []string{
			"squeeze released (volatility expanding)",
			fmt.Sprintf("Trend Magic BLUE (%.2f)", snap.TrendValue),
			fmt.Sprintf("momentum %s (bullish)", snap.Momentum),
		})
	}

	if snap.Trend == models.TrendRed && snap.Momentum.Bearish() {
		return c.buildSignal(snap, align, models.SignalBreakoutBearish, models.DirectionShort, strengthBreakout, []string{
			"squeeze released (volatility expanding)",
			fmt.Sprintf("Trend Magic RED (%.2f)", snap.TrendValue),
			fmt.Sprintf("momentum %s (bearish)", snap.Momentum),
		})
	}

	return nil
}

// trendChangeSignal fires on a trend color flip. Momentum agreement raises
// the base strength; a flip against momentum still signals, just weaker.
func (c *Classifier) trendChangeSignal(snap *models.IndicatorSnapshot, align alignment) *models.TradingSignal {
	if !snap.TrendFlipped() {
		return nil
	}

	if snap.PrevTrend == models.TrendRed && snap.Trend == models.TrendBlue {
		support := snap.Momentum.Bullish()
		reasons := []string{
			"Trend Magic flipped RED -> BLUE",
			fmt.Sprintf("new trend line %.2f", snap.TrendValue),
			fmt.Sprintf("momentum %s", snap.Momentum),
		}
		base := strengthTrendNoSupport
		if support {
			base = strengthTrendChange
			reasons = append(reasons, "momentum supports the change")
		}
		return c.buildSignal(snap, align, models.SignalTrendChangeBull, models.DirectionLong, base, reasons)
	}

	if snap.PrevTrend == models.TrendBlue && snap.Trend == models.TrendRed {
		support := snap.Momentum.Bearish()
		reasons := []string{
			"Trend Magic flipped BLUE -> RED",
			fmt.Sprintf("new trend line %.2f", snap.TrendValue),
			fmt.Sprintf("momentum %s", snap.Momentum),
		}
		base := strengthTrendNoSupport
		if support {
			base = strengthTrendChange
			reasons = append(reasons, "momentum supports the change")
		}
		return c.buildSignal(snap, align, models.SignalTrendChangeBear, models.DirectionShort, base, reasons)
	}

	return nil
}

func (c *Classifier) buildSignal(
	snap *models.IndicatorSnapshot,
	align alignment,
	typ models.SignalType,
	dir models.Direction,
	base float64,
	reasons []string,
) *models.TradingSignal {
	return &models.TradingSignal{
		Symbol:     snap.Symbol,
		Type:       typ,
		Direction:  dir,
		Strength:   c.strength(base, align, dir),
		Confidence: c.confidence(typ, align),
		Price:      snap.Close,
		Timeframe:  snap.Timeframe,
		Reasons:    reasons,
		Timestamp:  snap.Timestamp,
	}
}

// strength applies the multi-timeframe adjustments to the rule's base value:
// a bonus when all timeframes agree, a bonus for a strong trend, and a
// penalty when the higher timeframes lean against the signal direction.
func (c *Classifier) strength(base float64, align alignment, dir models.Direction) float64 {
	s := base
	if align.aligned {
		s += alignmentBonus
	}
	if align.trendStrength >= strongTrendFloor {
		s += strongTrendBonus
	}
	if align.total > 1 && c.majorityOpposes(align, dir) {
		s -= disagreePenalty
	}
	return clamp01(s)
}

func (c *Classifier) confidence(typ models.SignalType, align alignment) float64 {
	conf := baseConfidence
	if align.aligned {
		conf += alignmentConfidence
	}
	conf += align.trendStrength * trendConfidenceScale
	if typ.Super() {
		conf += superConfidence
	}
	return clamp01(conf)
}

// majorityOpposes reports whether most timeframes show the opposite trend
// color to the signal direction.
func (c *Classifier) majorityOpposes(align alignment, dir models.Direction) bool {
	switch dir {
	case models.DirectionLong:
		return 2*align.bullishCount < align.total
	case models.DirectionShort:
		return 2*align.bullishCount > align.total
	default:
		return false
	}
}

// alignment counts trend colors across the primary and higher timeframes.
// Unanimity means full trend strength; any split degrades it. Without
// higher-timeframe data the snapshot's own trend strength stands in and no
// alignment bonus applies.
func (c *Classifier) alignment(snap *models.IndicatorSnapshot, htf []*models.IndicatorSnapshot) alignment {
	if len(htf) == 0 {
		return alignment{
			aligned:       false,
			trendStrength: snap.TrendStrength,
			bullishCount:  boolToInt(snap.Trend == models.TrendBlue),
			total:         1,
		}
	}

	bullish := boolToInt(snap.Trend == models.TrendBlue)
	total := 1
	for _, s := range htf {
		if s == nil {
			continue
		}
		bullish += boolToInt(s.Trend == models.TrendBlue)
		total++
	}

	aligned := bullish == 0 || bullish == total
	strength := 0.7
	if aligned {
		strength = 1.0
	}

	return alignment{
		aligned:       aligned,
		trendStrength: strength,
		bullishCount:  bullish,
		total:         total,
	}
}

func distancePct(snap *models.IndicatorSnapshot) float64 {
	if snap.TrendValue == 0 {
		return 0
	}
	return (snap.Close - snap.TrendValue) / snap.TrendValue * 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
