package indicator

import (
	"context"
	"fmt"
	"math"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/internal/domain/repository"
	applogger "SqueezeWatch/pkg/logger"
)

// Engine turns exchange candles into indicator snapshots. It holds the
// indicator parameters and delegates all data access to the market provider.
type Engine struct {
	market repository.MarketData
	logger *applogger.Logger

	candlesLimit int

	cciPeriod int
	atrPeriod int
	atrCoeff  float64

	bbLength int
	bbMult   float64
	kcLength int
	kcMult   float64
}

type Option func(*Engine)

// WithCandlesLimit sets how many candles each snapshot fetches.
func WithCandlesLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.candlesLimit = n
		}
	}
}

// WithTrendMagicParams overrides the CCI period, ATR period and multiplier.
func WithTrendMagicParams(cciPeriod, atrPeriod int, coeff float64) Option {
	return func(e *Engine) {
		e.cciPeriod = cciPeriod
		e.atrPeriod = atrPeriod
		e.atrCoeff = coeff
	}
}

// WithSqueezeParams overrides the Bollinger and Keltner windows.
func WithSqueezeParams(bbLength int, bbMult float64, kcLength int, kcMult float64) Option {
	return func(e *Engine) {
		e.bbLength = bbLength
		e.bbMult = bbMult
		e.kcLength = kcLength
		e.kcMult = kcMult
	}
}

// NewEngine creates an indicator engine with the standard squeeze and trend
// magic parameters.
func NewEngine(market repository.MarketData, logger *applogger.Logger, opts ...Option) *Engine {
	e := &Engine{
		market:       market,
		logger:       logger,
		candlesLimit: 100,
		cciPeriod:    20,
		atrPeriod:    5,
		atrCoeff:     1.0,
		bbLength:     20,
		bbMult:       2.0,
		kcLength:     20,
		kcMult:       1.5,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// minBars is the smallest candle count that yields both a current and a
// previous bar with full indicator windows.
func (e *Engine) minBars() int {
	min := e.cciPeriod
	if e.bbLength > min {
		min = e.bbLength
	}
	if e.kcLength > min {
		min = e.kcLength
	}
	if e.atrPeriod > min {
		min = e.atrPeriod
	}
	return min + 2
}

// Snapshot fetches candles and computes the indicator state for one symbol
// and timeframe. The previous-bar squeeze and trend fields come from the
// second-to-last candle.
func (e *Engine) Snapshot(ctx context.Context, symbol string, tf repository.Timeframe) (*models.IndicatorSnapshot, error) {
	candles, err := e.market.Klines(ctx, symbol, tf, e.candlesLimit)
	if err != nil {
		return nil, &models.DataProviderError{Symbol: symbol, Op: "klines", Err: err}
	}
	if len(candles) < e.minBars() {
		return nil, &models.IndicatorCalculationError{
			Symbol:    symbol,
			Indicator: "snapshot",
			Err:       fmt.Errorf("need at least %d candles for %s, got %d", e.minBars(), tf, len(candles)),
		}
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	tm := TrendMagic(highs, lows, closes, e.cciPeriod, e.atrPeriod, e.atrCoeff)
	sq := SqueezeMomentum(highs, lows, closes, e.bbLength, e.bbMult, e.kcLength, e.kcMult)

	last := len(candles) - 1
	prev := last - 1

	snap := &models.IndicatorSnapshot{
		Symbol:        symbol,
		Timeframe:     string(tf),
		Close:         closes[last],
		SqueezeOn:     sq.On[last],
		PrevSqueezeOn: sq.On[prev],
		Trend:         tm.Colors[last],
		PrevTrend:     tm.Colors[prev],
		Momentum:      sq.MomentumColors[last],
		MomentumValue: sq.Momentum[last],
		TrendValue:    tm.Line[last],
		TrendStrength: trendStrength(closes[last], tm.Line[last]),
		Timestamp:     candles[last].OpenTime,
	}

	e.logger.Debug("indicator snapshot",
		applogger.String("symbol", symbol),
		applogger.String("timeframe", string(tf)),
		applogger.String("trend", string(snap.Trend)),
		applogger.String("momentum", string(snap.Momentum)),
		applogger.Bool("squeeze_on", snap.SqueezeOn),
	)
	return snap, nil
}

// trendStrength normalizes the price distance from the trend line into [0,1],
// saturating at 5% away.
func trendStrength(close, line float64) float64 {
	if line == 0 {
		return 0
	}
	distPct := math.Abs((close - line) / line * 100)
	s := distPct / 5
	if s > 1 {
		return 1
	}
	return s
}
