package indicator

import "SqueezeWatch/internal/domain/models"

// SqueezeSeries carries the per-bar squeeze state and momentum histogram of
// the LazyBear squeeze momentum indicator.
type SqueezeSeries struct {
	On             []bool // Bollinger bands fully inside the Keltner channel
	Off            []bool // Bollinger bands fully outside the Keltner channel
	Momentum       []float64
	MomentumColors []models.MomentumColor
}

// SqueezeMomentum computes squeeze state from Bollinger bands against a
// true-range Keltner channel, and the momentum histogram as a linear
// regression of price displacement from the Donchian/SMA midline.
func SqueezeMomentum(highs, lows, closes []float64, bbLength int, bbMult float64, kcLength int, kcMult float64) SqueezeSeries {
	length := len(closes)
	s := SqueezeSeries{
		On:             make([]bool, length),
		Off:            make([]bool, length),
		Momentum:       make([]float64, length),
		MomentumColors: make([]models.MomentumColor, length),
	}
	if length < bbLength || length < kcLength {
		return s
	}

	basis := SMA(closes, bbLength)
	dev := StdDev(closes, bbLength)

	ma := SMA(closes, kcLength)
	rangeMA := SMA(TrueRange(highs, lows, closes), kcLength)

	for i := 0; i < length; i++ {
		upperBB := basis[i] + bbMult*dev[i]
		lowerBB := basis[i] - bbMult*dev[i]
		upperKC := ma[i] + rangeMA[i]*kcMult
		lowerKC := ma[i] - rangeMA[i]*kcMult

		s.On[i] = lowerBB > lowerKC && upperBB < upperKC
		s.Off[i] = lowerBB < lowerKC && upperBB > upperKC
	}

	// Momentum: linreg of close minus the average of the Donchian midline and
	// the SMA of close, over the Keltner window.
	highest := RollingMax(highs, kcLength)
	lowest := RollingMin(lows, kcLength)
	smaClose := SMA(closes, kcLength)

	source := make([]float64, length)
	for i := 0; i < length; i++ {
		avgBase := ((highest[i]+lowest[i])/2 + smaClose[i]) / 2
		source[i] = closes[i] - avgBase
	}

	for i := kcLength - 1; i < length; i++ {
		s.Momentum[i] = LinRegPoint(source[i-kcLength+1 : i+1])
	}

	for i := 0; i < length; i++ {
		prev := 0.0
		if i > 0 {
			prev = s.Momentum[i-1]
		}
		s.MomentumColors[i] = momentumColor(s.Momentum[i], prev)
	}
	return s
}

// momentumColor shades the histogram bar: LIME/GREEN above zero depending on
// whether momentum is rising, RED/MAROON below zero depending on whether it
// is still falling.
func momentumColor(val, prev float64) models.MomentumColor {
	if val > 0 {
		if val > prev {
			return models.MomentumLime
		}
		return models.MomentumGreen
	}
	if val < prev {
		return models.MomentumRed
	}
	return models.MomentumMaroon
}
