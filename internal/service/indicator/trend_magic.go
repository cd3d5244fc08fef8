package indicator

import "SqueezeWatch/internal/domain/models"

// TrendMagicSeries carries the Trend Magic trailing line and its color per bar.
type TrendMagicSeries struct {
	Line   []float64
	Colors []models.TrendColor
	CCI    []float64
}

// TrendMagic computes the CCI-gated ATR trailing line. While CCI holds at or
// above zero the line ratchets up from low-ATR support (BLUE); below zero it
// ratchets down from high+ATR resistance (RED).
func TrendMagic(highs, lows, closes []float64, cciPeriod, atrPeriod int, coeff float64) TrendMagicSeries {
	length := len(closes)
	s := TrendMagicSeries{
		Line:   make([]float64, length),
		Colors: make([]models.TrendColor, length),
		CCI:    CCI(highs, lows, closes, cciPeriod),
	}
	if length == 0 {
		return s
	}

	atr := ATR(highs, lows, closes, atrPeriod)

	for i := 0; i < length; i++ {
		upT := lows[i] - atr[i]*coeff
		downT := highs[i] + atr[i]*coeff

		if s.CCI[i] >= 0 {
			s.Colors[i] = models.TrendBlue
			if i == 0 || upT > s.Line[i-1] {
				s.Line[i] = upT
			} else {
				s.Line[i] = s.Line[i-1]
			}
		} else {
			s.Colors[i] = models.TrendRed
			if i == 0 || downT < s.Line[i-1] {
				s.Line[i] = downT
			} else {
				s.Line[i] = s.Line[i-1]
			}
		}
	}
	return s
}
