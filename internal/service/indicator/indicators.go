package indicator

import "math"

// Series helpers used by the squeeze and trend magic calculations. All
// functions take candles ordered oldest to newest and return slices aligned
// to the input; positions before the first full window are left at zero.

// SMA computes the simple moving average over period.
func SMA(values []float64, period int) []float64 {
	length := len(values)
	out := make([]float64, length)
	if length < period || period <= 0 {
		return out
	}

	sum := 0.0
	for i := 0; i < length; i++ {
		sum += values[i]
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// StdDev computes the rolling population standard deviation over period.
func StdDev(values []float64, period int) []float64 {
	length := len(values)
	out := make([]float64, length)
	if length < period || period <= 1 {
		return out
	}

	for i := period - 1; i < length; i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-j]
		}
		mean := sum / float64(period)

		sumSqDiff := 0.0
		for j := 0; j < period; j++ {
			diff := values[i-j] - mean
			sumSqDiff += diff * diff
		}
		out[i] = math.Sqrt(sumSqDiff / float64(period))
	}
	return out
}

// TrueRange computes the per-bar true range.
func TrueRange(highs, lows, closes []float64) []float64 {
	length := len(closes)
	out := make([]float64, length)
	if length == 0 {
		return out
	}

	out[0] = highs[0] - lows[0]
	for i := 1; i < length; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])

		tr := hl
		if hc > tr {
			tr = hc
		}
		if lc > tr {
			tr = lc
		}
		out[i] = tr
	}
	return out
}

// ATR computes the SMA-smoothed average true range, matching the PineScript
// atr with mamode=sma that Trend Magic uses.
func ATR(highs, lows, closes []float64, period int) []float64 {
	return SMA(TrueRange(highs, lows, closes), period)
}

// CCI computes the Commodity Channel Index over period.
func CCI(highs, lows, closes []float64, period int) []float64 {
	length := len(closes)
	out := make([]float64, length)
	if length < period || period <= 0 {
		return out
	}

	tp := make([]float64, length)
	for i := 0; i < length; i++ {
		tp[i] = (highs[i] + lows[i] + closes[i]) / 3
	}
	sma := SMA(tp, period)

	for i := period - 1; i < length; i++ {
		meanDev := 0.0
		for j := 0; j < period; j++ {
			meanDev += math.Abs(tp[i-j] - sma[i])
		}
		meanDev /= float64(period)
		if meanDev == 0 {
			continue
		}
		out[i] = (tp[i] - sma[i]) / (0.015 * meanDev)
	}
	return out
}

// RollingMax computes the highest value over the trailing period.
func RollingMax(values []float64, period int) []float64 {
	length := len(values)
	out := make([]float64, length)
	for i := period - 1; i < length; i++ {
		max := values[i]
		for j := 1; j < period; j++ {
			if values[i-j] > max {
				max = values[i-j]
			}
		}
		out[i] = max
	}
	return out
}

// RollingMin computes the lowest value over the trailing period.
func RollingMin(values []float64, period int) []float64 {
	length := len(values)
	out := make([]float64, length)
	for i := period - 1; i < length; i++ {
		min := values[i]
		for j := 1; j < period; j++ {
			if values[i-j] < min {
				min = values[i-j]
			}
		}
		out[i] = min
	}
	return out
}

// LinRegPoint fits a least-squares line through window and returns its value
// at the last point, matching PineScript linreg(source, n, 0).
func LinRegPoint(window []float64) float64 {
	n := len(window)
	if n < 2 {
		return 0
	}

	sumX := 0.0
	sumY := 0.0
	sumXY := 0.0
	sumX2 := 0.0
	for i := 0; i < n; i++ {
		x := float64(i)
		y := window[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denom := float64(n)*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (float64(n)*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / float64(n)
	return slope*float64(n-1) + intercept
}
