package indicator

import "math"

// TrueRange computes the per-bar true range from high/low/close columns.
// The first value falls back to high-low since no previous close exists.
func TrueRange(high, low, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i == 0 {
			out[i] = high[i] - low[i]

			continue
		}

		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closes[i-1])
		lc := math.Abs(low[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}

	return out
}

// ATR computes the average true range over the given period using Wilder's
// smoothing.
func ATR(high, low, closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) < period {
		return out
	}

	tr := TrueRange(high, low, closes)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += tr[i]
	}

	atr := seed / float64(period)
	out[period-1] = atr

	for i := period; i < len(closes); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}

	return out
}
