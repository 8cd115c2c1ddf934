package indicator

import "math"

// BollingerBandsResult holds the three aligned band series.
type BollingerBandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BollingerBands computes bands around an SMA of values: middle is the SMA,
// upper/lower are stdDev population standard deviations away.
func BollingerBands(values []float64, period int, stdDev float64) BollingerBandsResult {
	n := len(values)
	result := BollingerBandsResult{
		Upper:  nanSlice(n),
		Middle: SMA(values, period),
		Lower:  nanSlice(n),
	}

	if period <= 0 || n < period {
		return result
	}

	for i := period - 1; i < n; i++ {
		mean := result.Middle[i]

		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}

		sigma := math.Sqrt(variance / float64(period))
		result.Upper[i] = mean + stdDev*sigma
		result.Lower[i] = mean - stdDev*sigma
	}

	return result
}
