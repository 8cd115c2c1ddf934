package indicator

import "math"

// MACDResult holds the three aligned MACD output series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the moving average convergence/divergence of values with the
// given fast, slow and signal periods. The signal line seeds from the first
// defined stretch of the MACD line.
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	n := len(values)
	result := MACDResult{
		MACD:      nanSlice(n),
		Signal:    nanSlice(n),
		Histogram: nanSlice(n),
	}

	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 || n < slowPeriod {
		return result
	}

	fast := EMA(values, fastPeriod)
	slow := EMA(values, slowPeriod)

	for i := slowPeriod - 1; i < n; i++ {
		result.MACD[i] = fast[i] - slow[i]
	}

	// Signal EMA runs over the defined tail of the MACD line.
	start := slowPeriod - 1
	if n-start < signalPeriod {
		return result
	}

	tail := result.MACD[start:]
	signalTail := EMA(tail, signalPeriod)

	for i, v := range signalTail {
		if math.IsNaN(v) {
			continue
		}

		result.Signal[start+i] = v
		result.Histogram[start+i] = result.MACD[start+i] - v
	}

	return result
}
