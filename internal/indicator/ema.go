package indicator

// EMA computes the exponential moving average of values over the given
// period. The first defined value (index period-1) seeds from the simple
// average of the first period values; later values use
// alpha = 2 / (period + 1), matching the pandas ewm adjust=False recurrence.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}

	seed /= float64(period)
	out[period-1] = seed

	alpha := 2.0 / float64(period+1)
	ema := seed

	for i := period; i < len(values); i++ {
		ema = values[i]*alpha + ema*(1-alpha)
		out[i] = ema
	}

	return out
}
