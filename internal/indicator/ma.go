package indicator

// SMA computes the simple moving average of values over the given period.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0

	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}

		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}

	return out
}

// Highest returns the rolling maximum of values over the given period.
func Highest(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		max := values[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			if values[j] > max {
				max = values[j]
			}
		}

		out[i] = max
	}

	return out
}

// Lowest returns the rolling minimum of values over the given period.
func Lowest(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		min := values[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			if values[j] < min {
				min = values[j]
			}
		}

		out[i] = min
	}

	return out
}
