// Package indicator provides vectorized, causal technical indicators over
// bar-column slices. Every function returns a slice aligned with its input;
// positions before the indicator's window has filled hold NaN. Values at
// index i depend only on inputs at indices <= i.
package indicator

import "math"

// nanSlice returns a slice of n NaN values.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	return out
}

// CrossOver reports whether series a crossed above series b at index i.
func CrossOver(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}

	if math.IsNaN(a[i]) || math.IsNaN(b[i]) || math.IsNaN(a[i-1]) || math.IsNaN(b[i-1]) {
		return false
	}

	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// CrossUnder reports whether series a crossed below series b at index i.
func CrossUnder(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}

	if math.IsNaN(a[i]) || math.IsNaN(b[i]) || math.IsNaN(a[i-1]) || math.IsNaN(b[i-1]) {
		return false
	}

	return a[i-1] >= b[i-1] && a[i] < b[i]
}
