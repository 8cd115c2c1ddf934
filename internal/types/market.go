package types

import (
	"strconv"
	"strings"

	"github.com/halcyonquant/backtest/pkg/errors"
)

// Bar is one OHLCV sample at a fixed timeframe step.
// Bars are immutable once loaded; a series is strictly increasing in Time
// with fixed spacing equal to the timeframe step.
type Bar struct {
	// Time is the bar open time in epoch milliseconds.
	Time   int64   `yaml:"time" json:"time"`
	Open   float64 `yaml:"open" json:"open"`
	High   float64 `yaml:"high" json:"high"`
	Low    float64 `yaml:"low" json:"low"`
	Close  float64 `yaml:"close" json:"close"`
	Volume float64 `yaml:"volume" json:"volume"`
}

// TimeframeToMs converts a timeframe string like "1m", "4h", "1d", "1w"
// to its step in milliseconds.
func TimeframeToMs(timeframe string) (int64, error) {
	tf := strings.TrimSpace(strings.ToLower(timeframe))
	if len(tf) < 2 {
		return 0, errors.Newf(errors.ErrCodeInvalidTimeframe, "invalid timeframe: %q", timeframe)
	}

	mult, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || mult <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidTimeframe, "invalid timeframe multiplier: %q", timeframe)
	}

	switch tf[len(tf)-1] {
	case 'm':
		return int64(mult) * 60_000, nil
	case 'h':
		return int64(mult) * 3_600_000, nil
	case 'd':
		return int64(mult) * 86_400_000, nil
	case 'w':
		return int64(mult) * 7 * 86_400_000, nil
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidTimeframe, "invalid timeframe unit: %q", timeframe)
	}
}

// ValidateSeries checks that bars are strictly increasing in time with a
// fixed step. Gaps are a loader-level failure and are never tolerated by
// the engine.
func ValidateSeries(bars []Bar, stepMs int64) error {
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Time - bars[i-1].Time
		if delta <= 0 {
			return errors.Newf(errors.ErrCodeNonMonotonicSeries,
				"bar series not strictly increasing at index %d (ts %d -> %d)", i, bars[i-1].Time, bars[i].Time)
		}

		if stepMs > 0 && delta != stepMs {
			return errors.Newf(errors.ErrCodeNonMonotonicSeries,
				"bar series has irregular spacing at index %d (delta %dms, step %dms)", i, delta, stepMs)
		}
	}

	return nil
}
