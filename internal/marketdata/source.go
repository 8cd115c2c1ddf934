package marketdata

import (
	"context"

	"go.uber.org/zap"

	"github.com/halcyonquant/backtest/internal/logger"
	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

// BarSource serves bar ranges from the local cache, classifying any missing
// coverage and optionally backfilling it from a provider.
type BarSource struct {
	cache    *BarCache
	provider Provider
	logger   *logger.Logger
}

// NewBarSource creates a bar source over the given cache. provider may be
// nil for a cache-only source; backfill requests then fail with the
// coverage error instead of fetching.
func NewBarSource(cache *BarCache, provider Provider, log *logger.Logger) *BarSource {
	return &BarSource{
		cache:    cache,
		provider: provider,
		logger:   log,
	}
}

// LoadRangeBars returns the bars with open time in [from, to] inclusive.
// Missing coverage is classified as a leading segment, an internal gap or a
// trailing segment and reported through a CoverageError. When allowFetch is
// true and a provider is configured, the full range is backfilled once and
// coverage re-verified before failing.
func (s *BarSource) LoadRangeBars(ctx context.Context, symbol, timeframe string, from, to int64, allowFetch bool) ([]types.Bar, error) {
	stepMs, err := types.TimeframeToMs(timeframe)
	if err != nil {
		return nil, err
	}

	if from > to {
		return nil, errors.Newf(errors.ErrCodeInvalidTimeRange, "invalid range: from %d after to %d", from, to)
	}

	bars, err := s.cache.QueryRange(symbol, timeframe, from, to)
	if err != nil {
		return nil, err
	}

	covErr := classifyCoverage(bars, symbol, from, to, stepMs)
	if covErr == nil {
		return bars, nil
	}

	if !allowFetch || s.provider == nil {
		return nil, covErr
	}

	s.logger.Info("backfilling missing bars",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.String("segment", string(covErr.Segment)),
		zap.Int64("from", covErr.From),
		zap.Int64("to", covErr.To),
	)

	fetched, err := s.provider.FetchBars(ctx, symbol, timeframe, from, to)
	if err != nil {
		return nil, err
	}

	if err := s.cache.UpsertBars(symbol, timeframe, fetched); err != nil {
		return nil, err
	}

	bars, err = s.cache.QueryRange(symbol, timeframe, from, to)
	if err != nil {
		return nil, err
	}

	// The provider is the source of truth for what exists; a hole that
	// survives a backfill is genuinely missing data.
	if covErr := classifyCoverage(bars, symbol, from, to, stepMs); covErr != nil {
		return nil, covErr
	}

	return bars, nil
}

// classifyCoverage checks that bars tile [from, to] on the timeframe grid
// and returns a CoverageError naming the first missing segment, or nil when
// coverage is complete.
func classifyCoverage(bars []types.Bar, symbol string, from, to, stepMs int64) *errors.CoverageError {
	expectedFirst := alignUp(from, stepMs)
	expectedLast := alignDown(to, stepMs)

	if expectedFirst > expectedLast {
		return nil
	}

	if len(bars) == 0 {
		return errors.NewCoverageError(errors.CoverageSegmentLeading, expectedFirst, expectedLast, symbol)
	}

	if bars[0].Time > expectedFirst {
		return errors.NewCoverageError(errors.CoverageSegmentLeading, expectedFirst, bars[0].Time-stepMs, symbol)
	}

	for i := 1; i < len(bars); i++ {
		if bars[i].Time-bars[i-1].Time > stepMs {
			return errors.NewCoverageError(errors.CoverageSegmentGaps, bars[i-1].Time+stepMs, bars[i].Time-stepMs, symbol)
		}
	}

	if bars[len(bars)-1].Time < expectedLast {
		return errors.NewCoverageError(errors.CoverageSegmentTrailing, bars[len(bars)-1].Time+stepMs, expectedLast, symbol)
	}

	return nil
}

func alignUp(ts, step int64) int64 {
	if rem := ts % step; rem != 0 {
		return ts + step - rem
	}

	return ts
}

func alignDown(ts, step int64) int64 {
	return ts - ts%step
}
