// Package strategy defines the contract between user strategies and the
// backtest runner. A strategy is data (its parameter schema) plus a bound set
// of lifecycle callbacks; the runner depends only on these interfaces, never
// on a concrete strategy type.
package strategy

import (
	"github.com/halcyonquant/backtest/internal/indicator"
	"github.com/halcyonquant/backtest/internal/types"
)

// Source names a bar column for the indicator surface.
type Source string

const (
	SourceOpen   Source = "open"
	SourceHigh   Source = "high"
	SourceLow    Source = "low"
	SourceClose  Source = "close"
	SourceVolume Source = "volume"
)

// Strategy is the unit the runner executes. Implementations must be
// stateless between runs; per-run state belongs in Context.State().
type Strategy interface {
	// Schema returns the strategy's identity and parameter declarations.
	Schema() Schema
	// OnInit runs once before the bar loop starts.
	OnInit(ctx Context) error
	// OnBar runs for every bar, warmup included, with the bar index.
	OnBar(ctx Context, i int) error
}

// OrderObserver is an optional hook invoked after each order event
// (filled or rejected).
type OrderObserver interface {
	OnOrder(ctx Context, order types.Order)
}

// TradeObserver is an optional hook invoked when a position closes into a
// trade.
type TradeObserver interface {
	OnTrade(ctx Context, trade types.Trade)
}

// Finisher is an optional hook invoked once after the bar loop ends.
type Finisher interface {
	OnFinish(ctx Context)
}

// Context is the sandboxed per-run handle given to every callback. Column
// accessors return read-only views bounded by the current bar index, so a
// callback can never observe data past the bar it is processing.
type Context interface {
	// Index returns the current bar index.
	Index() int
	// Time returns bar open times (epoch ms) up to and including the current index.
	Time() []int64
	Open() []float64
	High() []float64
	Low() []float64
	Close() []float64
	Volume() []float64

	// Params returns the resolved parameter values for this run.
	Params() map[string]any
	// State is a per-run mutable scratch store, destroyed with the run.
	State() map[string]any
	// Indicators is the memoized vectorized indicator surface.
	Indicators() Indicators
	// Log buffers messages into the run bundle.
	Log() RunLogger

	// Buy queues a buy order for execution at the next bar's open.
	Buy(size float64)
	// Sell queues a sell order for execution at the next bar's open.
	Sell(size float64)
	// Flatten queues a close of the open position; a no-op when flat.
	Flatten()
	// Cancel is accepted but unsupported: a warned no-op.
	Cancel(orderID string)

	// Position returns a snapshot of the current net position.
	Position() types.Position
	// Portfolio returns a snapshot of cash/equity/drawdown state.
	Portfolio() types.Portfolio

	// SizeFixed returns units verbatim.
	SizeFixed(units float64) float64
	// SizePercentEquity sizes an order as (equity * pct * leverage) divided
	// by the signal bar's close. The signal close is intentional: fills
	// happen at the next open, and the resulting drift from the nominal
	// percentage is locked behavior.
	SizePercentEquity(pct float64) float64
}

// Indicators computes vectorized indicator series over the run's bar
// columns, memoized per (function, argument signature) within the run.
// Returned slices are bounded by the current bar index.
type Indicators interface {
	SMA(source Source, period int) []float64
	EMA(source Source, period int) []float64
	RSI(source Source, period int) []float64
	ATR(period int) []float64
	MACD(source Source, fastPeriod, slowPeriod, signalPeriod int) indicator.MACDResult
	BollingerBands(source Source, period int, stdDev float64) indicator.BollingerBandsResult
}

// RunLogger buffers per-run messages; they are persisted with the bundle
// and surfaced by the report.
type RunLogger interface {
	Info(message string)
	Warn(message string)
	Error(message string)
}
