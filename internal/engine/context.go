package engine

import (
	"fmt"
	"strings"

	"github.com/halcyonquant/backtest/internal/indicator"
	"github.com/halcyonquant/backtest/internal/strategy"
	"github.com/halcyonquant/backtest/internal/types"
)

// pendingOrder is an order submission queued for execution at the next
// bar's open.
type pendingOrder struct {
	side         types.Side
	size         float64
	submittedAt  int64
	submittedBar int
}

// Context is the sandboxed per-run handle given to strategy callbacks.
// It owns the bar columns, the pending order queue, the per-run scratch
// store, the indicator memo cache and the buffered run log. It is owned
// exclusively by the runner for the run's lifetime and destroyed with it.
type Context struct {
	bars    []types.Bar
	time    []int64
	open    []float64
	high    []float64
	low     []float64
	closes  []float64
	volume  []float64
	params  map[string]any
	state   map[string]any
	logs    []types.LogMessage
	pending []pendingOrder

	position  types.Position
	portfolio types.Portfolio
	leverage  float64

	index          int
	tradingEnabled bool
	// disabledWarned tracks submission methods already warned about this
	// run, so warmup-time submissions warn once per method instead of
	// spamming the log every bar.
	disabledWarned map[string]bool

	ind *memoIndicators
}

var _ strategy.Context = (*Context)(nil)

// NewContext builds the execution context for one run.
func NewContext(bars []types.Bar, params map[string]any, initialCash, leverage float64) *Context {
	n := len(bars)
	c := &Context{
		bars:           bars,
		time:           make([]int64, n),
		open:           make([]float64, n),
		high:           make([]float64, n),
		low:            make([]float64, n),
		closes:         make([]float64, n),
		volume:         make([]float64, n),
		params:         params,
		state:          make(map[string]any),
		position:       types.Position{},
		portfolio:      types.NewPortfolio(initialCash),
		leverage:       leverage,
		tradingEnabled: true,
		disabledWarned: make(map[string]bool),
	}

	for i, bar := range bars {
		c.time[i] = bar.Time
		c.open[i] = bar.Open
		c.high[i] = bar.High
		c.low[i] = bar.Low
		c.closes[i] = bar.Close
		c.volume[i] = bar.Volume
	}

	c.ind = newMemoIndicators(c)

	return c
}

// setBarIndex advances the context to bar i.
func (c *Context) setBarIndex(i int) {
	c.index = i
}

// setTradingEnabled gates order submission during warmup bars.
func (c *Context) setTradingEnabled(enabled bool) {
	c.tradingEnabled = enabled
}

// popOrders drains the pending order queue.
func (c *Context) popOrders() []pendingOrder {
	orders := c.pending
	c.pending = nil

	return orders
}

// Index implements strategy.Context.
func (c *Context) Index() int {
	return c.index
}

// Time implements strategy.Context.
func (c *Context) Time() []int64 {
	return c.time[:c.index+1]
}

// Open implements strategy.Context.
func (c *Context) Open() []float64 {
	return c.open[:c.index+1]
}

// High implements strategy.Context.
func (c *Context) High() []float64 {
	return c.high[:c.index+1]
}

// Low implements strategy.Context.
func (c *Context) Low() []float64 {
	return c.low[:c.index+1]
}

// Close implements strategy.Context.
func (c *Context) Close() []float64 {
	return c.closes[:c.index+1]
}

// Volume implements strategy.Context.
func (c *Context) Volume() []float64 {
	return c.volume[:c.index+1]
}

// Params implements strategy.Context.
func (c *Context) Params() map[string]any {
	return c.params
}

// State implements strategy.Context.
func (c *Context) State() map[string]any {
	return c.state
}

// Indicators implements strategy.Context.
func (c *Context) Indicators() strategy.Indicators {
	return c.ind
}

// Log implements strategy.Context.
func (c *Context) Log() strategy.RunLogger {
	return (*runLogger)(c)
}

// Buy implements strategy.Context.
func (c *Context) Buy(size float64) {
	c.enqueueOrder(types.SideBuy, size)
}

// Sell implements strategy.Context.
func (c *Context) Sell(size float64) {
	c.enqueueOrder(types.SideSell, size)
}

// Flatten implements strategy.Context. Flatten on a flat position is a
// clean no-op, but warmup-time submission still warns once.
func (c *Context) Flatten() {
	if !c.tradingEnabled {
		c.enqueueOrder(types.SideFlatten, 0)

		return
	}

	if c.position.IsFlat() {
		return
	}

	c.enqueueOrder(types.SideFlatten, 0)
}

// Cancel implements strategy.Context. Order cancellation is not supported:
// the call is a warned no-op.
func (c *Context) Cancel(_ string) {
	c.warnOnce("CANCEL", "cancel not supported")
}

// Position implements strategy.Context.
func (c *Context) Position() types.Position {
	return c.position
}

// Portfolio implements strategy.Context.
func (c *Context) Portfolio() types.Portfolio {
	return c.portfolio
}

// SizeFixed implements strategy.Context.
func (c *Context) SizeFixed(units float64) float64 {
	return units
}

// SizePercentEquity implements strategy.Context. The signal bar's close is
// used, not the eventual fill price; the small deterministic drift from the
// nominal percentage is intended.
func (c *Context) SizePercentEquity(pct float64) float64 {
	price := c.closes[c.index]
	if price <= 0 {
		return 0
	}

	return (c.portfolio.Equity * pct * c.leverage) / price
}

func (c *Context) enqueueOrder(side types.Side, size float64) {
	ts := c.time[c.index]

	if !c.tradingEnabled {
		method := string(side)
		c.warnOnce(method, fmt.Sprintf("trading disabled, %s ignored", strings.ToLower(method)))

		return
	}

	c.pending = append(c.pending, pendingOrder{
		side:         side,
		size:         size,
		submittedAt:  ts,
		submittedBar: c.index,
	})
}

// warnOnce emits a WARN log the first time the given key is seen this run.
func (c *Context) warnOnce(key, message string) {
	if c.disabledWarned[key] {
		return
	}

	c.disabledWarned[key] = true
	c.appendLog(types.LogLevelWarn, message)
}

func (c *Context) appendLog(level types.LogLevel, message string) {
	ts := c.time[c.index]
	c.logs = append(c.logs, types.LogMessage{
		Time:    ts,
		Level:   level,
		Message: message,
		BarTime: ts,
	})
}

// runLogger adapts the context's log buffer to strategy.RunLogger.
type runLogger Context

func (l *runLogger) Info(message string) {
	(*Context)(l).appendLog(types.LogLevelInfo, message)
}

func (l *runLogger) Warn(message string) {
	(*Context)(l).appendLog(types.LogLevelWarn, message)
}

func (l *runLogger) Error(message string) {
	(*Context)(l).appendLog(types.LogLevelError, message)
}

// memoIndicators memoizes vectorized indicator results per
// (function, argument signature) within a run. All provided indicators are
// causal, so full-series vectors are computed once and sliced to the
// current bar index on every access.
type memoIndicators struct {
	ctx    *Context
	series map[string][]float64
	macd   map[string]indicator.MACDResult
	bb     map[string]indicator.BollingerBandsResult
}

var _ strategy.Indicators = (*memoIndicators)(nil)

func newMemoIndicators(ctx *Context) *memoIndicators {
	return &memoIndicators{
		ctx:    ctx,
		series: make(map[string][]float64),
		macd:   make(map[string]indicator.MACDResult),
		bb:     make(map[string]indicator.BollingerBandsResult),
	}
}

func (m *memoIndicators) column(source strategy.Source) []float64 {
	switch source {
	case strategy.SourceOpen:
		return m.ctx.open
	case strategy.SourceHigh:
		return m.ctx.high
	case strategy.SourceLow:
		return m.ctx.low
	case strategy.SourceVolume:
		return m.ctx.volume
	default:
		return m.ctx.closes
	}
}

func (m *memoIndicators) memoSeries(key string, compute func() []float64) []float64 {
	values, ok := m.series[key]
	if !ok {
		values = compute()
		m.series[key] = values
	}

	return values[:m.ctx.index+1]
}

// SMA implements strategy.Indicators.
func (m *memoIndicators) SMA(source strategy.Source, period int) []float64 {
	key := fmt.Sprintf("sma:%s:%d", source, period)

	return m.memoSeries(key, func() []float64 {
		return indicator.SMA(m.column(source), period)
	})
}

// EMA implements strategy.Indicators.
func (m *memoIndicators) EMA(source strategy.Source, period int) []float64 {
	key := fmt.Sprintf("ema:%s:%d", source, period)

	return m.memoSeries(key, func() []float64 {
		return indicator.EMA(m.column(source), period)
	})
}

// RSI implements strategy.Indicators.
func (m *memoIndicators) RSI(source strategy.Source, period int) []float64 {
	key := fmt.Sprintf("rsi:%s:%d", source, period)

	return m.memoSeries(key, func() []float64 {
		return indicator.RSI(m.column(source), period)
	})
}

// ATR implements strategy.Indicators.
func (m *memoIndicators) ATR(period int) []float64 {
	key := fmt.Sprintf("atr:%d", period)

	return m.memoSeries(key, func() []float64 {
		return indicator.ATR(m.ctx.high, m.ctx.low, m.ctx.closes, period)
	})
}

// MACD implements strategy.Indicators.
func (m *memoIndicators) MACD(source strategy.Source, fastPeriod, slowPeriod, signalPeriod int) indicator.MACDResult {
	key := fmt.Sprintf("macd:%s:%d:%d:%d", source, fastPeriod, slowPeriod, signalPeriod)

	result, ok := m.macd[key]
	if !ok {
		result = indicator.MACD(m.column(source), fastPeriod, slowPeriod, signalPeriod)
		m.macd[key] = result
	}

	bound := m.ctx.index + 1

	return indicator.MACDResult{
		MACD:      result.MACD[:bound],
		Signal:    result.Signal[:bound],
		Histogram: result.Histogram[:bound],
	}
}

// BollingerBands implements strategy.Indicators.
func (m *memoIndicators) BollingerBands(source strategy.Source, period int, stdDev float64) indicator.BollingerBandsResult {
	key := fmt.Sprintf("bb:%s:%d:%g", source, period, stdDev)

	result, ok := m.bb[key]
	if !ok {
		result = indicator.BollingerBands(m.column(source), period, stdDev)
		m.bb[key] = result
	}

	bound := m.ctx.index + 1

	return indicator.BollingerBandsResult{
		Upper:  result.Upper[:bound],
		Middle: result.Middle[:bound],
		Lower:  result.Lower[:bound],
	}
}
