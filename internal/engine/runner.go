package engine

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/halcyonquant/backtest/internal/logger"
	"github.com/halcyonquant/backtest/internal/strategy"
	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

// cancelCheckInterval is the bar interval at which the runner polls the
// cancellation flag and reports progress. Cancellation is cooperative: the
// current bar's fill and mark-to-market steps always complete first.
const cancelCheckInterval = 100

// ProgressCallback reports bar-loop progress as (processed, total).
type ProgressCallback func(current, total int)

// Result is the accumulated output of one run, handed to the run store as
// one atomic bundle and to the report builder for presentation.
type Result struct {
	Status       types.RunStatus
	Orders       []types.Order
	Trades       []types.Trade
	EquityPoints []types.EquityPoint
	Logs         []types.LogMessage
	Portfolio    types.Portfolio
	// Error carries the fault text when Status is ERROR.
	Error string
}

// Runner drives the bar loop for one run at a time. Bar data is immutable
// and owned by the run; portfolio, broker and context state are owned
// exclusively by the runner for the run's lifetime.
type Runner struct {
	log *logger.Logger
}

// NewRunner creates a runner that logs through the given logger.
func NewRunner(log *logger.Logger) *Runner {
	return &Runner{log: log}
}

// Run executes one backtest over the preloaded bar series. The series must
// cover warmup and trading window; bars[0] may precede cfg.StartTime by the
// warmup span. Cancellation is observed through ctx at a bounded bar
// interval. Identical (bars, cfg, params) inputs produce identical results:
// no clock or random source is consulted and all arithmetic is plain
// float64.
func (r *Runner) Run(
	ctx context.Context,
	bars []types.Bar,
	strat strategy.Strategy,
	params map[string]any,
	cfg types.RunConfig,
	onProgress optional.Option[ProgressCallback],
) (*Result, error) {
	if len(bars) < 2 {
		return nil, errors.Newf(errors.ErrCodeBacktestNotEnoughBars, "not enough bars for backtest: %d", len(bars))
	}

	step := bars[1].Time - bars[0].Time
	ec := NewContext(bars, params, cfg.InitialCash, cfg.Leverage)
	result := &Result{Status: types.RunStatusDone}

	if err := callStrategy(func() error { return strat.OnInit(ec) }); err != nil {
		return r.faultResult(ec, result, err), nil
	}

	n := len(bars)
	canceled := false

	var pending []pendingOrder

	lastProcessed := 0

	for i := 0; i < n-1; i++ {
		if i%cancelCheckInterval == 0 {
			if ctx.Err() != nil {
				canceled = true

				break
			}

			if onProgress.IsSome() {
				onProgress.Unwrap()(i, n)
			}
		}

		ec.setBarIndex(i)

		ts := bars[i].Time
		if ts > cfg.EndTime {
			// Hard boundary: never process a bar past the trading window.
			break
		}

		lastProcessed = i

		// Orders queued on bar i-1 fill at this bar's open; this is the
		// only place fills occur for the current bar.
		r.executePending(ec, result, strat, pending, i, step, cfg)

		closePrice := bars[i].Close
		ec.portfolio.MarkToMarket(&ec.position, closePrice)

		if ts >= cfg.StartTime && ts <= cfg.EndTime {
			result.EquityPoints = append(result.EquityPoints, types.EquityPoint{
				Time:         ts,
				Equity:       ec.portfolio.Equity,
				Drawdown:     ec.portfolio.Drawdown,
				PositionSize: ec.position.Size,
				Price:        closePrice,
			})
		}

		ec.setTradingEnabled(ts >= cfg.StartTime)

		if err := callStrategy(func() error { return strat.OnBar(ec, i) }); err != nil {
			return r.faultResult(ec, result, err), nil
		}

		ec.setTradingEnabled(true)

		pending = ec.popOrders()
	}

	if canceled {
		result.Status = types.RunStatusCanceled

		closeLimit := cfg.EndTime
		if bars[lastProcessed].Time < closeLimit {
			closeLimit = bars[lastProcessed].Time
		}

		r.forceClose(ec, result, lastIndexAtOrBefore(bars, closeLimit), cfg)
	} else if cfg.CloseOnFinish {
		r.forceClose(ec, result, lastIndexAtOrBefore(bars, cfg.EndTime), cfg)
	}

	result.Logs = ec.logs
	result.Portfolio = ec.portfolio

	if finisher, ok := strat.(strategy.Finisher); ok {
		if err := callStrategy(func() error { finisher.OnFinish(ec); return nil }); err != nil {
			return r.faultResult(ec, result, err), nil
		}
	}

	if onProgress.IsSome() {
		onProgress.Unwrap()(n, n)
	}

	r.log.Debug("backtest finished",
		zap.String("status", string(result.Status)),
		zap.Int("orders", len(result.Orders)),
		zap.Int("trades", len(result.Trades)),
	)

	return result, nil
}

// executePending fills the orders queued on the previous bar at the open of
// bar i, applying slippage, commission and the margin guard.
func (r *Runner) executePending(
	ec *Context,
	result *Result,
	strat strategy.Strategy,
	pending []pendingOrder,
	i int,
	step int64,
	cfg types.RunConfig,
) {
	if len(pending) == 0 {
		return
	}

	openPrice := ec.open[i]
	ts := ec.time[i]

	for _, po := range pending {
		side := po.side
		size := po.size

		if side == types.SideFlatten {
			// Flatten on flat is a clean no-op: no order event.
			if ec.position.IsFlat() {
				continue
			}

			if ec.position.Size > 0 {
				side = types.SideSell
			} else {
				side = types.SideBuy
			}

			size = math.Abs(ec.position.Size)
		}

		// Policy layer: only one net position. A same-direction order while
		// a position is open is ignored and never forwarded to the broker.
		if !ec.position.IsFlat() {
			if (ec.position.Size > 0 && side == types.SideBuy) ||
				(ec.position.Size < 0 && side == types.SideSell) {
				ec.warnOnce("SCALE:"+string(side), "scaling not supported, "+strings.ToLower(string(side))+" ignored")

				continue
			}

			// An opposite-side order strictly flattens: it closes the whole
			// position and never opens a reverse one.
			size = math.Abs(ec.position.Size)
		}

		order := types.Order{
			SubmittedAt:  po.submittedAt,
			SubmittedBar: po.submittedBar,
			Side:         side,
			Size:         size,
			Status:       types.OrderStatusSubmitted,
		}

		if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
			r.rejectOrder(ec, result, strat, order, types.OrderReasonInvalidSize)

			continue
		}

		fillPrice := FillPrice(openPrice, side, cfg.SlippageBps)
		if !CanFill(size, fillPrice, ec.portfolio.Equity, cfg.Leverage) {
			r.rejectOrder(ec, result, strat, order, types.OrderReasonMargin)

			continue
		}

		fee := CommissionFee(size, fillPrice, cfg.CommissionBps)
		order.Status = types.OrderStatusFilled
		order.FillTime = optional.Some(ts)
		order.FillPrice = optional.Some(fillPrice)
		order.Fee = optional.Some(fee)
		result.Orders = append(result.Orders, order)

		if ec.position.IsFlat() {
			// Open: the entry fee is recorded on the position and deducted
			// from cash exactly once.
			signedSize := size
			if side == types.SideSell {
				signedSize = -size
			}

			ec.position.Size = signedSize
			ec.position.EntryPrice = fillPrice
			ec.position.EntryTime = ts
			ec.position.EntryFee = fee
			ec.portfolio.Cash -= fee
			ec.portfolio.MarkToMarket(&ec.position, fillPrice)
		} else {
			// Close: cash already reflects the entry fee, so book gross pnl
			// and the exit fee only.
			grossPnL := (fillPrice - ec.position.EntryPrice) * ec.position.Size
			ec.portfolio.Cash += grossPnL
			ec.portfolio.Cash -= fee

			feeTotal := ec.position.EntryFee + fee
			trade := types.Trade{
				Side:       ec.position.Side(),
				Size:       math.Abs(ec.position.Size),
				EntryTime:  ec.position.EntryTime,
				EntryPrice: ec.position.EntryPrice,
				ExitTime:   ts,
				ExitPrice:  fillPrice,
				PnL:        grossPnL - feeTotal,
				FeeTotal:   feeTotal,
				BarsHeld:   barsHeld(ts, ec.position.EntryTime, step),
			}
			result.Trades = append(result.Trades, trade)

			if observer, ok := strat.(strategy.TradeObserver); ok {
				observer.OnTrade(ec, trade)
			}

			ec.position.Close()
			ec.portfolio.MarkToMarket(&ec.position, fillPrice)
		}

		if observer, ok := strat.(strategy.OrderObserver); ok {
			observer.OnOrder(ec, order)
		}
	}
}

func (r *Runner) rejectOrder(ec *Context, result *Result, strat strategy.Strategy, order types.Order, reason string) {
	order.Status = types.OrderStatusRejected
	order.Reason = optional.Some(reason)
	result.Orders = append(result.Orders, order)

	if observer, ok := strat.(strategy.OrderObserver); ok {
		observer.OnOrder(ec, order)
	}
}

// forceClose closes a surviving open position at the close of the bar at
// closeIdx, with the same slippage and commission treatment as a normal
// fill. This is the documented exception to the open-fill rule: no future
// bar exists to fill at.
func (r *Runner) forceClose(ec *Context, result *Result, closeIdx int, cfg types.RunConfig) {
	if closeIdx < 0 || ec.position.IsFlat() {
		return
	}

	closePrice := ec.closes[closeIdx]
	exitTime := ec.time[closeIdx]

	side := types.SideSell
	if ec.position.Size < 0 {
		side = types.SideBuy
	}

	size := math.Abs(ec.position.Size)
	fillPrice := FillPrice(closePrice, side, cfg.SlippageBps)
	fee := CommissionFee(size, fillPrice, cfg.CommissionBps)
	grossPnL := (fillPrice - ec.position.EntryPrice) * ec.position.Size
	ec.portfolio.Cash += grossPnL - fee

	feeTotal := ec.position.EntryFee + fee
	result.Trades = append(result.Trades, types.Trade{
		Side:       ec.position.Side(),
		Size:       size,
		EntryTime:  ec.position.EntryTime,
		EntryPrice: ec.position.EntryPrice,
		ExitTime:   exitTime,
		ExitPrice:  fillPrice,
		PnL:        grossPnL - feeTotal,
		FeeTotal:   feeTotal,
		BarsHeld:   1,
	})

	ec.position.Close()
	ec.portfolio.MarkToMarket(&ec.position, fillPrice)
}

func (r *Runner) faultResult(ec *Context, result *Result, err error) *Result {
	result.Status = types.RunStatusError
	result.Error = err.Error()
	result.Logs = ec.logs
	result.Portfolio = ec.portfolio

	r.log.Error("strategy fault aborted run", zap.Error(err))

	return result
}

// callStrategy invokes a strategy callback, converting panics into errors
// so a faulty strategy aborts the run instead of the process.
func callStrategy(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf(errors.ErrCodeStrategyFault, "strategy panic: %v", rec)
		}
	}()

	if callErr := fn(); callErr != nil {
		return errors.Wrap(errors.ErrCodeStrategyFault, "strategy callback failed", callErr)
	}

	return nil
}

// lastIndexAtOrBefore returns the rightmost bar index with time <= limit,
// or -1 if none.
func lastIndexAtOrBefore(bars []types.Bar, limit int64) int {
	idx := sort.Search(len(bars), func(i int) bool {
		return bars[i].Time > limit
	})

	return idx - 1
}

func barsHeld(exitTime, entryTime, step int64) int {
	if step <= 0 {
		step = 1
	}

	held := int((exitTime - entryTime) / step)
	if held < 1 {
		held = 1
	}

	return held
}
