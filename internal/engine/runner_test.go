package engine

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/halcyonquant/backtest/internal/logger"
	"github.com/halcyonquant/backtest/internal/strategy"
	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

const (
	testStep    = int64(60_000)
	testStartTS = int64(1_700_000_000_000)
)

// scriptedStrategy drives the runner from test-provided callbacks.
type scriptedStrategy struct {
	onInit func(ctx strategy.Context) error
	onBar  func(ctx strategy.Context, i int) error
}

func (s *scriptedStrategy) Schema() strategy.Schema {
	return strategy.Schema{ID: "scripted", Name: "Scripted", Version: "v1.0.0"}
}

func (s *scriptedStrategy) OnInit(ctx strategy.Context) error {
	if s.onInit != nil {
		return s.onInit(ctx)
	}

	return nil
}

func (s *scriptedStrategy) OnBar(ctx strategy.Context, i int) error {
	if s.onBar != nil {
		return s.onBar(ctx, i)
	}

	return nil
}

type RunnerTestSuite struct {
	suite.Suite
	runner *Runner
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (suite *RunnerTestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)

	suite.runner = NewRunner(log)
}

// makeBars builds a deterministic rising series: open[i] = 100 + i,
// close[i] = open[i] + 0.5.
func makeBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		open := 100.0 + float64(i)
		bars[i] = types.Bar{
			Time:   testStartTS + int64(i)*testStep,
			Open:   open,
			High:   open + 2,
			Low:    open - 2,
			Close:  open + 0.5,
			Volume: 1000,
		}
	}

	return bars
}

func makeConfig(bars []types.Bar) types.RunConfig {
	return types.RunConfig{
		Symbol:      "BTCUSDT",
		Timeframe:   "1m",
		StartTime:   bars[0].Time,
		EndTime:     bars[len(bars)-1].Time,
		InitialCash: 10000,
		Leverage:    1,
		StrategyID:  "scripted",
	}
}

func (suite *RunnerTestSuite) run(bars []types.Bar, strat strategy.Strategy, cfg types.RunConfig) *Result {
	result, err := suite.runner.Run(context.Background(), bars, strat, nil, cfg, optional.None[ProgressCallback]())
	suite.Require().NoError(err)

	return result
}

func (suite *RunnerTestSuite) TestFillAtNextOpen() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Buy(10)
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Orders, 1)
	order := result.Orders[0]
	suite.Equal(types.OrderStatusFilled, order.Status)
	suite.Equal(bars[0].Time, order.SubmittedAt)
	suite.Equal(0, order.SubmittedBar)
	suite.Equal(bars[1].Time, order.FillTime.Unwrap())
	suite.Equal(bars[1].Open, order.FillPrice.Unwrap())
	suite.Equal(0.0, order.Fee.Unwrap())
}

func (suite *RunnerTestSuite) TestSlippageAndCommission() {
	bars := makeBars(10)
	cfg := makeConfig(bars)
	cfg.SlippageBps = 100 // 1%
	cfg.CommissionBps = 10

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Buy(10)
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Orders, 1)

	wantFill := bars[1].Open * 1.01
	wantFee := 10 * wantFill * 10 / 10000

	suite.InDelta(wantFill, result.Orders[0].FillPrice.Unwrap(), 1e-9)
	suite.InDelta(wantFee, result.Orders[0].Fee.Unwrap(), 1e-9)
}

func (suite *RunnerTestSuite) TestMarginReject() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Buy(1000) // notional ~101000 vs 10000 equity at 1x
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Orders, 1)
	suite.Equal(types.OrderStatusRejected, result.Orders[0].Status)
	suite.Equal(types.OrderReasonMargin, result.Orders[0].Reason.Unwrap())
	suite.Empty(result.Trades)
}

func (suite *RunnerTestSuite) TestInvalidSizeReject() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			switch i {
			case 0:
				ctx.Buy(0)
			case 1:
				ctx.Buy(math.NaN())
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Orders, 2)
	for _, order := range result.Orders {
		suite.Equal(types.OrderStatusRejected, order.Status)
		suite.Equal(types.OrderReasonInvalidSize, order.Reason.Unwrap())
	}
}

func (suite *RunnerTestSuite) TestSameDirectionIgnored() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 || i == 2 || i == 4 {
				ctx.Buy(1)
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	// Only the first buy fills; repeats are ignored, not rejected.
	suite.Require().Len(result.Orders, 1)
	suite.Equal(types.OrderStatusFilled, result.Orders[0].Status)

	warned := 0

	for _, msg := range result.Logs {
		if msg.Level == types.LogLevelWarn && msg.Message == "scaling not supported, buy ignored" {
			warned++
		}
	}

	suite.Equal(1, warned)
}

func (suite *RunnerTestSuite) TestOppositeSideFlattensFullPosition() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			switch i {
			case 0:
				ctx.Buy(10)
			case 2:
				ctx.Sell(999) // requested size is irrelevant, the position flattens
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Orders, 2)
	suite.Equal(10.0, result.Orders[1].Size)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(types.PositionSideLong, trade.Side)
	suite.Equal(10.0, trade.Size)
	suite.Equal(bars[1].Time, trade.EntryTime)
	suite.Equal(bars[3].Time, trade.ExitTime)
	suite.Equal(2, trade.BarsHeld)
	suite.Equal(0.0, result.Portfolio.Equity-result.Portfolio.Cash)
}

func (suite *RunnerTestSuite) TestShortTradeLosesOnRisingPrices() {
	bars := makeBars(10)
	cfg := makeConfig(bars)
	cfg.CloseOnFinish = true

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Sell(10)
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Trades, 1)
	suite.Equal(types.PositionSideShort, result.Trades[0].Side)
	suite.Negative(result.Trades[0].PnL)
}

func (suite *RunnerTestSuite) TestWarmupWarnsOncePerMethod() {
	bars := makeBars(20)
	cfg := makeConfig(bars)
	cfg.StartTime = bars[10].Time
	cfg.WarmupBars = 10

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i < 8 {
				ctx.Buy(1)
				ctx.Flatten()
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Empty(result.Orders)

	var warns []string

	for _, msg := range result.Logs {
		if msg.Level == types.LogLevelWarn {
			warns = append(warns, msg.Message)
		}
	}

	suite.Equal([]string{
		"trading disabled, buy ignored",
		"trading disabled, flatten ignored",
	}, warns)
}

func (suite *RunnerTestSuite) TestEquitySampledOnlyInsideWindow() {
	bars := makeBars(12)
	cfg := makeConfig(bars)
	cfg.StartTime = bars[4].Time
	cfg.EndTime = bars[9].Time

	result := suite.run(bars, makeIdleStrategy(), cfg)

	suite.Require().NotEmpty(result.EquityPoints)
	suite.Equal(bars[4].Time, result.EquityPoints[0].Time)
	suite.Equal(bars[9].Time, result.EquityPoints[len(result.EquityPoints)-1].Time)

	for i := 1; i < len(result.EquityPoints); i++ {
		suite.Greater(result.EquityPoints[i].Time, result.EquityPoints[i-1].Time)
	}
}

func makeIdleStrategy() *scriptedStrategy {
	return &scriptedStrategy{}
}

func (suite *RunnerTestSuite) TestEndBoundaryForcedClose() {
	bars := makeBars(10)
	cfg := makeConfig(bars)
	cfg.EndTime = bars[3].Time
	cfg.CloseOnFinish = true

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Buy(10)
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Equal(types.RunStatusDone, result.Status)
	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Equal(bars[3].Time, trade.ExitTime)
	suite.Equal(bars[3].Close, trade.ExitPrice)
	suite.Equal(1, trade.BarsHeld)

	for _, p := range result.EquityPoints {
		suite.LessOrEqual(p.Time, cfg.EndTime)
	}
}

func (suite *RunnerTestSuite) TestForcedCloseAppliesSlippage() {
	bars := makeBars(10)
	cfg := makeConfig(bars)
	cfg.SlippageBps = 100
	cfg.CloseOnFinish = true

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Buy(10)
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Trades, 1)

	// A long forced close is a sell: it fills below the closing reference.
	wantExit := bars[9].Close * (1 - 100.0/10000)
	suite.InDelta(wantExit, result.Trades[0].ExitPrice, 1e-9)
}

func (suite *RunnerTestSuite) TestKeepOpenLeavesPosition() {
	bars := makeBars(10)
	cfg := makeConfig(bars)
	cfg.CloseOnFinish = false

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Buy(10)
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Equal(types.RunStatusDone, result.Status)
	suite.Empty(result.Trades)
	suite.Len(result.Orders, 1)
}

func (suite *RunnerTestSuite) TestCancellation() {
	bars := makeBars(350)
	cfg := makeConfig(bars)
	cfg.CloseOnFinish = true

	ctx, cancel := context.WithCancel(context.Background())

	strat := &scriptedStrategy{
		onBar: func(sctx strategy.Context, i int) error {
			if i == 0 {
				sctx.Buy(10)
			}

			if i == 150 {
				cancel()
			}

			return nil
		},
	}

	result, err := suite.runner.Run(ctx, bars, strat, nil, cfg, optional.None[ProgressCallback]())
	suite.Require().NoError(err)

	suite.Equal(types.RunStatusCanceled, result.Status)
	suite.Require().Len(result.Trades, 1)

	// The poll window completes bar 199; the position closes at the last
	// processed bar, not the configured end.
	suite.Equal(bars[199].Time, result.Trades[0].ExitTime)
}

func (suite *RunnerTestSuite) TestStrategyPanicBecomesError() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 3 {
				panic("boom")
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Equal(types.RunStatusError, result.Status)
	suite.Contains(result.Error, "strategy panic")
	suite.Contains(result.Error, "boom")
}

func (suite *RunnerTestSuite) TestInitErrorBecomesError() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onInit: func(ctx strategy.Context) error {
			return fmt.Errorf("bad params")
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Equal(types.RunStatusError, result.Status)
	suite.Contains(result.Error, "bad params")
}

func (suite *RunnerTestSuite) TestNotEnoughBars() {
	bars := makeBars(1)
	cfg := makeConfig(bars)

	_, err := suite.runner.Run(context.Background(), bars, makeIdleStrategy(), nil, cfg, optional.None[ProgressCallback]())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNotEnoughBars))
}

func (suite *RunnerTestSuite) TestPercentEquitySizing() {
	bars := makeBars(10)
	cfg := makeConfig(bars)
	cfg.Leverage = 2

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			if i == 0 {
				ctx.Buy(ctx.SizePercentEquity(0.5))
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().Len(result.Orders, 1)

	// Sized against the signal bar's close, not the eventual fill price.
	wantSize := 10000 * 0.5 * 2 / bars[0].Close
	suite.InDelta(wantSize, result.Orders[0].Size, 1e-9)
}

func (suite *RunnerTestSuite) TestFeeAccountingIdentity() {
	bars := makeBars(30)
	cfg := makeConfig(bars)
	cfg.CommissionBps = 10
	cfg.SlippageBps = 5
	cfg.CloseOnFinish = true

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			switch {
			case i%6 == 0:
				ctx.Buy(5)
			case i%6 == 3:
				ctx.Flatten()
			}

			return nil
		},
	}

	result := suite.run(bars, strat, cfg)

	suite.Require().NotEmpty(result.Trades)

	var netPnL float64
	for _, t := range result.Trades {
		netPnL += t.PnL
	}

	// Trade pnl is net of both fees, so it reconciles exactly with cash.
	suite.InDelta(cfg.InitialCash+netPnL, result.Portfolio.Cash, 1e-9)
	suite.InDelta(result.Portfolio.Cash, result.Portfolio.Equity, 1e-9)
}

func (suite *RunnerTestSuite) TestDeterminism() {
	bars := make([]types.Bar, 200)
	for i := range bars {
		base := 100 + 10*math.Sin(float64(i)/7)
		bars[i] = types.Bar{
			Time:   testStartTS + int64(i)*testStep,
			Open:   base,
			High:   base + 1,
			Low:    base - 1,
			Close:  base + 0.3,
			Volume: 500,
		}
	}

	cfg := makeConfig(bars)
	cfg.CommissionBps = 10
	cfg.SlippageBps = 5
	cfg.CloseOnFinish = true

	makeStrat := func() *scriptedStrategy {
		return &scriptedStrategy{
			onBar: func(ctx strategy.Context, i int) error {
				closes := ctx.Close()
				if i < 10 {
					return nil
				}

				if closes[i] > closes[i-5] && ctx.Position().IsFlat() {
					ctx.Buy(ctx.SizePercentEquity(0.9))
				} else if closes[i] < closes[i-5] && !ctx.Position().IsFlat() {
					ctx.Flatten()
				}

				return nil
			},
		}
	}

	first := suite.run(bars, makeStrat(), cfg)
	second := suite.run(bars, makeStrat(), cfg)

	suite.Equal(first.Status, second.Status)
	suite.Equal(first.Orders, second.Orders)
	suite.Equal(first.Trades, second.Trades)
	suite.Equal(first.EquityPoints, second.EquityPoints)
	suite.Equal(first.Portfolio, second.Portfolio)
}

func (suite *RunnerTestSuite) TestNoLookaheadInColumns() {
	bars := makeBars(10)
	cfg := makeConfig(bars)

	strat := &scriptedStrategy{
		onBar: func(ctx strategy.Context, i int) error {
			suite.Len(ctx.Close(), i+1)
			suite.Len(ctx.Time(), i+1)
			suite.Equal(bars[i].Close, ctx.Close()[i])

			return nil
		},
	}

	suite.run(bars, strat, cfg)
}
