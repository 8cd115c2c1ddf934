package report

import (
	"math"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/halcyonquant/backtest/internal/types"
)

const reportStep = int64(60_000)

type ReportTestSuite struct {
	suite.Suite
}

func TestReportSuite(t *testing.T) {
	suite.Run(t, new(ReportTestSuite))
}

func sampleTrades() []types.Trade {
	return []types.Trade{
		{
			Side:       types.PositionSideLong,
			Size:       2,
			EntryTime:  reportStep,
			EntryPrice: 100,
			ExitTime:   4 * reportStep,
			ExitPrice:  110,
			PnL:        19.5,
			FeeTotal:   0.5,
			BarsHeld:   3,
		},
		{
			Side:       types.PositionSideShort,
			Size:       2,
			EntryTime:  5 * reportStep,
			EntryPrice: 110,
			ExitTime:   6 * reportStep,
			ExitPrice:  115,
			PnL:        -10.4,
			FeeTotal:   0.4,
			BarsHeld:   1,
		},
		{
			Side:       types.PositionSideLong,
			Size:       1,
			EntryTime:  7 * reportStep,
			EntryPrice: 115,
			ExitTime:   9 * reportStep,
			ExitPrice:  120,
			PnL:        4.9,
			FeeTotal:   0.1,
			BarsHeld:   2,
		},
	}
}

func sampleEquity() []types.EquityPoint {
	return []types.EquityPoint{
		{Time: 0, Equity: 10000, Drawdown: 0},
		{Time: reportStep, Equity: 10200, Drawdown: 0},
		{Time: 2 * reportStep, Equity: 10098, Drawdown: 0.01},
		{Time: 3 * reportStep, Equity: 10500, Drawdown: 0},
	}
}

func (suite *ReportTestSuite) TestEmptyInputs() {
	r := Build("run-1", nil, nil)

	suite.Equal("run-1", r.RunID)
	suite.Zero(r.TradeCount)
	suite.Zero(r.TotalReturnPct)
	suite.Empty(r.EquityCurve)
	suite.Empty(r.Markers)
	suite.False(r.HasProfitFactor)
}

func (suite *ReportTestSuite) TestEquityStats() {
	r := Build("run-1", nil, sampleEquity())

	suite.InDelta(10000.0, r.StartEquity, 1e-9)
	suite.InDelta(10500.0, r.EndEquity, 1e-9)
	suite.InDelta(5.0, r.TotalReturnPct, 1e-9)
	suite.InDelta(1.0, r.MaxDrawdownPct, 1e-9)
	suite.Len(r.EquityTimes, 4)
	suite.Len(r.EquityCurve, 4)
	suite.Len(r.DrawdownCurve, 4)
}

func (suite *ReportTestSuite) TestTradeStats() {
	r := Build("run-1", sampleTrades(), nil)

	suite.Equal(3, r.TradeCount)
	suite.Equal(2, r.WinCount)
	suite.Equal(1, r.LossCount)
	suite.InDelta(66.6667, r.WinRatePct, 1e-4)
	suite.InDelta(14.0, r.TotalPnL, 1e-9)
	suite.InDelta(1.0, r.TotalFees, 1e-9)
	suite.InDelta(14.0/3.0, r.AvgTradePnL, 1e-9)
	suite.InDelta(2.0, r.AvgBarsHeld, 1e-9)

	suite.True(r.HasProfitFactor)
	suite.InDelta((19.5+4.9)/10.4, r.ProfitFactor, 1e-9)
}

func (suite *ReportTestSuite) TestProfitFactorUndefinedWithoutLosses() {
	trades := sampleTrades()[:1]

	r := Build("run-1", trades, nil)

	suite.False(r.HasProfitFactor)
	suite.True(math.IsInf(r.ProfitFactor, 1))
}

func (suite *ReportTestSuite) TestProfitFactorZeroWithOnlyLosses() {
	trades := sampleTrades()[1:2]

	r := Build("run-1", trades, nil)

	suite.True(r.HasProfitFactor)
	suite.Zero(r.ProfitFactor)
}

func (suite *ReportTestSuite) TestMarkers() {
	trades := sampleTrades()

	r := Build("run-1", trades, nil)
	suite.Require().Len(r.Markers, 6)

	entry := r.Markers[0]
	suite.True(entry.Entry)
	suite.Equal(trades[0].EntryTime, entry.Time)
	suite.InDelta(trades[0].EntryPrice, entry.Price, 1e-9)
	suite.Zero(entry.PnL)

	exit := r.Markers[1]
	suite.False(exit.Entry)
	suite.Equal(trades[0].ExitTime, exit.Time)
	suite.InDelta(trades[0].PnL, exit.PnL, 1e-9)
	suite.Equal(types.PositionSideLong, exit.Side)

	suite.Equal(types.PositionSideShort, r.Markers[2].Side)
}

func (suite *ReportTestSuite) TestDeterministicRebuild() {
	first := Build("run-1", sampleTrades(), sampleEquity())
	second := Build("run-1", sampleTrades(), sampleEquity())

	suite.Equal(first, second)
}
