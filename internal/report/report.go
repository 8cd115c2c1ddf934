package report

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/halcyonquant/backtest/internal/types"
)

// Marker is a chart annotation for a trade entry or exit.
type Marker struct {
	Time  int64
	Price float64
	Side  types.PositionSide
	// Entry is true for the opening marker of a trade, false for the exit.
	Entry bool
	PnL   float64
}

// Report is the presentation view of one run, derived entirely from the
// persisted trades and equity curve. Building it twice from the same run
// yields identical output.
type Report struct {
	RunID string

	TotalReturnPct  float64
	MaxDrawdownPct  float64
	TradeCount      int
	WinCount        int
	LossCount       int
	WinRatePct      float64
	ProfitFactor    float64
	TotalPnL        float64
	TotalFees       float64
	AvgTradePnL     float64
	AvgBarsHeld     float64
	StartEquity     float64
	EndEquity       float64
	EquityTimes     []int64
	EquityCurve     []float64
	DrawdownCurve   []float64
	Trades          []types.Trade
	Markers         []Marker
	HasProfitFactor bool
}

// Build derives a report from a run's trades and equity curve. The inputs
// are the persisted rows, so a report can be rebuilt for any stored run
// without re-executing it.
func Build(runID string, trades []types.Trade, equityPoints []types.EquityPoint) *Report {
	r := &Report{
		RunID:      runID,
		TradeCount: len(trades),
		Trades:     trades,
	}

	r.buildEquity(equityPoints)
	r.buildTradeStats(trades)
	r.Markers = buildMarkers(trades)

	return r
}

func (r *Report) buildEquity(points []types.EquityPoint) {
	if len(points) == 0 {
		return
	}

	r.EquityTimes = make([]int64, len(points))
	r.EquityCurve = make([]float64, len(points))
	r.DrawdownCurve = make([]float64, len(points))

	maxDrawdown := 0.0

	for i, p := range points {
		r.EquityTimes[i] = p.Time
		r.EquityCurve[i] = p.Equity
		r.DrawdownCurve[i] = p.Drawdown

		if p.Drawdown > maxDrawdown {
			maxDrawdown = p.Drawdown
		}
	}

	r.StartEquity = points[0].Equity
	r.EndEquity = points[len(points)-1].Equity
	r.MaxDrawdownPct = toPct(maxDrawdown)

	if r.StartEquity != 0 {
		r.TotalReturnPct = toPct((r.EndEquity - r.StartEquity) / r.StartEquity)
	}
}

func (r *Report) buildTradeStats(trades []types.Trade) {
	if len(trades) == 0 {
		return
	}

	var grossProfit, grossLoss, totalPnL, totalFees float64

	var barsHeld int

	for _, t := range trades {
		totalPnL += t.PnL
		totalFees += t.FeeTotal
		barsHeld += t.BarsHeld

		if t.PnL > 0 {
			r.WinCount++
			grossProfit += t.PnL
		} else {
			r.LossCount++
			grossLoss += -t.PnL
		}
	}

	r.TotalPnL = totalPnL
	r.TotalFees = totalFees
	r.WinRatePct = toPct(float64(r.WinCount) / float64(len(trades)))
	r.AvgTradePnL = totalPnL / float64(len(trades))
	r.AvgBarsHeld = float64(barsHeld) / float64(len(trades))

	// Profit factor is undefined with no losing trades; flag it rather
	// than reporting infinity.
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
		r.HasProfitFactor = true
	} else if grossProfit > 0 {
		r.ProfitFactor = math.Inf(1)
	}
}

func buildMarkers(trades []types.Trade) []Marker {
	if len(trades) == 0 {
		return nil
	}

	markers := make([]Marker, 0, len(trades)*2)

	for _, t := range trades {
		markers = append(markers,
			Marker{Time: t.EntryTime, Price: t.EntryPrice, Side: t.Side, Entry: true},
			Marker{Time: t.ExitTime, Price: t.ExitPrice, Side: t.Side, Entry: false, PnL: t.PnL},
		)
	}

	return markers
}

// toPct converts a ratio to a percentage rounded to 4 decimal places.
// Rounding happens at the presentation boundary only; engine accounting
// stays in raw float64.
func toPct(ratio float64) float64 {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}

	pct, _ := decimal.NewFromFloat(ratio * 100).Round(4).Float64()

	return pct
}
