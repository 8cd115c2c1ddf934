package engine

import (
	"math"

	"github.com/halcyonquant/backtest/internal/types"
)

// FillPrice applies side-aware fixed basis-point slippage to a reference
// price. Buys fill above the reference, sells below.
func FillPrice(reference float64, side types.Side, slippageBps float64) float64 {
	switch side {
	case types.SideBuy:
		return reference * (1 + slippageBps/10000)
	case types.SideSell:
		return reference * (1 - slippageBps/10000)
	default:
		return reference
	}
}

// CommissionFee computes the commission charged on a fill:
// |size| * fillPrice * commissionBps / 10000.
func CommissionFee(size, fillPrice, commissionBps float64) float64 {
	return math.Abs(size) * fillPrice * commissionBps / 10000
}

// CanFill performs the margin guard: a fill requiring
// |size| * fillPrice / leverage beyond current equity is rejected.
func CanFill(size, fillPrice, equity, leverage float64) bool {
	requiredMargin := math.Abs(size) * fillPrice / leverage

	return requiredMargin <= equity
}
