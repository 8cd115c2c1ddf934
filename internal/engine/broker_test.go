package engine

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/halcyonquant/backtest/internal/types"
)

type BrokerTestSuite struct {
	suite.Suite
}

func TestBrokerSuite(t *testing.T) {
	suite.Run(t, new(BrokerTestSuite))
}

func (suite *BrokerTestSuite) TestFillPriceSideAware() {
	suite.InDelta(101.0, FillPrice(100, types.SideBuy, 100), 1e-9)
	suite.InDelta(99.0, FillPrice(100, types.SideSell, 100), 1e-9)
	suite.InDelta(100.0, FillPrice(100, types.SideBuy, 0), 1e-9)
	suite.InDelta(100.0, FillPrice(100, types.SideSell, 0), 1e-9)
}

func (suite *BrokerTestSuite) TestCommissionFee() {
	suite.InDelta(0.1, CommissionFee(10, 100, 1), 1e-9)
	// Fee is charged on absolute size.
	suite.InDelta(0.1, CommissionFee(-10, 100, 1), 1e-9)
	suite.InDelta(0.0, CommissionFee(10, 100, 0), 1e-9)
}

func (suite *BrokerTestSuite) TestCanFill() {
	// required margin = |size| * price / leverage
	suite.True(CanFill(10, 100, 1000, 1))
	suite.False(CanFill(10, 100, 999, 1))
	suite.True(CanFill(10, 100, 500, 2))
	suite.True(CanFill(-10, 100, 1000, 1))
	suite.False(CanFill(-10, 100, 999, 1))
}
