package strategy

import (
	"testing"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/halcyonquant/backtest/pkg/errors"
)

// stubStrategy is a minimal strategy with a test-controlled schema.
type stubStrategy struct {
	schema Schema
}

func (s *stubStrategy) Schema() Schema                 { return s.schema }
func (s *stubStrategy) OnInit(ctx Context) error       { return nil }
func (s *stubStrategy) OnBar(ctx Context, i int) error { return nil }

type RegistryTestSuite struct {
	suite.Suite
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.registry = NewRegistry()
}

func stub(id, name string) *stubStrategy {
	return &stubStrategy{schema: Schema{ID: id, Name: name, Version: "v1.0.0"}}
}

func (suite *RegistryTestSuite) TestRegisterAndGet() {
	suite.Require().NoError(suite.registry.Register(stub("alpha", "Alpha")))

	s, err := suite.registry.Get("alpha")
	suite.Require().NoError(err)
	suite.Equal("alpha", s.Schema().ID)
}

func (suite *RegistryTestSuite) TestGetUnknown() {
	_, err := suite.registry.Get("missing")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStrategyNotFound))
}

func (suite *RegistryTestSuite) TestInvalidSchemaRejected() {
	bad := &stubStrategy{schema: Schema{ID: "", Name: "Nameless"}}

	err := suite.registry.Register(bad)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidSchema))
}

func (suite *RegistryTestSuite) TestInvalidReplacementKeepsLastGood() {
	good := stub("alpha", "Alpha")
	suite.Require().NoError(suite.registry.Register(good))

	bad := &stubStrategy{schema: Schema{
		ID:   "alpha",
		Name: "Alpha v2",
		Params: []ParamSpec{{
			Name:    "period",
			Type:    ParamTypeInt,
			Default: 14,
			Min:     optional.None[float64](),
			Max:     optional.None[float64](),
		}},
	}}

	suite.Require().Error(suite.registry.Register(bad))

	// The previous valid definition stays bound.
	s, err := suite.registry.Get("alpha")
	suite.Require().NoError(err)
	suite.Equal("Alpha", s.Schema().Name)
}

func (suite *RegistryTestSuite) TestVersionGateRejectsFutureMajor() {
	future := &stubStrategy{schema: Schema{ID: "future", Name: "Future", Version: "v99.0.0"}}

	err := suite.registry.Register(future)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeVersionMismatch))
}

func (suite *RegistryTestSuite) TestListSortedByName() {
	suite.Require().NoError(suite.registry.Register(stub("b", "bravo")))
	suite.Require().NoError(suite.registry.Register(stub("a", "Alpha")))
	suite.Require().NoError(suite.registry.Register(stub("c", "Charlie")))

	schemas := suite.registry.List()
	suite.Require().Len(schemas, 3)
	suite.Equal("Alpha", schemas[0].Name)
	suite.Equal("bravo", schemas[1].Name)
	suite.Equal("Charlie", schemas[2].Name)
}

func (suite *RegistryTestSuite) TestRemove() {
	suite.Require().NoError(suite.registry.Register(stub("alpha", "Alpha")))
	suite.Require().NoError(suite.registry.Remove("alpha"))
	suite.Error(suite.registry.Remove("alpha"))
}
