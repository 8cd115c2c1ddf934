package strategy

import (
	"testing"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/halcyonquant/backtest/pkg/errors"
)

type SchemaTestSuite struct {
	suite.Suite
}

func TestSchemaSuite(t *testing.T) {
	suite.Run(t, new(SchemaTestSuite))
}

func validSchema() Schema {
	return Schema{
		ID:      "demo",
		Name:    "Demo",
		Version: "v1.0.0",
		Params: []ParamSpec{
			{
				Name:    "period",
				Type:    ParamTypeInt,
				Default: 14,
				Min:     optional.Some(2.0),
				Max:     optional.Some(100.0),
			},
			{
				Name:    "threshold",
				Type:    ParamTypeFloat,
				Default: 0.5,
				Min:     optional.Some(0.0),
				Max:     optional.Some(1.0),
			},
			{
				Name:    "long_only",
				Type:    ParamTypeBool,
				Default: true,
			},
			{
				Name:    "mode",
				Type:    ParamTypeChoice,
				Default: "close",
				Options: []string{"close", "open"},
			},
		},
	}
}

func (suite *SchemaTestSuite) TestValidSchemaPasses() {
	schema := validSchema()
	suite.NoError(schema.Validate())
}

func (suite *SchemaTestSuite) TestNumericParamRequiresBounds() {
	schema := validSchema()
	schema.Params[0].Min = optional.None[float64]()

	err := schema.Validate()
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidSchema))
}

func (suite *SchemaTestSuite) TestDefaultMustBeInBounds() {
	schema := validSchema()
	schema.Params[0].Default = 500

	suite.Error(schema.Validate())
}

func (suite *SchemaTestSuite) TestChoiceRequiresOptions() {
	schema := validSchema()
	schema.Params[3].Options = nil

	suite.Error(schema.Validate())
}

func (suite *SchemaTestSuite) TestDuplicateParamRejected() {
	schema := validSchema()
	schema.Params = append(schema.Params, schema.Params[0])

	suite.Error(schema.Validate())
}

func (suite *SchemaTestSuite) TestBadSemverRejected() {
	schema := validSchema()
	schema.Version = "not-a-version"

	suite.Error(schema.Validate())
}

func (suite *SchemaTestSuite) TestResolveParamsFillsDefaults() {
	schema := validSchema()

	resolved, err := schema.ResolveParams(nil)
	suite.Require().NoError(err)

	suite.Equal(14, resolved["period"])
	suite.Equal(0.5, resolved["threshold"])
	suite.Equal(true, resolved["long_only"])
	suite.Equal("close", resolved["mode"])
}

func (suite *SchemaTestSuite) TestResolveParamsOverrides() {
	schema := validSchema()

	resolved, err := schema.ResolveParams(map[string]any{
		"period": 21,
		"mode":   "open",
	})
	suite.Require().NoError(err)
	suite.Equal(21, resolved["period"])
	suite.Equal("open", resolved["mode"])
}

func (suite *SchemaTestSuite) TestResolveParamsRejectsUnknownKey() {
	schema := validSchema()

	_, err := schema.ResolveParams(map[string]any{"bogus": 1})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *SchemaTestSuite) TestResolveParamsBoundsCheck() {
	schema := validSchema()

	_, err := schema.ResolveParams(map[string]any{"period": 1000})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeParameterOutOfBounds))
}

func (suite *SchemaTestSuite) TestResolveParamsTypeCheck() {
	schema := validSchema()

	_, err := schema.ResolveParams(map[string]any{"period": "fourteen"})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidType))

	// An int param accepts a whole float but rejects a fractional one.
	resolved, err := schema.ResolveParams(map[string]any{"period": 21.0})
	suite.Require().NoError(err)
	suite.Equal(21, resolved["period"])

	_, err = schema.ResolveParams(map[string]any{"period": 21.5})
	suite.Error(err)
}
