package strategy

import (
	"fmt"
	"math"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/halcyonquant/backtest/pkg/errors"
)

// ParamType is the declared type of a strategy parameter.
type ParamType string

const (
	ParamTypeInt    ParamType = "int"
	ParamTypeFloat  ParamType = "float"
	ParamTypeBool   ParamType = "bool"
	ParamTypeChoice ParamType = "choice"
)

// ParamSpec declares one typed, bounded strategy parameter. Numeric params
// require bounds; choice params require options.
type ParamSpec struct {
	Name    string    `yaml:"name" json:"name" validate:"required"`
	Type    ParamType `yaml:"type" json:"type" validate:"required,oneof=int float bool choice"`
	Default any       `yaml:"default" json:"default"`
	// Min/Max bound numeric params, inclusive.
	Min optional.Option[float64] `yaml:"min" json:"min"`
	Max optional.Option[float64] `yaml:"max" json:"max"`
	// Options enumerate the valid values of a choice param.
	Options []string `yaml:"options" json:"options"`
}

// Schema is the identity and parameter surface of a strategy.
type Schema struct {
	ID      string `yaml:"id" json:"id" validate:"required"`
	Name    string `yaml:"name" json:"name" validate:"required"`
	Version string `yaml:"version" json:"version"`
	Params  []ParamSpec `yaml:"params" json:"params"`
}

// Validate rejects malformed schemas before a run starts: missing bounds on
// numeric params, choice params without options, defaults outside their own
// declared domain, and non-semver versions.
func (s *Schema) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidSchema, "invalid strategy schema", err)
	}

	if s.Version != "" {
		if _, err := semver.NewVersion(s.Version); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidSchema, err, "strategy %s: version %q is not valid semver", s.ID, s.Version)
		}
	}

	seen := make(map[string]bool, len(s.Params))

	for _, spec := range s.Params {
		if seen[spec.Name] {
			return errors.Newf(errors.ErrCodeInvalidSchema, "strategy %s: duplicate parameter %q", s.ID, spec.Name)
		}

		seen[spec.Name] = true

		if err := spec.validate(s.ID); err != nil {
			return err
		}
	}

	return nil
}

func (p *ParamSpec) validate(strategyID string) error {
	switch p.Type {
	case ParamTypeInt, ParamTypeFloat:
		if p.Min.IsNone() || p.Max.IsNone() {
			return errors.Newf(errors.ErrCodeInvalidSchema,
				"strategy %s: numeric parameter %q requires min and max bounds", strategyID, p.Name)
		}

		min := p.Min.Unwrap()
		max := p.Max.Unwrap()

		if min > max {
			return errors.Newf(errors.ErrCodeInvalidSchema,
				"strategy %s: parameter %q has min > max", strategyID, p.Name)
		}

		value, err := coerceNumeric(p.Default, p.Type)
		if err != nil {
			return errors.Newf(errors.ErrCodeInvalidSchema,
				"strategy %s: parameter %q default is not %s", strategyID, p.Name, p.Type)
		}

		if value < min || value > max {
			return errors.Newf(errors.ErrCodeInvalidSchema,
				"strategy %s: parameter %q default out of bounds [%v, %v]", strategyID, p.Name, min, max)
		}
	case ParamTypeBool:
		if _, ok := p.Default.(bool); !ok {
			return errors.Newf(errors.ErrCodeInvalidSchema,
				"strategy %s: parameter %q default is not bool", strategyID, p.Name)
		}
	case ParamTypeChoice:
		if len(p.Options) == 0 {
			return errors.Newf(errors.ErrCodeInvalidSchema,
				"strategy %s: choice parameter %q requires options", strategyID, p.Name)
		}

		def, ok := p.Default.(string)
		if !ok || !contains(p.Options, def) {
			return errors.Newf(errors.ErrCodeInvalidSchema,
				"strategy %s: choice parameter %q default not among options", strategyID, p.Name)
		}
	default:
		return errors.Newf(errors.ErrCodeInvalidSchema,
			"strategy %s: parameter %q has unknown type %q", strategyID, p.Name, p.Type)
	}

	return nil
}

// ResolveParams merges overrides onto schema defaults, type-checking and
// bounds-checking every value. Unknown override keys are rejected.
func (s Schema) ResolveParams(overrides map[string]any) (map[string]any, error) {
	known := make(map[string]*ParamSpec, len(s.Params))
	for i := range s.Params {
		known[s.Params[i].Name] = &s.Params[i]
	}

	for name := range overrides {
		if _, ok := known[name]; !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "strategy %s: unknown parameter %q", s.ID, name)
		}
	}

	resolved := make(map[string]any, len(s.Params))

	for _, spec := range s.Params {
		raw := spec.Default
		if v, ok := overrides[spec.Name]; ok {
			raw = v
		}

		value, err := spec.resolve(s.ID, raw)
		if err != nil {
			return nil, err
		}

		resolved[spec.Name] = value
	}

	return resolved, nil
}

func (p *ParamSpec) resolve(strategyID string, raw any) (any, error) {
	switch p.Type {
	case ParamTypeInt, ParamTypeFloat:
		value, err := coerceNumeric(raw, p.Type)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeInvalidType,
				"strategy %s: parameter %q expects %s, got %T", strategyID, p.Name, p.Type, raw)
		}

		if value < p.Min.Unwrap() || value > p.Max.Unwrap() {
			return nil, errors.Newf(errors.ErrCodeParameterOutOfBounds,
				"strategy %s: parameter %q value %v out of bounds [%v, %v]",
				strategyID, p.Name, value, p.Min.Unwrap(), p.Max.Unwrap())
		}

		if p.Type == ParamTypeInt {
			return int(value), nil
		}

		return value, nil
	case ParamTypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidType,
				"strategy %s: parameter %q expects bool, got %T", strategyID, p.Name, raw)
		}

		return b, nil
	case ParamTypeChoice:
		choice, ok := raw.(string)
		if !ok || !contains(p.Options, choice) {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter,
				"strategy %s: parameter %q value %v not among options %v", strategyID, p.Name, raw, p.Options)
		}

		return choice, nil
	}

	return nil, errors.Newf(errors.ErrCodeInvalidType, "strategy %s: parameter %q has unknown type", strategyID, p.Name)
}

func coerceNumeric(raw any, paramType ParamType) (float64, error) {
	var value float64

	switch v := raw.(type) {
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case float64:
		value = v
	case float32:
		value = float64(v)
	default:
		return 0, fmt.Errorf("not numeric: %T", raw)
	}

	if paramType == ParamTypeInt && value != math.Trunc(value) {
		return 0, fmt.Errorf("not an integer: %v", raw)
	}

	return value, nil
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}

	return false
}
