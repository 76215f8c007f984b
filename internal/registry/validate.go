package registry

import (
	"fmt"
	"math"

	"github.com/doeshing/merchat/internal/domain"
)

// ValidateParams checks params against the schema and returns the accepted
// set. Validation is strict: unknown parameters are rejected and values are
// never coerced across types. The one concession is JSON's number model,
// where a whole-valued float64 satisfies an int field.
func ValidateParams(schema domain.ParameterSchema, params map[string]any) (map[string]any, error) {
	accepted := make(map[string]any, len(params))
	for name := range params {
		if _, known := schema.Fields[name]; !known {
			return nil, fmt.Errorf("%w: unknown parameter %q", domain.ErrValidation, name)
		}
	}
	for name, spec := range schema.Fields {
		value, present := params[name]
		if !present {
			if spec.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", domain.ErrValidation, name)
			}
			continue
		}
		checked, err := checkValue(name, spec, value)
		if err != nil {
			return nil, err
		}
		accepted[name] = checked
	}
	return accepted, nil
}

func checkValue(name string, spec domain.ParamSpec, value any) (any, error) {
	switch spec.Type {
	case domain.ParamString:
		s, ok := value.(string)
		if !ok {
			return nil, typeError(name, spec.Type, value)
		}
		if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
			return nil, fmt.Errorf("%w: parameter %q must be one of %v, got %q", domain.ErrValidation, name, spec.Enum, s)
		}
		return s, nil
	case domain.ParamInt:
		n, ok := asInt(value)
		if !ok {
			return nil, typeError(name, spec.Type, value)
		}
		if err := checkRange(name, spec, float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case domain.ParamNumber:
		f, ok := asFloat(value)
		if !ok {
			return nil, typeError(name, spec.Type, value)
		}
		if err := checkRange(name, spec, f); err != nil {
			return nil, err
		}
		return f, nil
	case domain.ParamBool:
		b, ok := value.(bool)
		if !ok {
			return nil, typeError(name, spec.Type, value)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: parameter %q has unsupported type %q", domain.ErrValidation, name, spec.Type)
	}
}

func asInt(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func checkRange(name string, spec domain.ParamSpec, v float64) error {
	if spec.Minimum != nil && v < *spec.Minimum {
		return fmt.Errorf("%w: parameter %q below minimum %v", domain.ErrValidation, name, *spec.Minimum)
	}
	if spec.Maximum != nil && v > *spec.Maximum {
		return fmt.Errorf("%w: parameter %q above maximum %v", domain.ErrValidation, name, *spec.Maximum)
	}
	return nil
}

func typeError(name string, want domain.ParamType, got any) error {
	return fmt.Errorf("%w: parameter %q expects %s, got %T", domain.ErrValidation, name, want, got)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
