package domain

import (
	"context"
	"fmt"
	"time"
)

// Capability names an environment feature an action requires.
type Capability string

const (
	CapabilityUnifiedDataAccess Capability = "UNIFIED_DATA_ACCESS"
	CapabilityBulkPricing       Capability = "BULK_PRICING_EXTENSION"
)

// ParamType enumerates the strict parameter types actions accept.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
)

// ParamSpec describes one action parameter. Validation is strict: values of
// the wrong type are rejected, never coerced.
type ParamSpec struct {
	Type        ParamType `yaml:"type"`
	Description string    `yaml:"description"`
	Required    bool      `yaml:"required"`
	Enum        []string  `yaml:"enum,omitempty"`
	Minimum     *float64  `yaml:"minimum,omitempty"`
	Maximum     *float64  `yaml:"maximum,omitempty"`
}

// ParameterSchema is the typed shape of an action's parameters.
type ParameterSchema struct {
	Fields map[string]ParamSpec `yaml:"fields"`
}

// CachePolicy controls memoization of an action's results. A zero TTL means
// the action is never cached (mutations must use zero).
type CachePolicy struct {
	TTL time.Duration
}

// Cacheable reports whether results may be served from cache.
func (p CachePolicy) Cacheable() bool { return p.TTL > 0 }

// ActionContext carries per-turn data into an executor. Executors receive
// everything explicitly; there is no ambient state lookup.
type ActionContext struct {
	SessionID string
	Mode      Mode
	Enriched  EnrichedContext
	Cart      CartSnapshot
}

// ActionResult is the outcome of one action execution. Data feeds the model
// and the action-result event; Commands carry any state mutations the action
// requests (e.g. a cart merge).
type ActionResult struct {
	Summary   string         `json:"summary"`
	Data      map[string]any `json:"data,omitempty"`
	Commands  []Command      `json:"-"`
	FromCache bool           `json:"-"`
}

// ExecutorFunc runs an action with validated parameters.
type ExecutorFunc func(ctx context.Context, params map[string]any, actx ActionContext) (ActionResult, error)

// PreProcessFunc may rewrite validated parameters before execution and cache
// lookup, e.g. bucketing a quantity into a pricing tier.
type PreProcessFunc func(mode Mode, params map[string]any) map[string]any

// PostProcessFunc may rewrite the result after execution, e.g. redacting
// wholesale prices outside B2B.
type PostProcessFunc func(mode Mode, result ActionResult) ActionResult

// ActionDefinition is a declarative commerce capability. Definitions are
// immutable after registration; a configuration reload swaps the whole
// registry snapshot atomically.
type ActionDefinition struct {
	Name                 string
	Description          string
	Modes                []Mode
	RequiredCapabilities []Capability
	Parameters           ParameterSchema
	CachePolicy          CachePolicy
	Execute              ExecutorFunc
	PreProcess           PreProcessFunc
	PostProcess          PostProcessFunc
}

// Validate checks structural invariants at registration time.
func (d *ActionDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: action name is empty", ErrValidation)
	}
	if d.Description == "" {
		return fmt.Errorf("%w: action %s has no description", ErrValidation, d.Name)
	}
	if d.Execute == nil {
		return fmt.Errorf("%w: action %s has no executor", ErrValidation, d.Name)
	}
	for name, spec := range d.Parameters.Fields {
		switch spec.Type {
		case ParamString, ParamInt, ParamNumber, ParamBool:
		default:
			return fmt.Errorf("%w: action %s parameter %s has unknown type %q", ErrValidation, d.Name, name, spec.Type)
		}
		if len(spec.Enum) > 0 && spec.Type != ParamString {
			return fmt.Errorf("%w: action %s parameter %s: enum requires string type", ErrValidation, d.Name, name)
		}
	}
	return nil
}
