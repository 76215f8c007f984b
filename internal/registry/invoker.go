package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/doeshing/merchat/internal/cache"
	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Invoker executes registered actions with the full pipeline: mode and
// capability gating, strict parameter validation, pre-processing, cache
// lookup, execution, and post-processing.
type Invoker struct {
	registry *Registry
	cache    *cache.Tiered
	caps     []domain.Capability
	logger   ports.Logger
}

// NewInvoker wires an invoker. cache may be nil to disable memoization.
func NewInvoker(registry *Registry, tiered *cache.Tiered, caps []domain.Capability, logger ports.Logger) *Invoker {
	return &Invoker{registry: registry, cache: tiered, caps: caps, logger: logger}
}

// cachedResult is the JSON shape stored in the cache. Commands are not
// cached; a cached mutation replay would be a correctness bug, and
// cacheable actions never emit commands.
type cachedResult struct {
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data,omitempty"`
}

// Invoke runs one action. Errors come back tagged with their ErrorKind.
func (v *Invoker) Invoke(ctx context.Context, name string, params map[string]any, actx domain.ActionContext) (domain.ActionResult, error) {
	def, ok := v.registry.Get(name)
	if !ok {
		return domain.ActionResult{}, domain.NewEngineError(domain.ErrorKindValidation, name,
			fmt.Errorf("%w: unknown action %q", domain.ErrValidation, name))
	}
	if !domain.Applies(def.Modes, actx.Mode) {
		return domain.ActionResult{}, domain.NewEngineError(domain.ErrorKindValidation, name,
			fmt.Errorf("%w: action %q is not available in %s mode", domain.ErrValidation, name, actx.Mode))
	}
	if missing := v.missingCapability(def); missing != "" {
		return domain.ActionResult{}, domain.NewEngineError(domain.ErrorKindCapability, name,
			fmt.Errorf("%w: action %q needs %s", domain.ErrCapabilityUnavailable, name, missing))
	}

	accepted, err := ValidateParams(def.Parameters, params)
	if err != nil {
		return domain.ActionResult{}, domain.NewEngineError(domain.ErrorKindValidation, name, err)
	}
	if def.PreProcess != nil {
		accepted = def.PreProcess(actx.Mode, accepted)
	}

	result, err := v.execute(ctx, def, accepted, actx)
	if err != nil {
		return domain.ActionResult{}, domain.NewEngineError(domain.Classify(err), name, err)
	}
	if def.PostProcess != nil {
		result = def.PostProcess(actx.Mode, result)
	}
	return result, nil
}

func (v *Invoker) execute(ctx context.Context, def domain.ActionDefinition, params map[string]any, actx domain.ActionContext) (domain.ActionResult, error) {
	if v.cache == nil || !def.CachePolicy.Cacheable() {
		return def.Execute(ctx, params, actx)
	}

	key := cache.Key(def.Name, actx.Mode, params)
	value, hit, err := v.cache.GetOrLoad(ctx, key, def.CachePolicy.TTL, func(ctx context.Context) ([]byte, error) {
		result, err := def.Execute(ctx, params, actx)
		if err != nil {
			return nil, err
		}
		if len(result.Commands) > 0 {
			return nil, fmt.Errorf("cacheable action %q emitted commands", def.Name)
		}
		return json.Marshal(cachedResult{Summary: result.Summary, Data: result.Data})
	})
	if err != nil {
		return domain.ActionResult{}, err
	}

	var cached cachedResult
	if err := json.Unmarshal(value, &cached); err != nil {
		return domain.ActionResult{}, fmt.Errorf("decode cached result for %q: %w", def.Name, err)
	}
	return domain.ActionResult{Summary: cached.Summary, Data: cached.Data, FromCache: hit}, nil
}

// InvalidateCart drops cart-derived cache entries after a cart mutation.
// Catalog and inventory entries survive; only totals and pricing derived
// from cart contents go stale.
func (v *Invoker) InvalidateCart(ctx context.Context) {
	if v.cache == nil {
		return
	}
	for _, action := range []string{"get_pricing", "bulk_pricing"} {
		if err := v.cache.Invalidate(ctx, cache.Prefix(action)); err != nil {
			v.logger.Warn("cart cache invalidation failed", map[string]interface{}{
				"action": action, "error": err.Error(),
			})
		}
	}
}

// ClearCache drops every cached action result from both tiers.
func (v *Invoker) ClearCache(ctx context.Context) error {
	if v.cache == nil {
		return nil
	}
	return v.cache.Invalidate(ctx, "")
}

// CacheStats exposes tier counters for diagnostics.
func (v *Invoker) CacheStats() domain.CacheStats {
	if v.cache == nil {
		return domain.CacheStats{}
	}
	return v.cache.Stats()
}

func (v *Invoker) missingCapability(def domain.ActionDefinition) domain.Capability {
	have := make(map[domain.Capability]struct{}, len(v.caps))
	for _, c := range v.caps {
		have[c] = struct{}{}
	}
	for _, want := range def.RequiredCapabilities {
		if _, ok := have[want]; !ok {
			return want
		}
	}
	return ""
}
