// Package registry holds the declarative action catalog. The live set of
// definitions is an immutable snapshot behind an atomic pointer: readers
// never lock, and a reload either swaps in a fully validated replacement or
// leaves the current snapshot untouched.
package registry

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/doeshing/merchat/internal/domain"
)

type snapshot struct {
	actions map[string]domain.ActionDefinition
	names   []string
	version uint64
}

// Registry is the concurrency-safe action catalog.
type Registry struct {
	current atomic.Pointer[snapshot]
	version atomic.Uint64
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{actions: map[string]domain.ActionDefinition{}})
	return r
}

// Replace validates defs and atomically swaps them in. On any validation
// failure nothing changes and the error lists every offending definition.
func (r *Registry) Replace(defs []domain.ActionDefinition) error {
	next := &snapshot{
		actions: make(map[string]domain.ActionDefinition, len(defs)),
		names:   make([]string, 0, len(defs)),
	}
	var errs []error
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := next.actions[def.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate action %q", domain.ErrValidation, def.Name))
			continue
		}
		next.actions[def.Name] = def
		next.names = append(next.names, def.Name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("registry rejected %d definition(s): %w", len(errs), joinErrors(errs))
	}
	sort.Strings(next.names)
	next.version = r.version.Add(1)
	r.current.Store(next)
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (domain.ActionDefinition, bool) {
	def, ok := r.current.Load().actions[name]
	return def, ok
}

// Available filters the catalog to actions usable in the given mode with
// the given environment capabilities. Results are sorted by name.
func (r *Registry) Available(mode domain.Mode, caps []domain.Capability) []domain.ActionDefinition {
	capSet := make(map[domain.Capability]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}
	snap := r.current.Load()
	var out []domain.ActionDefinition
	for _, name := range snap.names {
		def := snap.actions[name]
		if !domain.Applies(def.Modes, mode) {
			continue
		}
		if !hasAll(capSet, def.RequiredCapabilities) {
			continue
		}
		out = append(out, def)
	}
	return out
}

// Names returns every registered action name, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.current.Load().names...)
}

// Version increments on every successful Replace.
func (r *Registry) Version() uint64 {
	return r.current.Load().version
}

func hasAll(have map[domain.Capability]struct{}, want []domain.Capability) bool {
	for _, c := range want {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

func joinErrors(errs []error) error {
	err := errs[0]
	for _, next := range errs[1:] {
		err = fmt.Errorf("%w; %w", err, next)
	}
	return err
}
