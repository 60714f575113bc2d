package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/backlog"
)

// Registry maps job type names to definitions. Each engine owns its own
// registry; there is no package-level default. It is safe for concurrent
// use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def. Names must be unique within a registry.
func (r *Registry) Register(def Definition) error {
	if def == nil || def.Name() == "" {
		return fmt.Errorf("%w: empty name", backlog.ErrInvalidDefinition)
	}
	if def.Policy().Retries < 0 {
		return fmt.Errorf("%w: %q: negative retries", backlog.ErrInvalidDefinition, def.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name()]; exists {
		return fmt.Errorf("%w: %q", backlog.ErrDuplicateJobType, def.Name())
	}
	r.defs[def.Name()] = def
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", backlog.ErrUnknownJobType, name)
	}
	return def, nil
}

// Names returns all registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scheduled returns the definitions that carry a schedule, ordered by name.
func (r *Registry) Scheduled() []Definition {
	var out []Definition
	for _, name := range r.Names() {
		def, err := r.Lookup(name)
		if err == nil && def.Policy().Schedule != nil {
			out = append(out, def)
		}
	}
	return out
}
