package bridge

import (
	"sort"
	"sync"

	"github.com/Iron-Ham/pixbridge/internal/errors"
)

// Registry tracks which bridge holds each exclusive native module.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	owners map[string]string // module ID -> bridge ID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]string)}
}

// Claim records owner as the holder of module. Claiming a module already
// held by the same owner succeeds.
func (r *Registry) Claim(module, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.owners[module]; ok && cur != owner {
		return errors.Wrapf(errors.ErrModuleInUse, "module %q held by %s", module, cur)
	}
	r.owners[module] = owner
	return nil
}

// Release frees module if owner holds it.
func (r *Registry) Release(module, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[module] == owner {
		delete(r.owners, module)
	}
}

// Owner returns the bridge holding module.
func (r *Registry) Owner(module string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[module]
	return owner, ok
}

// Modules returns the claimed module IDs, sorted.
func (r *Registry) Modules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.owners))
	for m := range r.owners {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
