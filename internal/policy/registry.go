package policy

import (
	"sync"
)

// Registry holds named policies plus the path→policy mapping, guarded by
// a single RWMutex (the teacher's consistent concurrency idiom for small
// registries read far more often than written).
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	mapping  PathMapping
}

// NewRegistry returns a registry with the built-in policies pre-registered
// (spec §4.5) and an empty path mapping.
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]Policy)}
	for _, p := range builtinPolicies() {
		r.policies[p.Name] = p
	}
	return r
}

// Get returns a registered policy by name.
func (r *Registry) Get(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// GetForPath resolves the policy mapped to path, falling back to the
// named default policy when no mapping entry matches.
func (r *Registry) GetForPath(path, defaultPolicyName string) Policy {
	r.mu.RLock()
	mapping := r.mapping
	r.mu.RUnlock()

	if name, ok := mapping.Resolve(path); ok {
		if p, ok := r.Get(name); ok {
			return p
		}
	}
	p, _ := r.Get(defaultPolicyName)
	return p
}

// Register adds or overwrites a policy. Built-ins may be overridden by a
// configuration-supplied policy of the same name.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name] = p
}

// Remove deletes a registered policy.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, name)
}

// All returns a snapshot of every registered policy.
func (r *Registry) All() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	return out
}

// SetMapping replaces the path→policy mapping wholesale.
func (r *Registry) SetMapping(m PathMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapping = m
}
