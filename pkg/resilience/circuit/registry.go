package circuit

import (
	"sort"
	"sync"
)

// Registry holds one breaker per dependency name. It is created by the caller and injected
// wherever breakers are needed; there is no process-wide instance.
type Registry struct {
	mu        sync.RWMutex
	config    Config
	overrides map[string]Config
	breakers  map[string]*Breaker
}

// NewRegistry creates a registry whose breakers default to config.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:    config,
		overrides: make(map[string]Config),
		breakers:  make(map[string]*Breaker),
	}
}

// Configure sets the config for a dependency before its breaker is first used.
func (r *Registry) Configure(name string, config Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = config
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	config, ok := r.overrides[name]
	if !ok {
		config = r.config
	}
	b = New(name, config)
	r.breakers[name] = b
	return b
}

// Names returns the registered dependency names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns lock-free snapshots of every registered breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
