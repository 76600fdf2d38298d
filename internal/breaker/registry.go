package breaker

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds exactly one Breaker per provider name. Breakers are created
// lazily with the registry's settings.
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(settings Settings) *Registry {
	return &Registry{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for provider, creating it on first use.
func (r *Registry) Get(provider string) *Breaker {
	key := strings.ToLower(strings.TrimSpace(provider))
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.settings)
		r.breakers[key] = b
	}
	return b
}

// Lookup returns the breaker for provider without creating one.
func (r *Registry) Lookup(provider string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[strings.ToLower(strings.TrimSpace(provider))]
	return b, ok
}

// Reset closes the named breakers, or every breaker when no name is given.
// Unknown names are skipped. It returns how many breakers were reset.
func (r *Registry) Reset(providers ...string) int {
	r.mu.Lock()
	var targets []*Breaker
	if len(providers) == 0 {
		for _, b := range r.breakers {
			targets = append(targets, b)
		}
	} else {
		for _, p := range providers {
			if b, ok := r.breakers[strings.ToLower(strings.TrimSpace(p))]; ok {
				targets = append(targets, b)
			}
		}
	}
	r.mu.Unlock()
	for _, b := range targets {
		b.Reset()
	}
	return len(targets)
}

// Snapshots returns the state of every known breaker ordered by provider.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
