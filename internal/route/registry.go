package route

import (
	"sort"
	"sync"
)

// Registry holds the routes that are currently active, keyed by public
// endpoint. All methods are safe for concurrent use and hold the lock only for
// the map operation itself.
type Registry struct {
	mu     sync.Mutex
	routes map[Endpoint]Route
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[Endpoint]Route)}
}

// Add stores r under its public endpoint. When another route already owns that
// endpoint it is replaced and returned with ok set to true so the caller can
// tear down its rules.
func (reg *Registry) Add(r Route) (evicted Route, ok bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	evicted, ok = reg.routes[r.public]
	reg.routes[r.public] = r
	return evicted, ok
}

// Remove deletes and returns the route at the public endpoint. ok is false when
// no route is registered there.
func (reg *Registry) Remove(public Endpoint) (removed Route, ok bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	removed, ok = reg.routes[public]
	if ok {
		delete(reg.routes, public)
	}
	return removed, ok
}

// Get returns the route registered at the public endpoint.
func (reg *Registry) Get(public Endpoint) (Route, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.routes[public]
	return r, ok
}

// List returns a snapshot of all routes ordered by public IP then port.
func (reg *Registry) List() []Route {
	reg.mu.Lock()
	out := make([]Route, 0, len(reg.routes))
	for _, r := range reg.routes {
		out = append(out, r)
	}
	reg.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].public, out[j].public
		if a.IP != b.IP {
			return a.IP < b.IP
		}
		return a.Port < b.Port
	})
	return out
}

// Len reports the number of active routes.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.routes)
}
