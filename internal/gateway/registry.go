package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves processor implementations by name. Registration
// happens once at startup; lookups never construct anything.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// Register associates a processor name with an implementation.
func (r *Registry) Register(name string, gw Gateway) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || gw == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gateways == nil {
		r.gateways = make(map[string]Gateway)
	}
	r.gateways[name] = gw
}

// Resolve returns the implementation registered for name.
func (r *Registry) Resolve(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("gateway: no processor registered for %q (have %s)", name, strings.Join(r.names(), ", "))
	}
	return gw, nil
}

func (r *Registry) names() []string {
	out := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
