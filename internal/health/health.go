// Package health aggregates liveness probes for the server's dependencies.
package health

import (
	"context"
	"sync"
)

// Probe reports whether one dependency is usable. A nil return means healthy.
type Probe func(ctx context.Context) error

// Report is the outcome of running one probe.
type Report struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Registry runs registered probes on demand, in registration order.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	probes map[string]Probe
}

func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds a probe under name. Re-registering a name replaces the
// probe but keeps its original position.
func (r *Registry) Register(name string, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.probes[name]; !seen {
		r.names = append(r.names, name)
	}
	r.probes[name] = p
}

// Run executes every probe with ctx and reports each result. ok is false
// when any probe fails; an empty registry is healthy.
func (r *Registry) Run(ctx context.Context) (ok bool, reports []Report) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	probes := make(map[string]Probe, len(r.probes))
	for n, p := range r.probes {
		probes[n] = p
	}
	r.mu.RUnlock()

	ok = true
	reports = make([]Report, 0, len(names))
	for _, name := range names {
		rep := Report{Name: name, OK: true}
		if err := probes[name](ctx); err != nil {
			rep.OK = false
			rep.Error = err.Error()
			ok = false
		}
		reports = append(reports, rep)
	}
	return ok, reports
}
