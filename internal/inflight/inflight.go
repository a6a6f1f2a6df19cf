// Package inflight enforces at most one outstanding call per (resource, action) pair.
package inflight

import (
	"errors"
	"sync"
)

// ErrBusy is returned when the same (resource, action) pair already has a call outstanding.
var ErrBusy = errors.New("operation already in progress")

type key struct {
	resource string
	action   string
}

// Guard tracks outstanding calls. The zero value is ready to use.
type Guard struct {
	mu      sync.Mutex
	pending map[key]struct{}
}

// Acquire marks the pair as in flight. The returned release func must be called once the
// call resolves; it is safe to call more than once.
func (g *Guard) Acquire(resource, action string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		g.pending = make(map[key]struct{})
	}
	k := key{resource: resource, action: action}
	if _, busy := g.pending[k]; busy {
		return nil, ErrBusy
	}
	g.pending[k] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.pending, k)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether the pair has a call outstanding. UIs use it to disable controls.
func (g *Guard) Busy(resource, action string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key{resource: resource, action: action}]
	return ok
}

// BusyResource reports whether any action is outstanding for the resource.
func (g *Guard) BusyResource(resource string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.pending {
		if k.resource == resource {
			return true
		}
	}
	return false
}
