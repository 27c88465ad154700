// internal/workflow/guard.go
package workflow

import "sync"

type guardKey struct {
	patron string
	action Action
}

// guard allows one running invocation per patron and action.
type guard struct {
	mu      sync.Mutex
	running map[guardKey]struct{}
}

func newGuard() *guard {
	return &guard{running: make(map[guardKey]struct{})}
}

// acquire marks the pair as running. The returned func releases it; ok is
// false when the pair is already running.
func (g *guard) acquire(patronID string, action Action) (release func(), ok bool) {
	k := guardKey{patron: patronID, action: action}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[k]; busy {
		return nil, false
	}
	g.running[k] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.running, k)
		g.mu.Unlock()
	}, true
}
