package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/threatscope/internal/kvstore"
)

// sweepEvery is the number of lookups between evictions of idle limiters.
const sweepEvery = 1024

type registryKey struct {
	action string
	actor  string
}

type registryEntry struct {
	limiter  *Limiter
	lastUsed time.Time
}

// Registry hands out one Limiter per (action, actor) so that concurrent
// requests from the same actor serialise on the same mutex.
type Registry struct {
	mu       sync.Mutex
	store    kvstore.Store
	settings settings
	limiters map[registryKey]*registryEntry
	lookups  int
}

// NewRegistry returns a Registry whose limiters share store and opts.
func NewRegistry(store kvstore.Store, opts ...Option) *Registry {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Registry{
		store:    store,
		settings: s,
		limiters: make(map[registryKey]*registryEntry),
	}
}

// Limiter returns the limiter for action and actor, creating it on first use.
func (r *Registry) Limiter(action, actor string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.settings.clock.Now()
	r.lookups++
	if r.lookups%sweepEvery == 0 {
		r.sweep(now)
	}

	k := registryKey{action: action, actor: actor}
	e, ok := r.limiters[k]
	if !ok {
		e = &registryEntry{limiter: newLimiter(r.store, action, actor, r.settings)}
		r.limiters[k] = e
	}
	e.lastUsed = now
	return e.limiter
}

// Allow is the atomic check-and-record for action by actor.
func (r *Registry) Allow(ctx context.Context, action, actor string) (Decision, error) {
	return r.Limiter(action, actor).Allow(ctx)
}

// Len returns the number of live limiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// sweep drops limiters unused for longer than a window. Their persisted state
// has expired by then, so a later lookup starts from the same empty window.
func (r *Registry) sweep(now time.Time) {
	for k, e := range r.limiters {
		if now.Sub(e.lastUsed) > r.settings.window {
			delete(r.limiters, k)
		}
	}
}
