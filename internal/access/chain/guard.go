// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package chain tracks execution contexts that were already authorized, so
// the sub-calls a running script or automation makes under those contexts
// are not evaluated again.
//
// A registration widens access for as long as it exists. Every Begin must
// be paired with exactly one release on every exit path:
//
//	release := guard.Begin(ctxID)
//	defer release()
package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Option configures a Guard.
type Option func(*Guard)

// WithMaxAge bounds how long a registration pre-authorizes sub-calls.
// Registrations older than d are ignored and swept on the next Begin.
// Zero disables expiry.
func WithMaxAge(d time.Duration) Option {
	return func(g *Guard) {
		g.maxAge = d
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

type registration struct {
	refs    int
	since   time.Time
	expired bool // swept; late releases are ignored
}

// Guard is the set of currently pre-authorized execution contexts.
// It is safe for concurrent use.
type Guard struct {
	maxAge time.Duration
	now    func() time.Time

	mu     sync.Mutex
	active map[string]*registration
}

// NewGuard creates an empty Guard.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		now:    time.Now,
		active: make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Begin registers contextID and returns the function that releases it.
// The returned function is safe to call more than once; only the first
// call has an effect. It releases only the registration this Begin joined,
// so a release that runs after its registration expired never touches a
// newer registration of the same id. An empty contextID registers nothing.
func (g *Guard) Begin(contextID string) (release func()) {
	if contextID == "" {
		return func() {}
	}

	g.mu.Lock()
	g.sweepLocked()
	reg, ok := g.active[contextID]
	if !ok {
		reg = &registration{since: g.now()}
		g.active[contextID] = reg
	}
	reg.refs++
	size := len(g.active)
	g.mu.Unlock()

	activeGauge.Set(float64(size))

	var once sync.Once
	return func() {
		once.Do(func() { g.release(contextID, reg) })
	}
}

// End releases one registration of contextID. Releasing a context that is
// not registered is an engine bug; it is logged and counted, never raised.
func (g *Guard) End(contextID string) {
	g.mu.Lock()
	reg, ok := g.active[contextID]
	g.mu.Unlock()
	if !ok {
		releaseErrors.Inc()
		slog.Warn("chain release for unregistered context", "context_id", contextID)
		return
	}
	g.release(contextID, reg)
}

func (g *Guard) release(contextID string, reg *registration) {
	g.mu.Lock()
	if reg.expired {
		g.mu.Unlock()
		slog.Debug("chain release after expiry", "context_id", contextID)
		return
	}
	reg.refs--
	if reg.refs <= 0 && g.active[contextID] == reg {
		delete(g.active, contextID)
	}
	size := len(g.active)
	g.mu.Unlock()

	activeGauge.Set(float64(size))
}

// IsPreauthorized reports whether any id in contextChain is registered.
func (g *Guard) IsPreauthorized(contextChain []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range contextChain {
		if id == "" {
			continue
		}
		reg, ok := g.active[id]
		if !ok {
			continue
		}
		if g.expiredLocked(reg) {
			continue
		}
		return true
	}
	return false
}

// Active returns the number of registered contexts.
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

func (g *Guard) expiredLocked(reg *registration) bool {
	return g.maxAge > 0 && g.now().Sub(reg.since) > g.maxAge
}

// sweepLocked drops expired registrations.
func (g *Guard) sweepLocked() {
	if g.maxAge <= 0 {
		return
	}
	for id, reg := range g.active {
		if g.expiredLocked(reg) {
			reg.expired = true
			delete(g.active, id)
			slog.Warn("chain registration expired before release",
				"context_id", id,
				"age", g.now().Sub(reg.since).String())
		}
	}
}

// Run registers contextID, runs fn, and releases the registration on every
// exit path, including panics.
func (g *Guard) Run(ctx context.Context, contextID string, fn func(context.Context) error) error {
	release := g.Begin(contextID)
	defer release()
	return fn(ctx)
}
