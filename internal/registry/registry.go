// Package registry keeps one cart store per visitor session and disposes
// of stores nobody has used for a while.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"storefront-cart/internal/cartstore"
	"storefront-cart/internal/logging"
	"storefront-cart/internal/metrics"
)

// Factory builds an uninitialized store bound to sessionID.
type Factory func(sessionID string) *cartstore.Store

type entry struct {
	store    *cartstore.Store
	lastUsed time.Time

	// loadMu serializes first loads; loaded flips once one succeeds.
	loadMu sync.Mutex
	loaded bool
}

// Registry hands out per-session stores, creating and initializing them on
// first use.
type Registry struct {
	build   Factory
	idleTTL time.Duration
	now     func() time.Time
	logger  *logrus.Entry
	metrics *metrics.CartMetrics

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. nil keeps the discarding default.
func WithLogger(l *logrus.Entry) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics reports the live store count on m.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns a registry that builds stores with build and evicts them after
// idleTTL without use.
func New(build Factory, idleTTL time.Duration, opts ...Option) *Registry {
	r := &Registry{
		build:   build,
		idleTTL: idleTTL,
		now:     time.Now,
		logger:  logging.Discard(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the store for sessionID, loading the cart until one load
// succeeds; concurrent callers wait for the load in flight. The load is
// detached from ctx cancellation. A failed load is not an error here: the
// store is returned in its error state and the next Get tries again.
func (r *Registry) Get(ctx context.Context, sessionID string) *cartstore.Store {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok {
		e = &entry{store: r.build(sessionID)}
		r.entries[sessionID] = e
		r.metrics.SetActiveStores(len(r.entries))
	}
	e.lastUsed = r.now()
	r.mu.Unlock()

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if !e.loaded {
		if err := e.store.Init(context.WithoutCancel(ctx)); err != nil {
			r.logger.WithError(err).WithField("session", sessionID).Warn("initial cart load failed")
		} else {
			e.loaded = true
		}
	}
	return e.store
}

// Evict closes and forgets stores idle for longer than the idle TTL.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.idleTTL)
	var stale []*cartstore.Store

	r.mu.Lock()
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e.store)
			delete(r.entries, id)
		}
	}
	r.metrics.SetActiveStores(len(r.entries))
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		r.logger.WithField("evicted", len(stale)).Debug("evicted idle cart stores")
	}
	return len(stale)
}

// Run evicts idle stores every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}

// Len reports the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close disposes of every store.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.metrics.SetActiveStores(0)
	r.mu.Unlock()

	for _, e := range entries {
		e.store.Close()
	}
}
