package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CartFactory builds the Cart for a session.
type CartFactory func(session string) (*Cart, error)

type registryEntry struct {
	cart     *Cart
	inUse    int
	lastUsed time.Time
}

// Registry hands out one Cart per session and flushes sessions that have been
// idle for longer than the configured duration.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry
	factory  CartFactory
	idle     time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry creates a registry. idle <= 0 disables eviction.
func NewRegistry(factory CartFactory, idle time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*registryEntry),
		factory:  factory,
		idle:     idle,
		logger:   logger,
		now:      time.Now,
	}
}

// With runs fn with the session's cart. The cart is not evicted while fn runs.
func (r *Registry) With(ctx context.Context, session string, fn func(*Cart) error) error {
	entry, err := r.acquire(session)
	if err != nil {
		return err
	}
	defer r.release(entry)
	return fn(entry.cart)
}

func (r *Registry) acquire(session string) (*registryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[session]
	if !ok {
		cart, err := r.factory(session)
		if err != nil {
			return nil, err
		}
		entry = &registryEntry{cart: cart}
		r.sessions[session] = entry
		cartSessionsActive.Inc()
	}
	entry.inUse++
	entry.lastUsed = r.now()
	return entry, nil
}

func (r *Registry) release(entry *registryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.inUse--
	entry.lastUsed = r.now()
}

// Len returns the number of sessions held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict flushes and drops sessions idle for longer than the idle duration and
// returns how many were dropped. A session whose flush fails is kept, as is one
// used again while it was being flushed. Flushes run without the registry lock.
func (r *Registry) Evict(ctx context.Context) int {
	if r.idle <= 0 {
		return 0
	}

	idle := r.idleSessions()
	evicted := 0
	for session, entry := range idle {
		if err := entry.cart.Flush(ctx); err != nil {
			r.logger.ErrorContext(ctx, "failed to flush idle cart session",
				slog.String("session", session),
				slog.String("error", err.Error()),
			)
			continue
		}
		if r.dropIfIdle(session, entry) {
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.DebugContext(ctx, "evicted idle cart sessions", slog.Int("count", evicted))
	}
	return evicted
}

func (r *Registry) idleSessions() map[string]*registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	idle := make(map[string]*registryEntry)
	for session, entry := range r.sessions {
		if entry.inUse == 0 && !entry.lastUsed.After(cutoff) {
			idle[session] = entry
		}
	}
	return idle
}

// dropIfIdle removes entry unless it was acquired since idleSessions saw it.
func (r *Registry) dropIfIdle(session string, entry *registryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[session] != entry || entry.inUse > 0 || entry.lastUsed.After(r.now().Add(-r.idle)) {
		return false
	}
	delete(r.sessions, session)
	cartSessionsActive.Dec()
	return true
}

// Run evicts idle sessions periodically until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	if r.idle <= 0 {
		return
	}
	ticker := time.NewTicker(r.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(ctx)
		}
	}
}

// Close flushes every session.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := make(map[string]*registryEntry, len(r.sessions))
	for session, entry := range r.sessions {
		sessions[session] = entry
	}
	r.mu.Unlock()

	var errs []error
	for session, entry := range sessions {
		if err := entry.cart.Flush(ctx); err != nil {
			r.logger.ErrorContext(ctx, "failed to flush cart session",
				slog.String("session", session),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
