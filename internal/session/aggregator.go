// Package session owns the registry of live focus sessions: creation,
// per-key serialization, periodic snapshot publishing, and idle eviction.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eduvision/focus-server/internal/focus"
	"github.com/eduvision/focus-server/internal/logger"
	"github.com/eduvision/focus-server/internal/metrics"
	"github.com/eduvision/focus-server/pkg/types"
)

// ErrUnknownSession is returned when a lookup names a key with no live
// session.
var ErrUnknownSession = errors.New("session: unknown session key")

// Publisher is the outbound snapshot sink.
type Publisher interface {
	Publish(snap types.Snapshot) bool
}

// Config tunes the aggregator.
type Config struct {
	Machine          focus.Config
	SnapshotInterval time.Duration // periodic publish cadence
	IdleTimeout      time.Duration // no frames for this long evicts the session
}

// DefaultConfig returns the standard aggregator tuning.
func DefaultConfig() Config {
	return Config{
		Machine:          focus.DefaultConfig(),
		SnapshotInterval: 15 * time.Second,
		IdleTimeout:      120 * time.Second,
	}
}

// session pairs one state machine with its bookkeeping. The aggregator's
// registry lock only guards the map; each session's own mutex serializes
// frames for that key so distinct keys proceed in parallel.
type session struct {
	mu            sync.Mutex
	machine       *focus.Machine
	lastSeen      time.Time
	lastPublished time.Time
	closed        bool
}

// Aggregator maps SessionKey to live sessions and drives the periodic tick.
type Aggregator struct {
	cfg       Config
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.Mutex
	sessions map[types.SessionKey]*session

	wg sync.WaitGroup
}

// New creates an Aggregator. Zero config fields fall back to DefaultConfig.
func New(cfg Config, pub Publisher, m *metrics.Metrics) *Aggregator {
	def := DefaultConfig()
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = def.SnapshotInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Aggregator{
		cfg:       cfg,
		publisher: pub,
		metrics:   m,
		now:       time.Now,
		sessions:  make(map[types.SessionKey]*session),
	}
}

// SetClock overrides the time source, for tests.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// getOrCreate returns the session for key, creating it atomically on first
// sight so concurrent frames for one key never race into duplicates.
func (a *Aggregator) getOrCreate(key types.SessionKey) *session {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[key]
	if !ok {
		s = &session{
			machine:  focus.New(a.cfg.Machine),
			lastSeen: a.now(),
		}
		a.sessions[key] = s
		a.metrics.SessionsCreated.Add(1)
		a.metrics.ActiveSessions.Store(uint64(len(a.sessions)))
		logger.Info("Session", "Created session %s (active=%d)", key, len(a.sessions))
	}
	return s
}

// HandleFrame applies one attention signal stamped at t to the session for
// key and returns the per-frame result together with a fresh snapshot.
func (a *Aggregator) HandleFrame(key types.SessionKey, sig types.AttentionSignal, t time.Time) (focus.Result, types.Snapshot) {
	s := a.getOrCreate(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.machine.Apply(sig, t)
	if !res.Stale {
		s.lastSeen = a.now()
	}
	snap := s.machine.Snapshot(t)
	snap.Key = key
	return res, snap
}

// Snapshot returns the current snapshot for key without mutating it.
func (a *Aggregator) Snapshot(key types.SessionKey) (types.Snapshot, error) {
	a.mu.Lock()
	s, ok := a.sessions[key]
	a.mu.Unlock()
	if !ok {
		return types.Snapshot{}, ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.machine.Snapshot(a.now())
	snap.Key = key
	return snap, nil
}

// SwitchSection closes the session under oldKey, flushing its final
// snapshot, so the client's next frame under newKey starts a clean session.
// The old and new accumulators are never merged; the switch is a clean
// client-visible boundary.
func (a *Aggregator) SwitchSection(oldKey, newKey types.SessionKey) error {
	if oldKey == newKey {
		return nil
	}

	a.mu.Lock()
	s, ok := a.sessions[oldKey]
	if ok {
		delete(a.sessions, oldKey)
		a.metrics.ActiveSessions.Store(uint64(len(a.sessions)))
	}
	a.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	a.flush(oldKey, s, true)
	logger.Info("Session", "Section switch %s -> %s", oldKey, newKey)
	return nil
}

// Tick publishes a snapshot for every session due for one and evicts
// sessions idle past the timeout, flushing a final snapshot first.
func (a *Aggregator) Tick() {
	now := a.now()

	a.mu.Lock()
	type entry struct {
		key types.SessionKey
		s   *session
	}
	live := make([]entry, 0, len(a.sessions))
	for key, s := range a.sessions {
		live = append(live, entry{key, s})
	}
	a.mu.Unlock()

	for _, e := range live {
		e.s.mu.Lock()
		idle := now.Sub(e.s.lastSeen) >= a.cfg.IdleTimeout
		due := now.Sub(e.s.lastPublished) >= a.cfg.SnapshotInterval
		e.s.mu.Unlock()

		if idle {
			a.evict(e.key, e.s)
			continue
		}
		if due {
			e.s.mu.Lock()
			e.s.lastPublished = now
			snap := e.s.machine.Snapshot(now)
			e.s.mu.Unlock()
			snap.Key = e.key
			a.publisher.Publish(snap)
		}
	}
}

func (a *Aggregator) evict(key types.SessionKey, s *session) {
	a.mu.Lock()
	// Re-check: a frame may have revived the key, or another sweep may
	// have evicted it already.
	if current, ok := a.sessions[key]; !ok || current != s {
		a.mu.Unlock()
		return
	}
	delete(a.sessions, key)
	a.metrics.ActiveSessions.Store(uint64(len(a.sessions)))
	a.mu.Unlock()

	a.metrics.SessionsEvicted.Add(1)
	a.flush(key, s, true)
	logger.Info("Session", "Evicted idle session %s", key)
}

// flush publishes one last snapshot for a session leaving the registry.
func (a *Aggregator) flush(key types.SessionKey, s *session, final bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	snap := s.machine.Snapshot(a.now())
	s.mu.Unlock()

	snap.Key = key
	snap.Final = final
	a.publisher.Publish(snap)
}

// Run drives Tick on the snapshot interval until ctx is cancelled, then
// flushes every remaining session.
func (a *Aggregator) Run(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(a.cfg.SnapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				a.Close()
				return
			case <-ticker.C:
				a.Tick()
			}
		}
	}()
}

// Wait blocks until the tick loop has exited.
func (a *Aggregator) Wait() { a.wg.Wait() }

// Close flushes a final snapshot for every live session and empties the
// registry. Used on shutdown.
func (a *Aggregator) Close() {
	a.mu.Lock()
	remaining := make(map[types.SessionKey]*session, len(a.sessions))
	for key, s := range a.sessions {
		remaining[key] = s
	}
	a.sessions = make(map[types.SessionKey]*session)
	a.metrics.ActiveSessions.Store(0)
	a.mu.Unlock()

	for key, s := range remaining {
		a.flush(key, s, true)
	}
	if len(remaining) > 0 {
		logger.Info("Session", "Flushed %d sessions on shutdown", len(remaining))
	}
}

// Len returns the number of live sessions.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
