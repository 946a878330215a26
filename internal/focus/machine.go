// Package focus implements the per-session focus state machine: debounced
// state transitions and focused/unfocused time accounting.
package focus

import (
	"time"

	"github.com/eduvision/focus-server/pkg/types"
)

// Config tunes one state machine.
type Config struct {
	// DebounceDwell is how long a candidate state must persist before it
	// is committed. Single flickered frames (a blink, a glance) never
	// survive the dwell, so they cannot toggle accounted time.
	DebounceDwell time.Duration
	// FocusThreshold classifies a scored signal as focused when the
	// extractor gives no explicit boolean.
	FocusThreshold float64
	// MaxStepDelta caps the wall-clock delta attributed between two
	// consecutive frames. Excess from a stall or reconnect gap is
	// discarded rather than credited to either accumulator.
	MaxStepDelta time.Duration
}

// DefaultConfig returns the standard tuning: 1.5s dwell, 0.6 score
// threshold, 200ms step cap (2x the expected interval at 10fps).
func DefaultConfig() Config {
	return Config{
		DebounceDwell:  1500 * time.Millisecond,
		FocusThreshold: 0.6,
		MaxStepDelta:   200 * time.Millisecond,
	}
}

// Result describes what one frame did to the machine.
type Result struct {
	State        types.FocusState // committed state after the frame
	IsFocused    bool
	Stale        bool // frame timestamp regressed; accounting skipped
	Transitioned bool // this frame committed a state change
}

// Machine tracks focus accounting for one session. It is not safe for
// concurrent use; the session aggregator serializes access per key.
type Machine struct {
	cfg Config

	started      bool
	sessionStart time.Time
	lastFrameAt  time.Time

	state          types.FocusState
	stateEnteredAt time.Time

	candidate      types.FocusState
	candidateSince time.Time

	focusedSecs   float64
	unfocusedSecs float64
}

// New creates a Machine. Zero config fields fall back to DefaultConfig.
func New(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.DebounceDwell <= 0 {
		cfg.DebounceDwell = def.DebounceDwell
	}
	if cfg.FocusThreshold <= 0 {
		cfg.FocusThreshold = def.FocusThreshold
	}
	if cfg.MaxStepDelta <= 0 {
		cfg.MaxStepDelta = def.MaxStepDelta
	}
	return &Machine{cfg: cfg, state: types.StateUndetermined}
}

// Apply feeds one attention signal stamped at t into the machine.
//
// Accounting happens before the transition check: the delta since the
// previous frame, capped at MaxStepDelta, is credited to the state that was
// committed while it elapsed. Undetermined time is credited to neither
// bucket. A frame whose timestamp regresses below the previous one is a
// no-op for accounting but still classified for the response.
func (m *Machine) Apply(sig types.AttentionSignal, t time.Time) Result {
	candidate := m.classify(sig)

	if !m.started {
		m.started = true
		m.sessionStart = t
		m.lastFrameAt = t
		m.stateEnteredAt = t
		m.candidate = candidate
		m.candidateSince = t
		return Result{State: m.state, IsFocused: m.state == types.StateFocused}
	}

	if t.Before(m.lastFrameAt) {
		return Result{State: m.state, IsFocused: m.state == types.StateFocused, Stale: true}
	}

	delta := t.Sub(m.lastFrameAt)
	if delta > m.cfg.MaxStepDelta {
		delta = m.cfg.MaxStepDelta
	}
	switch m.state {
	case types.StateFocused:
		m.focusedSecs += delta.Seconds()
	case types.StateUnfocused:
		m.unfocusedSecs += delta.Seconds()
	}

	if candidate != m.candidate {
		m.candidate = candidate
		m.candidateSince = t
	}

	transitioned := false
	if m.candidate != m.state && t.Sub(m.candidateSince) >= m.cfg.DebounceDwell {
		m.state = m.candidate
		m.stateEnteredAt = t
		transitioned = true
	}

	m.lastFrameAt = t
	return Result{
		State:        m.state,
		IsFocused:    m.state == types.StateFocused,
		Transitioned: transitioned,
	}
}

func (m *Machine) classify(sig types.AttentionSignal) types.FocusState {
	if !sig.DetectedFace {
		return types.StateUndetermined
	}
	if sig.Focused || sig.Score >= m.cfg.FocusThreshold {
		return types.StateFocused
	}
	return types.StateUnfocused
}

// Snapshot returns a point-in-time summary without mutating state.
func (m *Machine) Snapshot(now time.Time) types.Snapshot {
	snap := types.Snapshot{
		FocusedSeconds:   m.focusedSecs,
		UnfocusedSeconds: m.unfocusedSecs,
		State:            m.state,
		TakenAt:          now,
	}
	if total := m.focusedSecs + m.unfocusedSecs; total > 0 {
		snap.FocusPercentage = m.focusedSecs / total * 100
	}
	if m.started && now.After(m.sessionStart) {
		snap.ElapsedSeconds = now.Sub(m.sessionStart).Seconds()
	}
	return snap
}

// LastFrameAt returns the timestamp of the most recently accepted frame.
func (m *Machine) LastFrameAt() time.Time { return m.lastFrameAt }

// StateEnteredAt returns when the committed state was entered.
func (m *Machine) StateEnteredAt() time.Time { return m.stateEnteredAt }

// State returns the committed state.
func (m *Machine) State() types.FocusState { return m.state }
