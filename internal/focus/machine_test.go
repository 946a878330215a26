package focus

import (
	"math"
	"testing"
	"time"

	"github.com/eduvision/focus-server/pkg/types"
)

var (
	sigFocused   = types.AttentionSignal{DetectedFace: true, Focused: true, Score: 0.9}
	sigUnfocused = types.AttentionSignal{DetectedFace: true, Score: 0.1}
	sigNoFace    = types.AttentionSignal{}
)

func testConfig() Config {
	return Config{
		DebounceDwell:  2 * time.Second,
		FocusThreshold: 0.6,
		MaxStepDelta:   400 * time.Millisecond, // 2x interval at 5fps
	}
}

func approx(t *testing.T, name string, got, want, eps float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Fatalf("%s = %v, want %v (eps %v)", name, got, want, eps)
	}
}

// feed applies n frames of sig at the 5fps interval starting after cur,
// returning the timestamp of the last frame.
func feed(m *Machine, sig types.AttentionSignal, cur time.Time, n int) time.Time {
	for i := 0; i < n; i++ {
		cur = cur.Add(200 * time.Millisecond)
		m.Apply(sig, cur)
	}
	return cur
}

func TestAccumulatorsMonotonicAndBounded(t *testing.T) {
	m := New(testConfig())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Apply(sigFocused, t0)

	cur := t0
	prevFocused, prevUnfocused := 0.0, 0.0
	for i := 0; i < 200; i++ {
		cur = cur.Add(200 * time.Millisecond)
		sig := sigFocused
		if i%30 >= 15 {
			sig = sigUnfocused
		}
		m.Apply(sig, cur)

		snap := m.Snapshot(cur)
		if snap.FocusedSeconds < prevFocused {
			t.Fatalf("focused accumulator decreased at frame %d: %v -> %v", i, prevFocused, snap.FocusedSeconds)
		}
		if snap.UnfocusedSeconds < prevUnfocused {
			t.Fatalf("unfocused accumulator decreased at frame %d: %v -> %v", i, prevUnfocused, snap.UnfocusedSeconds)
		}
		prevFocused, prevUnfocused = snap.FocusedSeconds, snap.UnfocusedSeconds

		elapsed := cur.Sub(t0).Seconds()
		if snap.FocusedSeconds+snap.UnfocusedSeconds > elapsed+1e-9 {
			t.Fatalf("accumulated %v exceeds elapsed %v", snap.FocusedSeconds+snap.UnfocusedSeconds, elapsed)
		}
	}
}

func TestDebounceSuppressesFlicker(t *testing.T) {
	m := New(testConfig())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Apply(sigUnfocused, t0)

	// Settle into Unfocused past the dwell.
	cur := feed(m, sigUnfocused, t0, 15)
	if m.State() != types.StateUnfocused {
		t.Fatalf("state after warmup = %v, want unfocused", m.State())
	}

	// One focused spike every ten frames must never commit.
	for cycle := 0; cycle < 20; cycle++ {
		cur = cur.Add(200 * time.Millisecond)
		res := m.Apply(sigFocused, cur)
		if res.State != types.StateUnfocused {
			t.Fatalf("cycle %d: spike committed a transition to %v", cycle, res.State)
		}
		cur = feed(m, sigUnfocused, cur, 9)
		if m.State() != types.StateUnfocused {
			t.Fatalf("cycle %d: state drifted to %v", cycle, m.State())
		}
	}
}

func TestUndeterminedCountsInNeitherBucket(t *testing.T) {
	m := New(testConfig())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Apply(sigNoFace, t0)

	cur := feed(m, sigNoFace, t0, 150) // 30 seconds of no-face frames

	snap := m.Snapshot(cur)
	if snap.FocusedSeconds != 0 || snap.UnfocusedSeconds != 0 {
		t.Fatalf("no-face sequence accumulated focused=%v unfocused=%v, want 0/0",
			snap.FocusedSeconds, snap.UnfocusedSeconds)
	}
	if snap.FocusPercentage != 0 {
		t.Fatalf("focus percentage = %v, want 0", snap.FocusPercentage)
	}
}

func TestStaleFrameIsAccountingNoOp(t *testing.T) {
	m := New(testConfig())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Apply(sigFocused, t0)
	cur := feed(m, sigFocused, t0, 20)

	before := m.Snapshot(cur)

	res := m.Apply(sigFocused, t0.Add(time.Second))
	if !res.Stale {
		t.Fatal("regressed timestamp not flagged stale")
	}

	after := m.Snapshot(cur)
	if after.FocusedSeconds != before.FocusedSeconds || after.UnfocusedSeconds != before.UnfocusedSeconds {
		t.Fatalf("stale frame changed accumulators: %+v -> %+v", before, after)
	}
	if !m.LastFrameAt().Equal(cur) {
		t.Fatalf("stale frame advanced lastFrameAt to %v", m.LastFrameAt())
	}
}

func TestGapContributesAtMostStepDelta(t *testing.T) {
	m := New(testConfig())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Apply(sigFocused, t0)
	cur := feed(m, sigFocused, t0, 15)
	if m.State() != types.StateFocused {
		t.Fatalf("state after warmup = %v, want focused", m.State())
	}

	before := m.Snapshot(cur)

	// Simulated reconnect: one minute of silence, then the next frame.
	cur = cur.Add(60 * time.Second)
	m.Apply(sigFocused, cur)

	after := m.Snapshot(cur)
	gained := after.FocusedSeconds - before.FocusedSeconds
	approx(t, "gap contribution", gained, 0.4, 1e-9)
	if after.UnfocusedSeconds != before.UnfocusedSeconds {
		t.Fatalf("gap leaked into unfocused bucket: %v", after.UnfocusedSeconds-before.UnfocusedSeconds)
	}
}

func TestAlternatingPhasesSplitRoughlyEven(t *testing.T) {
	cfg := testConfig()
	cfg.DebounceDwell = time.Second
	m := New(cfg)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Apply(sigFocused, t0)

	// 20 seconds alternating focused/unfocused every 5 seconds at 5fps.
	cur := t0
	for i := 1; i <= 100; i++ {
		cur = cur.Add(200 * time.Millisecond)
		phase := int(cur.Sub(t0).Seconds()) / 5
		sig := sigFocused
		if phase%2 == 1 {
			sig = sigUnfocused
		}
		m.Apply(sig, cur)
	}

	snap := m.Snapshot(cur)
	total := snap.FocusedSeconds + snap.UnfocusedSeconds
	if total > 20+1e-9 {
		t.Fatalf("accumulated %v exceeds session length", total)
	}
	if snap.FocusPercentage < 35 || snap.FocusPercentage > 65 {
		t.Fatalf("focus percentage = %v, want roughly even split", snap.FocusPercentage)
	}
}

func TestTransitionCommitsAfterDwell(t *testing.T) {
	m := New(testConfig())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Apply(sigFocused, t0)

	transitionAt := time.Time{}
	cur := t0
	for i := 0; i < 30 && transitionAt.IsZero(); i++ {
		cur = cur.Add(200 * time.Millisecond)
		if res := m.Apply(sigFocused, cur); res.Transitioned {
			transitionAt = cur
		}
	}
	if transitionAt.IsZero() {
		t.Fatal("stable focused signal never committed")
	}
	if dwell := transitionAt.Sub(t0); dwell < 2*time.Second {
		t.Fatalf("transition committed after %v, before the dwell", dwell)
	}
	if got := m.StateEnteredAt(); !got.Equal(transitionAt) {
		t.Fatalf("StateEnteredAt = %v, want %v", got, transitionAt)
	}
}

func TestScoreThresholdClassification(t *testing.T) {
	m := New(testConfig())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Score above the threshold counts as focused even without the flag.
	scored := types.AttentionSignal{DetectedFace: true, Score: 0.8}
	m.Apply(scored, t0)
	cur := feed(m, scored, t0, 15)
	if m.State() != types.StateFocused {
		t.Fatalf("state = %v, want focused for score 0.8", m.State())
	}

	cur = feed(m, types.AttentionSignal{DetectedFace: true, Score: 0.2}, cur, 15)
	if m.State() != types.StateUnfocused {
		t.Fatalf("state = %v, want unfocused for score 0.2", m.State())
	}
}
