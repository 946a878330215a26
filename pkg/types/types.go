package types

import (
	"fmt"
	"time"
)

// SessionKey identifies one continuous viewing context. Two frames carrying
// the same key belong to the same focus session regardless of which transport
// connection delivered them.
type SessionKey struct {
	UserID    string
	ModuleID  string
	SectionID string // optional
}

// String returns a stable textual form usable as a map/log key.
func (k SessionKey) String() string {
	if k.SectionID == "" {
		return fmt.Sprintf("%s/%s", k.UserID, k.ModuleID)
	}
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.ModuleID, k.SectionID)
}

// ClientID identifies the rate-limited client for this key. Throttling is per
// user and module so that parallel sections share one frame budget.
func (k SessionKey) ClientID() string {
	return k.UserID + "/" + k.ModuleID
}

// Valid reports whether the mandatory key fields are present.
func (k SessionKey) Valid() bool {
	return k.UserID != "" && k.ModuleID != ""
}

// FocusState is the committed attention state of a session.
type FocusState int

const (
	StateUndetermined FocusState = iota // no reliable signal
	StateFocused
	StateUnfocused
)

// String returns the wire name of the state.
func (s FocusState) String() string {
	switch s {
	case StateFocused:
		return "focused"
	case StateUnfocused:
		return "unfocused"
	default:
		return "undetermined"
	}
}

// AttentionSignal is the extractor's classification of a single frame.
// When DetectedFace is false the other fields carry no meaning and the frame
// counts toward neither focused nor unfocused exposure.
type AttentionSignal struct {
	DetectedFace bool
	Focused      bool
	Score        float64 // [0,1], valid only when DetectedFace
}

// Snapshot is a read-only, point-in-time summary of one session's
// accumulated metrics.
type Snapshot struct {
	Key              SessionKey
	FocusedSeconds   float64
	UnfocusedSeconds float64
	FocusPercentage  float64 // focused/(focused+unfocused), 0 when both are 0
	ElapsedSeconds   float64 // wall time since the first accepted frame
	State            FocusState
	TakenAt          time.Time
	Final            bool // set on eviction / section-switch flush
}
