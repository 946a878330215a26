package api

// frameRequest is the ingest payload. `frame`/`client_timestamp` are the
// canonical names; `frame_base64`/`timestamp` are accepted for older browser
// clients.
type frameRequest struct {
	FrameID     string  `json:"frame_id"`
	UserID      string  `json:"user_id"`
	ModuleID    string  `json:"module_id"`
	SectionID   string  `json:"section_id"`
	Frame       string  `json:"frame"`
	FrameBase64 string  `json:"frame_base64"`
	ClientTS    float64 `json:"client_timestamp"`
	Timestamp   float64 `json:"timestamp"`
	FPSHint     float64 `json:"fps_hint"`
}

func (r *frameRequest) payload() string {
	if r.Frame != "" {
		return r.Frame
	}
	return r.FrameBase64
}

func (r *frameRequest) clientTimestamp() float64 {
	if r.ClientTS != 0 {
		return r.ClientTS
	}
	return r.Timestamp
}

// frameMetrics is the per-frame metrics block returned to the client.
type frameMetrics struct {
	FocusedSeconds   float64 `json:"focused_seconds"`
	UnfocusedSeconds float64 `json:"unfocused_seconds"`
	FocusPercentage  float64 `json:"focus_percentage"`
	IsFocused        bool    `json:"is_focused"`
	State            string  `json:"state"`
}

// frameResponse is the ingest response.
type frameResponse struct {
	Accepted      bool          `json:"accepted"`
	Reason        string        `json:"reason"`
	FrameID       string        `json:"frame_id,omitempty"`
	Metrics       *frameMetrics `json:"metrics,omitempty"`
	RenderedFrame string        `json:"rendered_frame,omitempty"`
}

// sectionSwitchRequest moves a viewer from one section to the next.
type sectionSwitchRequest struct {
	UserID       string `json:"user_id"`
	ModuleID     string `json:"module_id"`
	OldSectionID string `json:"old_section_id"`
	NewSectionID string `json:"new_section_id"`
}

// statusResponse is the live snapshot for one session.
type statusResponse struct {
	UserID           string  `json:"user_id"`
	ModuleID         string  `json:"module_id"`
	SectionID        string  `json:"section_id,omitempty"`
	State            string  `json:"state"`
	IsFocused        bool    `json:"is_focused"`
	FocusedSeconds   float64 `json:"focused_seconds"`
	UnfocusedSeconds float64 `json:"unfocused_seconds"`
	FocusPercentage  float64 `json:"focus_percentage"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	Timestamp        float64 `json:"timestamp"`
}
