package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/eduvision/focus-server/internal/admission"
	"github.com/eduvision/focus-server/internal/framecodec"
	"github.com/eduvision/focus-server/internal/gaze"
	"github.com/eduvision/focus-server/internal/logger"
	"github.com/eduvision/focus-server/internal/session"
	"github.com/eduvision/focus-server/pkg/types"
)

const (
	reasonOK          = "ok"
	reasonThrottled   = "throttled"
	reasonDecodeError = "decode_error"
)

// handleIngest runs the frame pipeline: admission, decode, extraction,
// session update. Admission and decode are cheap and synchronous; the
// extractor call is deadline-bounded so a hung model cannot pile up
// handlers.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.metrics.FramesReceived.Add(1)

	// The JSON envelope is slightly larger than the frame payload itself.
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxFrameBytes)*2)

	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.DecodeErrors.Add(1)
		writeJSONWithStatus(w, frameResponse{Accepted: false, Reason: reasonDecodeError}, http.StatusBadRequest)
		return
	}

	key := types.SessionKey{UserID: req.UserID, ModuleID: req.ModuleID, SectionID: req.SectionID}
	if !key.Valid() {
		s.metrics.DecodeErrors.Add(1)
		writeJSONWithStatus(w, frameResponse{Accepted: false, Reason: reasonDecodeError}, http.StatusBadRequest)
		return
	}

	frameID := req.FrameID
	if frameID == "" {
		frameID = uuid.NewString()
	}

	if err := s.limiter.Allow(key.ClientID()); err != nil {
		if errors.Is(err, admission.ErrThrottled) {
			s.metrics.FramesThrottled.Add(1)
			writeJSONWithStatus(w, frameResponse{
				Accepted: false,
				Reason:   reasonThrottled,
				FrameID:  frameID,
			}, http.StatusTooManyRequests)
			return
		}
		writeJSONWithStatus(w, frameResponse{Accepted: false, Reason: reasonDecodeError, FrameID: frameID}, http.StatusInternalServerError)
		return
	}

	img, err := s.decoder.Decode(req.payload())
	if err != nil {
		s.metrics.DecodeErrors.Add(1)
		logger.Debug("Ingest", "Rejected frame %s for %s: %v", frameID, key, err)
		writeJSONWithStatus(w, frameResponse{
			Accepted: false,
			Reason:   reasonDecodeError,
			FrameID:  frameID,
		}, http.StatusBadRequest)
		return
	}

	extractStart := time.Now()
	sig, err := s.extractor.Extract(r.Context(), img)
	s.metrics.UpdateExtractLatency(time.Since(extractStart))
	if err != nil {
		// A timed-out or failed extraction is a valid no-signal frame;
		// the session proceeds with an Undetermined signal.
		if errors.Is(err, gaze.ErrExtractionTimeout) {
			s.metrics.ExtractionTimeouts.Add(1)
		} else {
			logger.Warn("Ingest", "Extractor error for %s: %v", key, err)
		}
		sig = types.AttentionSignal{DetectedFace: false}
	}
	if !sig.DetectedFace {
		s.metrics.ExtractionNoFace.Add(1)
	}

	frameAt := time.Now()
	if ts := req.clientTimestamp(); ts > 0 {
		frameAt = time.Unix(0, int64(ts*float64(time.Second)))
	}

	res, snap := s.sessions.HandleFrame(key, sig, frameAt)
	s.metrics.FramesAccepted.Add(1)
	if res.Stale {
		s.metrics.FramesStale.Add(1)
		logger.Debug("Ingest", "Stale frame %s for %s, accounting skipped", frameID, key)
	}

	resp := frameResponse{
		Accepted: true,
		Reason:   reasonOK,
		FrameID:  frameID,
		Metrics: &frameMetrics{
			FocusedSeconds:   snap.FocusedSeconds,
			UnfocusedSeconds: snap.UnfocusedSeconds,
			FocusPercentage:  snap.FocusPercentage,
			IsFocused:        res.IsFocused,
			State:            res.State.String(),
		},
	}

	if s.cfg.RenderFrames {
		if rendered, err := framecodec.RenderIndicator(img, res.State); err == nil {
			resp.RenderedFrame = rendered
		} else {
			logger.Warn("Ingest", "Render failed for %s: %v", key, err)
		}
	}

	s.metrics.UpdateFrameLatency(start)
	writeJSON(w, resp)
}

func sessionKeyFromQuery(r *http.Request) types.SessionKey {
	q := r.URL.Query()
	return types.SessionKey{
		UserID:    q.Get("user_id"),
		ModuleID:  q.Get("module_id"),
		SectionID: q.Get("section_id"),
	}
}

func statusFromSnapshot(snap types.Snapshot) statusResponse {
	return statusResponse{
		UserID:           snap.Key.UserID,
		ModuleID:         snap.Key.ModuleID,
		SectionID:        snap.Key.SectionID,
		State:            snap.State.String(),
		IsFocused:        snap.State == types.StateFocused,
		FocusedSeconds:   snap.FocusedSeconds,
		UnfocusedSeconds: snap.UnfocusedSeconds,
		FocusPercentage:  snap.FocusPercentage,
		ElapsedSeconds:   snap.ElapsedSeconds,
		Timestamp:        float64(snap.TakenAt.UnixNano()) / float64(time.Second),
	}
}

// handleStatus returns the live snapshot for one session.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := sessionKeyFromQuery(r)
	if !key.Valid() {
		writeJSONWithStatus(w, map[string]any{"error": "user_id and module_id are required"}, http.StatusBadRequest)
		return
	}

	snap, err := s.sessions.Snapshot(key)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "no active session"}, http.StatusNotFound)
		return
	}
	writeJSON(w, statusFromSnapshot(snap))
}

// handleStatusStream pushes session snapshots over SSE until the client
// disconnects or the session goes away.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	key := sessionKeyFromQuery(r)
	if !key.Valid() {
		writeJSONWithStatus(w, map[string]any{"error": "user_id and module_id are required"}, http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		snap, err := s.sessions.Snapshot(key)
		if err != nil {
			// Session evicted or not started yet; tell the client and stop.
			_ = writeSSE(w, map[string]any{"error": "no active session"})
			flusher.Flush()
			return
		}
		if err := writeSSE(w, statusFromSnapshot(snap)); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleSectionSwitch flushes the old section's session so the next frame
// starts a clean one under the new key.
func (s *Server) handleSectionSwitch(w http.ResponseWriter, r *http.Request) {
	var req sectionSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ModuleID == "" {
		writeJSONWithStatus(w, map[string]any{"error": "user_id and module_id are required"}, http.StatusBadRequest)
		return
	}

	oldKey := types.SessionKey{UserID: req.UserID, ModuleID: req.ModuleID, SectionID: req.OldSectionID}
	newKey := types.SessionKey{UserID: req.UserID, ModuleID: req.ModuleID, SectionID: req.NewSectionID}

	if err := s.sessions.SwitchSection(oldKey, newKey); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			// Nothing to flush; the new session starts on its first frame.
			writeJSON(w, map[string]any{"success": true, "flushed": false})
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"success": true, "flushed": true})
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.Len(),
		"timestamp":       float64(time.Now().Unix()),
	})
}
