package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eduvision/focus-server/internal/focus"
)

// Config holds the runtime configuration for the focus server. All values are
// sourced from environment variables with sensible defaults; listen addresses
// and log options stay on command-line flags in cmd/server.
type Config struct {
	MaxFrameBytes      int           // MAX_FRAME_SIZE_BYTES
	MaxFrameDimension  int           // MAX_FRAME_DIMENSION, long edge in pixels
	MaxClientFPS       float64       // MAX_CLIENT_FPS, token bucket refill rate
	FocusDebounce      time.Duration // FOCUS_DEBOUNCE_SECONDS, dwell before a state commit
	SessionIdleTimeout time.Duration // SESSION_IDLE_TIMEOUT_SECONDS, eviction threshold
	SnapshotInterval   time.Duration // SNAPSHOT_INTERVAL_SECONDS, tick cadence
	ExtractorTimeout   time.Duration // EXTRACTOR_TIMEOUT_MS, cap on one extractor call
	TrackingSaveURL    string        // TRACKING_SAVE_URL, persistence endpoint ("" disables)
	AllowedOrigins     []string      // ALLOWED_ORIGINS, comma-separated ("*" allows any)
	RenderFrames       bool          // RENDER_FRAMES, include annotated frame in responses
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxFrameBytes:      512 * 1024,
		MaxFrameDimension:  1280,
		MaxClientFPS:       10,
		FocusDebounce:      1500 * time.Millisecond,
		SessionIdleTimeout: 120 * time.Second,
		SnapshotInterval:   15 * time.Second,
		ExtractorTimeout:   300 * time.Millisecond,
		TrackingSaveURL:    "",
		AllowedOrigins:     []string{"*"},
		RenderFrames:       true,
	}
}

// FromEnv builds a Config from environment variables, falling back to the
// defaults for anything unset. Invalid values are rejected rather than
// silently ignored.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.MaxFrameBytes, err = envInt("MAX_FRAME_SIZE_BYTES", cfg.MaxFrameBytes); err != nil {
		return cfg, err
	}
	if cfg.MaxFrameDimension, err = envInt("MAX_FRAME_DIMENSION", cfg.MaxFrameDimension); err != nil {
		return cfg, err
	}
	if cfg.MaxClientFPS, err = envFloat("MAX_CLIENT_FPS", cfg.MaxClientFPS); err != nil {
		return cfg, err
	}
	if cfg.FocusDebounce, err = envSeconds("FOCUS_DEBOUNCE_SECONDS", cfg.FocusDebounce); err != nil {
		return cfg, err
	}
	if cfg.SessionIdleTimeout, err = envSeconds("SESSION_IDLE_TIMEOUT_SECONDS", cfg.SessionIdleTimeout); err != nil {
		return cfg, err
	}
	if cfg.SnapshotInterval, err = envSeconds("SNAPSHOT_INTERVAL_SECONDS", cfg.SnapshotInterval); err != nil {
		return cfg, err
	}
	if ms, err := envInt("EXTRACTOR_TIMEOUT_MS", int(cfg.ExtractorTimeout/time.Millisecond)); err != nil {
		return cfg, err
	} else {
		cfg.ExtractorTimeout = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("TRACKING_SAVE_URL"); v != "" {
		cfg.TrackingSaveURL = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		origins := make([]string, 0, 4)
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}
	if v := os.Getenv("RENDER_FRAMES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid RENDER_FRAMES: %q", v)
		}
		cfg.RenderFrames = b
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("MAX_FRAME_SIZE_BYTES must be positive")
	}
	if c.MaxClientFPS <= 0 {
		return fmt.Errorf("MAX_CLIENT_FPS must be positive")
	}
	if c.SnapshotInterval <= 0 || c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("snapshot interval and idle timeout must be positive")
	}
	return nil
}

// MaxStepDelta bounds how much wall time a single frame gap may contribute to
// the accumulators: twice the expected frame interval at the client FPS cap.
func (c Config) MaxStepDelta() time.Duration {
	return 2 * time.Duration(float64(time.Second)/c.MaxClientFPS)
}

// MachineConfig maps the environment tuning onto the state machine.
func (c Config) MachineConfig() focus.Config {
	cfg := focus.DefaultConfig()
	cfg.DebounceDwell = c.FocusDebounce
	cfg.MaxStepDelta = c.MaxStepDelta()
	return cfg
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(f * float64(time.Second)), nil
}
