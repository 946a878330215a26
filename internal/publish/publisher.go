// Package publish delivers session snapshots to the external persistence
// endpoint. Delivery is fire-and-forget: a publish failure never blocks or
// rolls back frame processing.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eduvision/focus-server/internal/logger"
	"github.com/eduvision/focus-server/internal/metrics"
	"github.com/eduvision/focus-server/pkg/types"
)

// Config tunes the publisher.
type Config struct {
	Endpoint    string        // persistence URL; "" disables delivery
	SessionType string        // session_type reported to the collaborator
	Timeout     time.Duration // per-request timeout
	MaxAttempts int           // delivery attempts before dropping
	RetryDelay  time.Duration // initial backoff delay
	MaxDelay    time.Duration // backoff cap
	QueueSize   int           // bounded snapshot queue
}

// DefaultConfig returns the standard publisher tuning.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		SessionType: "viewing",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  1 * time.Second,
		MaxDelay:    30 * time.Second,
		QueueSize:   64,
	}
}

// record is the wire shape expected by the storage collaborator.
type record struct {
	UserID          string  `json:"user_id"`
	ModuleID        string  `json:"module_id"`
	SectionID       string  `json:"section_id,omitempty"`
	FocusedTime     float64 `json:"focused_time"`
	UnfocusedTime   float64 `json:"unfocused_time"`
	TotalTime       float64 `json:"total_time"`
	FocusPercentage float64 `json:"focus_percentage"`
	SessionType     string  `json:"session_type"`
	IsFinal         bool    `json:"is_final,omitempty"`
}

type saveResponse struct {
	Success bool `json:"success"`
}

// Publisher drains a bounded snapshot queue to the persistence endpoint,
// retrying transient failures with exponential backoff.
type Publisher struct {
	cfg     Config
	client  *http.Client
	queue   chan types.Snapshot
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Publisher. Call Start to begin delivery.
func New(cfg Config, m *metrics.Metrics) *Publisher {
	def := DefaultConfig(cfg.Endpoint)
	if cfg.SessionType == "" {
		cfg.SessionType = def.SessionType
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		queue:   make(chan types.Snapshot, cfg.QueueSize),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the delivery worker.
func (p *Publisher) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Stop drains nothing further and waits for the in-flight delivery.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// Publish enqueues a snapshot for delivery. It never blocks: when the queue
// is full the snapshot is dropped and counted.
func (p *Publisher) Publish(snap types.Snapshot) bool {
	if p.cfg.Endpoint == "" {
		return true
	}
	select {
	case p.queue <- snap:
		p.metrics.UpdateQueueUsage(len(p.queue), cap(p.queue))
		return true
	default:
		p.metrics.PublishDropped.Add(1)
		logger.Warn("Publisher", "Queue full, dropping snapshot for %s", snap.Key)
		return false
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case snap := <-p.queue:
			p.metrics.UpdateQueueUsage(len(p.queue), cap(p.queue))
			if err := p.deliver(snap); err != nil {
				p.metrics.PublishFailures.Add(1)
				logger.Error("Publisher", "Dropping snapshot for %s: %v", snap.Key, err)
				continue
			}
			p.metrics.SnapshotsPublished.Add(1)
		}
	}
}

// deliver posts one snapshot, retrying transient failures (network errors
// and 5xx) with exponential backoff up to MaxAttempts.
func (p *Publisher) deliver(snap types.Snapshot) error {
	body, err := json.Marshal(record{
		UserID:          snap.Key.UserID,
		ModuleID:        snap.Key.ModuleID,
		SectionID:       snap.Key.SectionID,
		FocusedTime:     snap.FocusedSeconds,
		UnfocusedTime:   snap.UnfocusedSeconds,
		TotalTime:       snap.FocusedSeconds + snap.UnfocusedSeconds,
		FocusPercentage: snap.FocusPercentage,
		SessionType:     p.cfg.SessionType,
		IsFinal:         snap.Final,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	delay := p.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			p.metrics.PublishRetries.Add(1)
			logger.Warn("Publisher", "Retrying %s (attempt %d/%d, delay %s): %v",
				snap.Key, attempt, p.cfg.MaxAttempts, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-p.ctx.Done():
				return p.ctx.Err()
			}
			delay *= 2
			if delay > p.cfg.MaxDelay {
				delay = p.cfg.MaxDelay
			}
		}

		retryable, err := p.post(body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return fmt.Errorf("max attempts exceeded: %w", lastErr)
}

func (p *Publisher) post(body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(p.ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("post snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("persistence endpoint returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("persistence endpoint rejected snapshot: %d", resp.StatusCode)
	}

	var result saveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode save response: %w", err)
	}
	if !result.Success {
		return false, fmt.Errorf("persistence endpoint reported success=false")
	}
	return false, nil
}

// QueueDepth returns the number of queued snapshots.
func (p *Publisher) QueueDepth() int { return len(p.queue) }
