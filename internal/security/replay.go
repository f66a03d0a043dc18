// Package security provides request replay protection and sensitive-data
// sanitization shared by the SecureConfirm orchestrator.
package security

import (
	"context"
	"sync"
	"time"

	"github.com/tatchi-labs/secureconfirm/internal/logging"
)

// ReplayProtection tracks requestIds the orchestrator has already
// received (they are marked before dispatch), rejecting a repeat within
// window so a host-side retry can never get a second decision for the
// same requestId.
type ReplayProtection struct {
	window       time.Duration
	maxSize      int
	mu           sync.RWMutex
	seenRequests map[string]time.Time
	logger       *logging.Logger
}

// NewReplayProtection creates a ReplayProtection remembering requestIds
// for window (defaulting to 5 minutes when window <= 0).
func NewReplayProtection(window time.Duration, logger *logging.Logger) *ReplayProtection {
	return NewReplayProtectionWithMaxSize(window, 0, logger)
}

// NewReplayProtectionWithMaxSize is NewReplayProtection with an upper
// bound on tracked requestIds (0 = unlimited).
func NewReplayProtectionWithMaxSize(window time.Duration, maxSize int, logger *logging.Logger) *ReplayProtection {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ReplayProtection{
		window:       window,
		maxSize:      maxSize,
		seenRequests: make(map[string]time.Time),
		logger:       logger,
	}
}

// ValidateAndMark reports whether requestID has not been seen within the
// window, marking it seen as a side effect. A false return means the
// orchestrator must reject the request as a replay.
func (rp *ReplayProtection) ValidateAndMark(requestID string) bool {
	if requestID == "" {
		return false
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	if len(rp.seenRequests)%100 == 0 {
		rp.cleanupExpiredLocked()
	}

	if seenAt, exists := rp.seenRequests[requestID]; exists {
		if time.Since(seenAt) < rp.window {
			if rp.logger != nil {
				rp.logger.Warn(context.Background(), "replay attack detected", map[string]interface{}{
					"request_id": requestID,
					"window":     rp.window.String(),
				})
			}
			return false
		}
		delete(rp.seenRequests, requestID)
	}

	if rp.maxSize > 0 && len(rp.seenRequests) >= rp.maxSize {
		rp.cleanupExpiredLocked()
		if len(rp.seenRequests) >= rp.maxSize {
			if rp.logger != nil {
				rp.logger.Warn(context.Background(), "replay protection at capacity, rejecting request", map[string]interface{}{
					"max_size": rp.maxSize,
				})
			}
			return false
		}
	}

	rp.seenRequests[requestID] = time.Now()
	return true
}

// IsReplay reports whether requestID is a replay, without marking it seen.
func (rp *ReplayProtection) IsReplay(requestID string) bool {
	if requestID == "" {
		return false
	}
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	seenAt, exists := rp.seenRequests[requestID]
	if !exists {
		return false
	}
	return time.Since(seenAt) < rp.window
}

func (rp *ReplayProtection) cleanupExpiredLocked() {
	now := time.Now()
	for id, seenAt := range rp.seenRequests {
		if now.Sub(seenAt) >= rp.window {
			delete(rp.seenRequests, id)
		}
	}
}
