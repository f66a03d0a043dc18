package secureconfirm

import (
	"context"
	"sync"

	"github.com/tatchi-labs/secureconfirm/provider"
)

// confirmSession centralizes the cleanup invariants shared by every flow
// handler: reserved nonces are released iff the terminal
// response is non-confirmation, the UI handle is closed exactly once, and
// exactly one response is ever sent for a given requestId.
type confirmSession struct {
	requestID string
	near      provider.NearProvider
	ui        provider.UIRenderer

	mu             sync.Mutex
	handle         provider.ConfirmHandle
	reservedNonces []uint64
	noncesReleased bool
	handleClosed   bool
	responsesSent  int
}

func newConfirmSession(requestID string, near provider.NearProvider, ui provider.UIRenderer) *confirmSession {
	return &confirmSession{requestID: requestID, near: near, ui: ui}
}

// trackNonces records nonces reserved for this request so cleanup can
// release them on any non-confirmation terminal path.
func (s *confirmSession) trackNonces(nonces []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservedNonces = nonces
}

// trackHandle records the UI handle mounted for this request.
func (s *confirmSession) trackHandle(h provider.ConfirmHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

// releaseNonces is idempotent: a second call is a no-op.
func (s *confirmSession) releaseNonces(ctx context.Context) {
	s.mu.Lock()
	nonces := s.reservedNonces
	already := s.noncesReleased
	s.noncesReleased = true
	s.mu.Unlock()

	if already || len(nonces) == 0 || s.near == nil {
		return
	}
	s.near.ReleaseReservedNonces(ctx, nonces)
}

// closeHandle is idempotent: a second call is a no-op.
func (s *confirmSession) closeHandle(confirmed bool) {
	s.mu.Lock()
	h := s.handle
	already := s.handleClosed
	s.handleClosed = true
	s.mu.Unlock()

	if already || h == nil {
		return
	}
	h.Close(confirmed)
}

// finish runs the common terminal-path cleanup for decision d and returns
// a wire-sanitized copy of d: non-confirmation responses release nonces, the
// UI handle is closed exactly once regardless of outcome, and a second call
// after the first returns nil so no second response is emitted.
func (s *confirmSession) finish(ctx context.Context, d *DecisionEnvelope) *DecisionEnvelope {
	if !d.Confirmed {
		s.releaseNonces(ctx)
	}
	s.closeHandle(d.Confirmed)

	s.mu.Lock()
	s.responsesSent++
	sent := s.responsesSent
	s.mu.Unlock()

	if sent > 1 {
		// Cleanup invariant: never emit a second response for requestId.
		return nil
	}
	return d.sanitizeForWire()
}
