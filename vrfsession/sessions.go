package vrfsession

import (
	"context"
	"time"

	"github.com/tatchi-labs/secureconfirm/internal/cryptoutil"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/provider"
)

// MintSessionKeysAndSendToSigner derives a wrap-key seed from PRF.first-auth
// and the active VRF secret key, upserts a session record, and transmits
// {wrapKeySeed, wrapKeySalt} to the signer over the dedicated channel.
// Returns {sessionId, wrapKeySalt} only — never the seed.
func (m *Manager) MintSessionKeysAndSendToSigner(ctx context.Context, req MintRequest) (*MintResult, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil, errorsx.New(errorsx.VRFSessionMismatch, "no active vrf keypair bound for session minting")
	}
	if len(req.PRFFirstAuth) == 0 {
		return nil, errorsx.New(errorsx.PRFMissing, "PRF.first is required to mint a signing session")
	}

	if req.ContractID != "" && req.NearRPCURL != "" {
		if m.near == nil {
			return nil, errorsx.New(errorsx.NearRPCFailed, "on-chain verification requested but no NEAR provider configured")
		}
		if err := m.near.VerifyAuthenticationResponse(ctx, req.NearRPCURL, req.ContractID, nil); err != nil {
			return nil, errorsx.Wrap(errorsx.NearRPCFailed, "on-chain authentication verification failed", err)
		}
	}

	wrapKeySeed, err := cryptoutil.DeriveKey(
		append(append([]byte{}, req.PRFFirstAuth...), active.keypair.SecretKey.D.Bytes()...),
		[]byte(req.SessionID),
		infoWrapKeySeed,
		32,
	)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "wrap-key seed derivation failed", err)
	}
	defer cryptoutil.ZeroBytes(wrapKeySeed)

	wrapKeySalt := req.WrapKeySalt
	if len(wrapKeySalt) == 0 {
		wrapKeySalt, err = cryptoutil.GenerateRandomBytes(32)
		if err != nil {
			return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "wrap-key salt generation failed", err)
		}
	}

	ttl := time.Duration(req.TTLMs) * time.Millisecond
	if req.TTLMs <= 0 {
		ttl = m.cfg.SessionDefaultTTL
	}
	remainingUses := req.RemainingUses
	if remainingUses <= 0 {
		remainingUses = m.cfg.SessionDefaultRemainingUses
	}

	// The minted seed is kept so a later warm-session dispense can
	// re-transmit this exact value; there is no WebAuthn ceremony on the
	// dispense path to re-derive it from.
	entry := &sessionEntry{
		sessionID:     req.SessionID,
		accountID:     active.accountID,
		wrapKeySeed:   append([]byte{}, wrapKeySeed...),
		wrapKeySalt:   wrapKeySalt,
		remainingUses: remainingUses,
		expiresAt:     time.Now().Add(ttl),
	}

	m.mu.Lock()
	_, existed := m.sessions[req.SessionID]
	m.sessions[req.SessionID] = entry
	m.mu.Unlock()

	if m.metrics != nil {
		from := "not_found"
		if existed {
			from = "active"
		}
		m.metrics.RecordSessionTransition(from, "active")
	}
	m.logger.LogSessionTransition(ctx, req.SessionID, "not_found", "active")

	if m.signer != nil {
		if err := m.signer.Send(ctx, req.SessionID, provider.SignerSessionMessage{
			WrapKeySeed: wrapKeySeed,
			WrapKeySalt: wrapKeySalt,
			PRFSecond:   req.PRFSecond,
		}); err != nil {
			return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "failed to deliver wrap-key seed to signer", err)
		}
	}

	return &MintResult{SessionID: req.SessionID, WrapKeySalt: wrapKeySalt}, nil
}

// DispenseSessionKey is the warm-session path: no WebAuthn ceremony, no
// PRF output available to derive from. Validates session state, decrements
// remainingUses, and re-transmits the exact wrap-key seed recorded at mint
// time (sessions have no way to reproduce it otherwise: the seed is a
// one-way KDF output of PRF.first, which is never persisted).
func (m *Manager) DispenseSessionKey(ctx context.Context, sessionID string, uses int) error {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	active := m.active
	m.mu.Unlock()

	if !ok {
		return errorsx.New(errorsx.SessionNotFound, "no session for id")
	}
	state := entry.state()
	if state == StateExpired {
		return errorsx.New(errorsx.SessionExpired, "session has expired")
	}
	if state == StateExhausted {
		return errorsx.New(errorsx.SessionExhausted, "session has no remaining uses")
	}
	if active == nil || active.accountID != entry.accountID {
		return errorsx.New(errorsx.VRFSessionMismatch, "vrf keypair not bound to session's account")
	}

	m.mu.Lock()
	entry.remainingUses -= uses
	newState := entry.state()
	m.mu.Unlock()

	if newState == StateExhausted {
		if m.metrics != nil {
			m.metrics.RecordSessionTransition("active", "exhausted")
		}
		m.logger.LogSessionTransition(ctx, sessionID, "active", "exhausted")
	}

	if m.signer != nil {
		if err := m.signer.Send(ctx, sessionID, provider.SignerSessionMessage{
			WrapKeySeed: entry.wrapKeySeed,
			WrapKeySalt: entry.wrapKeySalt,
		}); err != nil {
			return errorsx.Wrap(errorsx.ConfirmationFailed, "failed to re-deliver wrap-key seed to signer", err)
		}
	}

	return nil
}

// state computes the entry's current lifecycle state without mutating it.
func (e *sessionEntry) state() State {
	if e.remainingUses <= 0 {
		return StateExhausted
	}
	if time.Now().After(e.expiresAt) {
		return StateExpired
	}
	return StateActive
}

// GetSessionStatus returns sessionID's current status without mutating it.
func (m *Manager) GetSessionStatus(sessionID string) SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		return SessionStatus{SessionID: sessionID, State: StateNotFound}
	}
	return SessionStatus{
		SessionID:     sessionID,
		State:         entry.state(),
		RemainingUses: entry.remainingUses,
		ExpiresAtMs:   entry.expiresAt.UnixMilli(),
	}
}

// ClearSession removes sessionID from the registry, transitioning it to
// not_found regardless of its prior state.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	cryptoutil.ZeroBytes(entry.wrapKeySeed)
	if m.metrics != nil {
		m.metrics.RecordSessionTransition(string(entry.state()), string(StateNotFound))
	}
	m.logger.LogSessionTransition(ctx, sessionID, string(entry.state()), string(StateNotFound))
}

// RotateAtRest re-encrypts the active VRF keypair under a freshly derived
// ChaCha20-Poly1305 key without changing the public key or invalidating
// active sessions. Orthogonal to the Shamir-3-pass relay flow; this guards
// against master-secret compromise between relay rounds.
func (m *Manager) RotateAtRest(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil, errorsx.New(errorsx.VRFSessionMismatch, "no active vrf keypair to rotate")
	}

	key, err := cryptoutil.DeriveKey(active.keypair.SecretKey.D.Bytes(), []byte(active.accountID), "secureconfirm/rotate-at-rest", 32)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "rotation key derivation failed", err)
	}
	defer cryptoutil.ZeroBytes(key)

	blob, err := cryptoutil.SealVRFKeypair(key, active.keypair.SecretKey.D.Bytes(), []byte(active.accountID))
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "rotation sealing failed", err)
	}

	m.mu.Lock()
	if m.active == active {
		m.active.keyVersion++
	}
	m.mu.Unlock()

	m.logger.Info(ctx, "vrf keypair rotated at rest", map[string]interface{}{"account_id": active.accountID})
	return blob, nil
}
