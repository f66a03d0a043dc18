package vrfsession

import (
	"context"

	"github.com/tatchi-labs/secureconfirm/internal/cryptoutil"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
)

// Shamir3PassBlindRequest parameterizes Shamir3PassEncryptCurrentVRFKeypair:
// serverKeyId names the opaque server-side key the relay blinds against.
type Shamir3PassBlindRequest struct {
	ServerKeyID string
}

// Shamir3PassBlindResult carries the locally-blinded VRF secret scalar for
// relay to the counterparty; the caller never sees the underlying scalar.
type Shamir3PassBlindResult struct {
	ServerKeyID  string
	BlindedValue []byte
}

// Shamir3PassEncryptCurrentVRFKeypair returns SHA-256 over the active VRF
// secret scalar and a blind derived from that scalar and serverKeyId, so the
// raw scalar is never handed to the relay counterparty. The result is a
// one-way hash: the blind is not commutative and cannot be removed, and
// the scalar cannot be recovered from it.
func (m *Manager) Shamir3PassEncryptCurrentVRFKeypair(ctx context.Context, req Shamir3PassBlindRequest) (*Shamir3PassBlindResult, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil, errorsx.New(errorsx.VRFSessionMismatch, "no active vrf keypair to relay")
	}
	if req.ServerKeyID == "" {
		return nil, errorsx.New(errorsx.InvalidRequest, "serverKeyId is required for shamir-3-pass relay")
	}

	blind, err := cryptoutil.DeriveKey(active.keypair.SecretKey.D.Bytes(), []byte(req.ServerKeyID), infoShamirRelayBlind, 32)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "shamir-3-pass blind derivation failed", err)
	}

	blinded := cryptoutil.Hash256(active.keypair.SecretKey.D.Bytes(), blind)
	cryptoutil.ZeroBytes(blind)

	m.logger.Debug(ctx, "shamir-3-pass blind produced", map[string]interface{}{"server_key_id": req.ServerKeyID})
	return &Shamir3PassBlindResult{ServerKeyID: req.ServerKeyID, BlindedValue: blinded}, nil
}

// Shamir3PassDecryptRequest carries the counterparty's doubly-blinded value
// back for the final unblind pass.
type Shamir3PassDecryptRequest struct {
	ServerKeyID  string
	RelayedValue []byte
	AccountID    string
}

// Shamir3PassDecryptVRFKeypair returns SHA-256 over the counterparty's
// relayed value and this manager's blind for serverKeyId. It does not
// remove any blind from the relayed value, does not recover or verify a
// VRF keypair, and leaves the active keypair unchanged.
func (m *Manager) Shamir3PassDecryptVRFKeypair(ctx context.Context, req Shamir3PassDecryptRequest) ([]byte, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil, errorsx.New(errorsx.VRFSessionMismatch, "no active vrf keypair to relay")
	}
	if len(req.RelayedValue) == 0 {
		return nil, errorsx.New(errorsx.InvalidRequest, "relayedValue is required to complete the shamir-3-pass exchange")
	}

	blind, err := cryptoutil.DeriveKey(active.keypair.SecretKey.D.Bytes(), []byte(req.ServerKeyID), infoShamirRelayBlind, 32)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "shamir-3-pass blind derivation failed", err)
	}
	defer cryptoutil.ZeroBytes(blind)

	unblinded := cryptoutil.Hash256(req.RelayedValue, blind)
	m.logger.Debug(ctx, "shamir-3-pass relay completed", map[string]interface{}{"account_id": req.AccountID})
	return unblinded, nil
}
