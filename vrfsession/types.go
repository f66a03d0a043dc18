// Package vrfsession hosts the VRF keypair in an isolated, single-writer
// execution context, generates challenges bound to
// {userId, rpId, blockHeight, blockHash, intentDigest}, and mints
// ephemeral signing sessions (TTL + remaining-uses) whose wrap-key seeds
// are delivered out-of-band to the signer worker.
package vrfsession

import (
	"strconv"

	"github.com/tatchi-labs/secureconfirm/internal/cryptoutil"
)

// InputData parameterizes a VRF challenge: the alpha input is
// hash(userId || rpId || blockHeight || blockHash || intentDigest?).
type InputData struct {
	UserID       string
	RpID         string
	BlockHeight  uint64
	BlockHash    string
	IntentDigest string // optional; empty means absent from the hash input
}

func (in InputData) alpha() []byte {
	return cryptoutil.Hash256(
		[]byte(in.UserID),
		[]byte(in.RpID),
		[]byte(strconv.FormatUint(in.BlockHeight, 10)),
		[]byte(in.BlockHash),
		[]byte(in.IntentDigest),
	)
}

// Challenge is the wire form of a generated VRF challenge. Binary fields are base64url-encoded.
type Challenge struct {
	VRFInput     string `json:"vrfInput"`
	VRFOutput    string `json:"vrfOutput"`
	VRFProof     string `json:"vrfProof"`
	VRFPublicKey string `json:"vrfPublicKey"`
	UserID       string `json:"userId"`
	RpID         string `json:"rpId"`
	BlockHeight  uint64 `json:"blockHeight"`
	BlockHash    string `json:"blockHash"`
}

// State is the lifecycle state of a signing session: not_found → active → {exhausted | expired} → not_found.
type State string

const (
	StateActive    State = "active"
	StateExhausted State = "exhausted"
	StateExpired   State = "expired"
	StateNotFound  State = "not_found"
)

// SessionStatus is the result of a non-mutating session status query.
type SessionStatus struct {
	SessionID     string
	State         State
	RemainingUses int
	ExpiresAtMs   int64
}

// VRFStatus summarizes whether a VRF keypair is currently active in
// memory and which account it is bound to.
type VRFStatus struct {
	Active    bool
	AccountID string
	PublicKey string // base64url, empty when Active is false
}

// DeriveResult is the outcome of DeriveVRFKeypairFromPRF.
type DeriveResult struct {
	VRFPublicKey              string
	VRFChallenge              *Challenge // nil unless InputData was provided
	EncryptedVRFKeypair       []byte
	ServerEncryptedVRFKeypair []byte // never set by DeriveVRFKeypairFromPRF; always nil
}

// BootstrapResult is the outcome of GenerateVRFKeypairBootstrap.
type BootstrapResult struct {
	VRFPublicKey string
	VRFChallenge *Challenge
}

// MintRequest parameterizes MintSessionKeysAndSendToSigner.
type MintRequest struct {
	SessionID     string
	PRFFirstAuth  []byte
	WrapKeySalt   []byte // generated when absent
	ContractID    string
	NearRPCURL    string
	TTLMs         int64 // 0 = use configured default
	RemainingUses int   // 0 = use configured default
	PRFSecond     []byte
}

// MintResult is returned to the host; it never contains the wrap-key seed.
type MintResult struct {
	SessionID   string
	WrapKeySalt []byte
}
