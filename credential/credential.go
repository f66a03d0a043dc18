// Package credential normalizes WebAuthn authenticator credentials and
// extracts the dual PRF outputs used to derive the VRF at-rest key and the
// Ed25519 wrap-key seed.
package credential

import (
	"encoding/base64"

	"github.com/tatchi-labs/secureconfirm/internal/cryptoutil"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
)

const (
	chacha20SaltPrefix = "chacha20-salt:"
	ed25519SaltPrefix  = "ed25519-salt:"
)

// Credential is the structured-clone-safe, normalized form of a WebAuthn
// credential: binary fields are base64url-encoded, transports defaults to
// an empty slice rather than nil/omitted when the platform does not report
// them.
type Credential struct {
	ID         string   `json:"id"`
	RawID      string   `json:"rawId"`
	Type       string   `json:"type"`
	Transports []string `json:"transports"`

	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`

	ClientDataJSON    string `json:"clientDataJSON"`
	AttestationObject string `json:"attestationObject,omitempty"`
	AuthenticatorData string `json:"authenticatorData,omitempty"`
	Signature         string `json:"signature,omitempty"`
	UserHandle        string `json:"userHandle,omitempty"`

	// PRF carries the dual PRF outputs once extracted. It is nil on a
	// freshly normalized credential and populated only by ExtractDualPRF,
	// and must be stripped via RemovePRFOutputGuard before the credential
	// crosses the host boundary.
	PRF *PRFOutputs `json:"prf,omitempty"`
}

// PRFOutputs holds the two base64url-encoded PRF evaluation results bound
// to a single credential: the ChaCha20 branch (VRF keypair at-rest key)
// and the Ed25519 branch (wrap-key seed / private-key export).
type PRFOutputs struct {
	Chacha20PrfOutput string `json:"chacha20PrfOutput"`
	Ed25519PrfOutput  string `json:"ed25519PrfOutput,omitempty"`
}

// RawCredential is the unprocessed shape returned by the WebAuthn
// collector, before normalization — Transports may be nil and PRF
// extension results may be entirely absent.
type RawCredential struct {
	ID                      string
	RawID                   []byte
	Type                    string
	Transports              []string
	AuthenticatorAttachment string
	ClientDataJSON          []byte
	AttestationObject       []byte
	AuthenticatorData       []byte
	Signature               []byte
	UserHandle              []byte
	Extensions              *PRFExtensionResults
}

// PRFExtensionResults mirrors the WebAuthn `prf.results` extension output.
// A nil pointer means the extension was not negotiated at all
// (PRF_UNSUPPORTED); a non-nil pointer with both fields empty means the
// platform claimed PRF support but returned nothing (PRF_MISSING).
type PRFExtensionResults struct {
	First  []byte
	Second []byte
}

// Normalize converts a RawCredential into the structured-clone-safe form,
// base64url-encoding binary fields and defaulting Transports to an empty
// (non-nil) slice.
func Normalize(raw RawCredential) *Credential {
	transports := raw.Transports
	if transports == nil {
		transports = []string{}
	}

	c := &Credential{
		ID:                      raw.ID,
		RawID:                   b64(raw.RawID),
		Type:                    raw.Type,
		Transports:              transports,
		AuthenticatorAttachment: raw.AuthenticatorAttachment,
		ClientDataJSON:          b64(raw.ClientDataJSON),
	}
	if raw.AttestationObject != nil {
		c.AttestationObject = b64(raw.AttestationObject)
	}
	if raw.AuthenticatorData != nil {
		c.AuthenticatorData = b64(raw.AuthenticatorData)
	}
	if raw.Signature != nil {
		c.Signature = b64(raw.Signature)
	}
	if raw.UserHandle != nil {
		c.UserHandle = b64(raw.UserHandle)
	}
	return c
}

// ExtractDualPRF extracts the ChaCha20 and Ed25519 PRF outputs from the raw
// extension results, failing with PRF_UNSUPPORTED when the extension was
// never negotiated and PRF_MISSING when it was negotiated but returned no
// usable output — both are treated as hard failures, not a
// silently-degraded path.
func ExtractDualPRF(ext *PRFExtensionResults) (*PRFOutputs, error) {
	if ext == nil {
		return nil, errorsx.New(errorsx.PRFUnsupported, "authenticator did not negotiate the PRF extension")
	}
	if len(ext.First) == 0 && len(ext.Second) == 0 {
		return nil, errorsx.New(errorsx.PRFMissing, "PRF extension results present but empty")
	}

	out := &PRFOutputs{
		Chacha20PrfOutput: base64.RawURLEncoding.EncodeToString(ext.First),
	}
	if len(ext.Second) > 0 {
		out.Ed25519PrfOutput = base64.RawURLEncoding.EncodeToString(ext.Second)
	}
	return out, nil
}

// RequireBothPRF is ExtractDualPRF plus the decrypt-key-flow requirement
// that PRF.second be present — offline private-key export
// cannot proceed with only the ChaCha20 branch.
func RequireBothPRF(ext *PRFExtensionResults) (*PRFOutputs, error) {
	out, err := ExtractDualPRF(ext)
	if err != nil {
		return nil, err
	}
	if out.Ed25519PrfOutput == "" {
		return nil, errorsx.New(errorsx.PRFMissing, "PRF.second required for private key export but was not returned")
	}
	return out, nil
}

// Chacha20Salt returns the deterministic 32-byte HKDF salt used to derive
// the VRF keypair's at-rest ChaCha20-Poly1305 key for accountID.
func Chacha20Salt(accountID string) []byte {
	return cryptoutil.Salt32(chacha20SaltPrefix, accountID)
}

// Ed25519Salt returns the deterministic 32-byte HKDF salt used to derive
// Ed25519-branch key material for accountID.
func Ed25519Salt(accountID string) []byte {
	return cryptoutil.Salt32(ed25519SaltPrefix, accountID)
}

// RemovePRFOutputGuard returns a shallow clone of c with PRF fields
// blanked, used to sanitize a credential before it crosses back out to a
// host that has no PRF-secret need for it.
func RemovePRFOutputGuard(c *Credential) *Credential {
	clone := *c
	clone.PRF = nil
	return &clone
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
