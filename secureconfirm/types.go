// Package secureconfirm is the single entry point that validates a typed
// confirmation request, merges the effective UI configuration, and drives
// the per-type flow state machine: RegistrationFlow,
// SigningFlow, and LocalOnlyFlow, each composing the NEAR, VRF, WebAuthn, and
// UI adapters through a confirmSession that centralizes cleanup.
package secureconfirm

import (
	"github.com/tatchi-labs/secureconfirm/credential"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/internal/security"
	"github.com/tatchi-labs/secureconfirm/intentdigest"
	"github.com/tatchi-labs/secureconfirm/provider"
)

// RequestType discriminates the request envelope's payload/summary shape.
type RequestType string

const (
	RequestSignTransaction      RequestType = "signTransaction"
	RequestSignNep413Message    RequestType = "signNep413Message"
	RequestRegisterAccount      RequestType = "registerAccount"
	RequestLinkDevice           RequestType = "linkDevice"
	RequestDecryptPrivateKey    RequestType = "decryptPrivateKeyWithPrf"
	RequestShowSecurePrivateKey RequestType = "showSecurePrivateKeyUi"
)

// SigningAuthMode selects whether SigningFlow prompts a fresh WebAuthn
// ceremony or reuses an already-minted warm session.
type SigningAuthMode string

const (
	SigningAuthWebAuthn    SigningAuthMode = "webauthn"
	SigningAuthWarmSession SigningAuthMode = "warmSession"
)

// forbiddenFields must never appear in a request payload or decision
// envelope. Checked at the JSON level, in RawPayload and Summary, before
// any typed decoding of the payload.
var forbiddenFields = []string{"prfOutput", "wrapKeySeed", "wrapKeySalt", "vrf_sk", "prfKey"}

// RpcCall names the contract/RPC endpoint backing a registration, link, or
// signing request.
type RpcCall struct {
	ContractID string `json:"contractId"`
	NearRPCURL string `json:"nearRpcUrl"`
}

// SignTransactionPayload is the payload for RequestSignTransaction.
type SignTransactionPayload struct {
	TxSigningRequests []intentdigest.TxInput `json:"txSigningRequests"`
	IntentDigest      string                 `json:"intentDigest"`
	RpcCall           RpcCall                `json:"rpcCall"`
	SigningAuthMode   SigningAuthMode        `json:"signingAuthMode"`
	SessionID         string                 `json:"sessionId,omitempty"`
	DeviceNumber      int                    `json:"deviceNumber,omitempty"`
}

// SignNep413Payload is the payload for RequestSignNep413Message.
type SignNep413Payload struct {
	NearAccountID   string          `json:"nearAccountId"`
	Message         string          `json:"message"`
	Recipient       string          `json:"recipient"`
	ContractID      string          `json:"contractId,omitempty"`
	NearRPCURL      string          `json:"nearRpcUrl,omitempty"`
	SigningAuthMode SigningAuthMode `json:"signingAuthMode"`
	SessionID       string          `json:"sessionId,omitempty"`
	DeviceNumber    int             `json:"deviceNumber,omitempty"`
}

// RegisterPayload is the payload for RequestRegisterAccount / RequestLinkDevice.
type RegisterPayload struct {
	NearAccountID string  `json:"nearAccountId"`
	DeviceNumber  int     `json:"deviceNumber,omitempty"`
	RpcCall       RpcCall `json:"rpcCall"`
}

// DecryptPrivateKeyPayload is the payload for RequestDecryptPrivateKey.
type DecryptPrivateKeyPayload struct {
	NearAccountID string `json:"nearAccountId"`
	PublicKey     string `json:"publicKey"`
}

// ShowSecurePrivateKeyPayload is the payload for RequestShowSecurePrivateKey.
type ShowSecurePrivateKeyPayload struct {
	NearAccountID string         `json:"nearAccountId"`
	PublicKey     string         `json:"publicKey"`
	PrivateKey    string         `json:"privateKey"`
	Variant       string         `json:"variant,omitempty"`
	Theme         provider.Theme `json:"theme,omitempty"`
}

// RequestEnvelope is the schema-version-2 request envelope.
// Payload is kept as a raw JSON-decoded map; validate runs the
// forbidden-field check on it, and only afterwards does the flow for Type
// decode it (decodePayload) into the concrete payload type.
type RequestEnvelope struct {
	SchemaVersion      int                           `json:"schemaVersion"`
	RequestID          string                        `json:"requestId"`
	Type               RequestType                   `json:"type"`
	Summary            map[string]interface{}        `json:"summary,omitempty"`
	RawPayload         map[string]interface{}        `json:"payload"`
	ConfirmationConfig *provider.ConfirmationConfig  `json:"confirmationConfig,omitempty"`
	IntentDigest       string                        `json:"intentDigest,omitempty"`

	// TimeoutMs / AbortSignal model the request's cancellation contract:
	// AbortSignal is a channel closed by the caller to request
	// cancellation, never serialized on the wire.
	TimeoutMs   int64           `json:"timeoutMs,omitempty"`
	AbortSignal <-chan struct{} `json:"-"`
}

// DecisionEnvelope is the response correlated by RequestID.
// At most one of Credential/Error is meaningful; Confirmed is true iff
// Error is nil.
type DecisionEnvelope struct {
	RequestID          string                 `json:"requestId"`
	IntentDigest       string                 `json:"intentDigest,omitempty"`
	Confirmed          bool                   `json:"confirmed"`
	Credential         *credential.Credential `json:"credential,omitempty"`
	VRFChallenge       interface{}            `json:"vrfChallenge,omitempty"`
	TransactionContext *provider.NearContext  `json:"transactionContext,omitempty"`
	Error              *DecisionError         `json:"error,omitempty"`

	// confirmHandle is the private UI handle; never serialized and
	// stripped before any cross-boundary send.
	confirmHandle provider.ConfirmHandle `json:"-"`
}

// DecisionError is the wire form of a terminal failure.
type DecisionError struct {
	Kind    errorsx.Kind `json:"kind"`
	Message string       `json:"message"`
}

// sanitizeForWire strips the private confirm handle so d can cross the host
// boundary. It returns a copy and leaves d itself unchanged.
func (d *DecisionEnvelope) sanitizeForWire() *DecisionEnvelope {
	clone := *d
	clone.confirmHandle = nil
	return &clone
}

func errorDecision(requestID string, err error) *DecisionEnvelope {
	return &DecisionEnvelope{
		RequestID: requestID,
		Confirmed: false,
		Error: &DecisionError{
			Kind:    errorsx.KindOf(err),
			Message: security.SanitizeError(err),
		},
	}
}
