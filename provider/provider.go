// Package provider pins the narrow external interfaces the orchestrator
// and VRF session manager depend on but never implement themselves: the
// NEAR RPC client, the WebAuthn collector, the confirmation UI, and the
// VRF↔signer message channel. Concrete implementations live
// outside this package; this package only defines the contract shapes.
package provider

import (
	"context"

	"github.com/tatchi-labs/secureconfirm/credential"
)

// NearContext is the transaction context returned by fetching NEAR state
// for an account.
type NearContext struct {
	NearPublicKey string
	AccessKeyInfo interface{}
	NextNonce     uint64
	TxBlockHeight uint64
	TxBlockHash   string
}

// NearContextRequest parameterizes FetchNearContext.
type NearContextRequest struct {
	AccountID     string
	TxCount       int
	ReserveNonces bool
}

// NearContextResult is the outcome of FetchNearContext: either a populated
// TransactionContext plus any reserved nonces, or a non-nil Err.
type NearContextResult struct {
	TransactionContext *NearContext
	ReservedNonces     []uint64
	Err                error
}

// NearProvider is the external collaborator for NEAR RPC access —
// transaction context lookups, nonce reservation/release, and on-chain
// authentication-response verification for session minting.
type NearProvider interface {
	FetchNearContext(ctx context.Context, req NearContextRequest) NearContextResult
	ReleaseReservedNonces(ctx context.Context, nonces []uint64)

	// VerifyAuthenticationResponse invokes the on-chain
	// verify_authentication_response view/call for contractId when the
	// session-mint request asked for on-chain verification.
	VerifyAuthenticationResponse(ctx context.Context, rpcURL, contractID string, credential *credential.Credential) error

	// LatestFinalizedBlock synthesizes a minimal transaction context for
	// registration/link fallback when the primary fetch fails.
	LatestFinalizedBlock(ctx context.Context) (blockHeight uint64, blockHash string, err error)
}

// AuthenticationCollectRequest parameterizes
// WebAuthnCollector.CollectAuthenticationCredentialWithPRF.
type AuthenticationCollectRequest struct {
	AccountID        string
	VRFChallenge     []byte
	AllowCredentials []string
	IncludeSecondPRF bool
}

// RegistrationCreateRequest parameterizes
// WebAuthnCollector.CreateRegistrationCredential.
type RegistrationCreateRequest struct {
	AccountID    string
	Challenge    []byte
	DeviceNumber int
}

// WebAuthnCollector is the external collaborator performing the actual
// authenticator ceremonies. User cancellation surfaces as a
// *errorsx.ServiceError with Kind=USER_CANCELLED; platform "already
// registered" conditions surface distinguishably so RegistrationFlow can
// retry with a bumped device number.
type WebAuthnCollector interface {
	CollectAuthenticationCredentialWithPRF(ctx context.Context, req AuthenticationCollectRequest) (*credential.Credential, error)
	CreateRegistrationCredential(ctx context.Context, req RegistrationCreateRequest) (*credential.Credential, error)
}

// ConfirmHandle is the scoped resource representing a mounted UI
// confirmation element, guaranteed by the orchestrator to be closed
// exactly once on every exit path.
type ConfirmHandle interface {
	Update(partial map[string]interface{})
	Close(confirmed bool)
}

// RenderRequest parameterizes UIRenderer.RenderConfirmUI.
type RenderRequest struct {
	RequestID    string
	Config       ConfirmationConfig
	Summary      map[string]interface{}
	VRFChallenge interface{}
}

// RenderResult is the outcome of rendering the confirmation UI.
type RenderResult struct {
	Confirmed bool
	Handle    ConfirmHandle
	Err       error
}

// UIRenderer is the external collaborator that mounts/awaits/closes the
// confirmation UI. The flows call it for every effective uiMode, including
// uiMode=none; no flow skips rendering on the basis of uiMode.
type UIRenderer interface {
	RenderConfirmUI(ctx context.Context, req RenderRequest) RenderResult
}

// ConfirmationConfig is the effective per-request UI configuration after
// merging request override, user preferences, and runtime safety rules.
type ConfirmationConfig struct {
	UIMode           UIMode
	Behavior         Behavior
	AutoProceedDelay int
	Theme            Theme
}

// UIMode is the visual container for the confirmation UI.
type UIMode string

const (
	UIModeSkip   UIMode = "skip"
	UIModeModal  UIMode = "modal"
	UIModeDrawer UIMode = "drawer"
	UIModeNone   UIMode = "none"
)

// Behavior governs whether an explicit click is required to proceed.
type Behavior string

const (
	BehaviorRequireClick Behavior = "requireClick"
	BehaviorAutoProceed  Behavior = "autoProceed"
	BehaviorSkipClick    Behavior = "skipClick"
)

// Theme is the confirmation UI's color theme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// SignerSessionMessage is the opaque single-use payload delivered over the
// VRF↔signer channel. Every intermediary (host, orchestrator) treats this
// as opaque bytes; only the VRF manager produces it and only the signer
// consumes it.
type SignerSessionMessage struct {
	WrapKeySeed []byte
	WrapKeySalt []byte
	PRFSecond   []byte
}

// SignerChannel is the dedicated, bidirectional message-port pair between
// the VRF worker and the signer worker. Send delivers a
// single-use message for sessionId; the host never inspects payloads sent
// over this channel.
type SignerChannel interface {
	Send(ctx context.Context, sessionID string, msg SignerSessionMessage) error
}
