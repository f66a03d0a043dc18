package secureconfirm

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tatchi-labs/secureconfirm/credential"
	"github.com/tatchi-labs/secureconfirm/internal/config"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/internal/logging"
	"github.com/tatchi-labs/secureconfirm/intentdigest"
	"github.com/tatchi-labs/secureconfirm/provider"
	"github.com/tatchi-labs/secureconfirm/storage"
	"github.com/tatchi-labs/secureconfirm/vrfsession"
)

// fakeNear is a scriptable provider.NearProvider.
type fakeNear struct {
	mu             sync.Mutex
	blockHeight    uint64
	blockHash      string
	fetchErr       error
	releasedNonces [][]uint64
}

func newFakeNear() *fakeNear {
	return &fakeNear{blockHeight: 100, blockHash: "hash-100"}
}

func (f *fakeNear) FetchNearContext(ctx context.Context, req provider.NearContextRequest) provider.NearContextResult {
	if f.fetchErr != nil {
		return provider.NearContextResult{Err: f.fetchErr}
	}
	nonces := make([]uint64, req.TxCount)
	for i := range nonces {
		nonces[i] = uint64(i + 1)
	}
	return provider.NearContextResult{
		TransactionContext: &provider.NearContext{TxBlockHeight: f.blockHeight, TxBlockHash: f.blockHash},
		ReservedNonces:     nonces,
	}
}

func (f *fakeNear) ReleaseReservedNonces(ctx context.Context, nonces []uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releasedNonces = append(f.releasedNonces, nonces)
}

func (f *fakeNear) VerifyAuthenticationResponse(ctx context.Context, rpcURL, contractID string, cred *credential.Credential) error {
	return nil
}

func (f *fakeNear) LatestFinalizedBlock(ctx context.Context) (uint64, string, error) {
	return f.blockHeight, f.blockHash, nil
}

func (f *fakeNear) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.releasedNonces)
}

// fakeWeb is a scriptable provider.WebAuthnCollector.
type fakeWeb struct {
	authCred    *credential.Credential
	authErr     error
	regCred     *credential.Credential
	regErrOnce  error
	regAttempts []int
}

func (f *fakeWeb) CollectAuthenticationCredentialWithPRF(ctx context.Context, req provider.AuthenticationCollectRequest) (*credential.Credential, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.authCred, nil
}

func (f *fakeWeb) CreateRegistrationCredential(ctx context.Context, req provider.RegistrationCreateRequest) (*credential.Credential, error) {
	f.regAttempts = append(f.regAttempts, req.DeviceNumber)
	if f.regErrOnce != nil && len(f.regAttempts) == 1 {
		return nil, f.regErrOnce
	}
	return f.regCred, nil
}

// fakeHandle is a provider.ConfirmHandle that records calls.
type fakeHandle struct {
	mu          sync.Mutex
	updates     []map[string]interface{}
	closedWith  []bool
	closedCount int
}

func (h *fakeHandle) Update(partial map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, partial)
}

func (h *fakeHandle) Close(confirmed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closedCount++
	h.closedWith = append(h.closedWith, confirmed)
}

// fakeUI is a scriptable provider.UIRenderer.
type fakeUI struct {
	confirmed bool
	err       error
	handle    *fakeHandle
}

func newFakeUI(confirmed bool) *fakeUI {
	return &fakeUI{confirmed: confirmed, handle: &fakeHandle{}}
}

func (f *fakeUI) RenderConfirmUI(ctx context.Context, req provider.RenderRequest) provider.RenderResult {
	return provider.RenderResult{Confirmed: f.confirmed, Handle: f.handle, Err: f.err}
}

// fakeSigner is a no-op provider.SignerChannel.
type fakeSigner struct{}

func (fakeSigner) Send(ctx context.Context, sessionID string, msg provider.SignerSessionMessage) error {
	return nil
}

func testOrchestrator(near provider.NearProvider, web provider.WebAuthnCollector, ui provider.UIRenderer, store storage.Store) (*Orchestrator, *vrfsession.Manager) {
	cfg := config.Default()
	cfg.SessionDefaultTTL = time.Minute
	cfg.SessionDefaultRemainingUses = 1
	cfg.RateLimitPerSecond = 1000
	cfg.RateLimitBurst = 1000

	logger := logging.New("secureconfirm-test", "error", "json")
	vrf := vrfsession.NewManager(vrfsession.Deps{Config: cfg, Logger: logger, Signer: fakeSigner{}, Store: store})

	o := New(Deps{
		Config: cfg,
		Logger: logger,
		Near:   near,
		Web:    web,
		UI:     ui,
		VRF:    vrf,
		Store:  store,
	})
	return o, vrf
}

func envelope(requestID string, reqType RequestType, payload map[string]interface{}) *RequestEnvelope {
	return &RequestEnvelope{
		SchemaVersion: currentSchemaVersion,
		RequestID:     requestID,
		Type:          reqType,
		RawPayload:    payload,
	}
}

func credWithBothPRF(id string) *credential.Credential {
	return &credential.Credential{
		ID:   id,
		Type: "public-key",
		PRF: &credential.PRFOutputs{
			Chacha20PrfOutput: base64.RawURLEncoding.EncodeToString([]byte("chacha-prf-output-bytes")),
			Ed25519PrfOutput:  base64.RawURLEncoding.EncodeToString([]byte("ed25519-prf-output-bytes")),
		},
	}
}

func TestHandleRequestRejectsForbiddenField(t *testing.T) {
	o, _ := testOrchestrator(newFakeNear(), &fakeWeb{}, newFakeUI(true), storage.NewMemoryStore())

	req := envelope("req-1", RequestSignTransaction, map[string]interface{}{
		"wrapKeySeed": "should-never-be-here",
	})

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.False(t, decision.Confirmed)
	require.NotNil(t, decision.Error)
	require.Equal(t, errorsx.InvalidRequest, decision.Error.Kind)
}

func TestHandleRequestRejectsDuplicateRequestID(t *testing.T) {
	o, _ := testOrchestrator(newFakeNear(), &fakeWeb{}, newFakeUI(false), storage.NewMemoryStore())

	req := envelope("dup-1", RequestShowSecurePrivateKey, map[string]interface{}{
		"nearAccountId": "alice.near",
		"privateKey":    "ed25519:deadbeef",
	})

	first := o.HandleRequest(context.Background(), req, ClientContext{})
	require.False(t, first.Confirmed)

	second := o.HandleRequest(context.Background(), req, ClientContext{})
	require.False(t, second.Confirmed)
	require.Equal(t, errorsx.InvalidRequest, second.Error.Kind)
}

func TestRegistrationFlowHappyPath(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{regCred: credWithBothPRF("cred-alice-1")}
	ui := newFakeUI(true)
	store := storage.NewMemoryStore()
	o, _ := testOrchestrator(near, web, ui, store)

	req := envelope("reg-1", RequestRegisterAccount, map[string]interface{}{
		"nearAccountId": "alice.near",
	})

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.True(t, decision.Confirmed)
	require.NotNil(t, decision.Credential)
	require.Equal(t, "cred-alice-1", decision.Credential.ID)
	require.Equal(t, 1, ui.handle.closedCount)

	authenticators, err := store.ListAuthenticators(context.Background(), "alice.near")
	require.NoError(t, err)
	require.Len(t, authenticators, 1)
	require.Equal(t, "cred-alice-1", authenticators[0].CredentialID)
}

func TestRegistrationFlowRetriesOnDuplicateCredential(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{
		regCred:    credWithBothPRF("cred-bob-2"),
		regErrOnce: errorsx.New(errorsx.ConfirmationFailed, "InvalidStateError: already registered"),
	}
	ui := newFakeUI(true)
	store := storage.NewMemoryStore()
	o, _ := testOrchestrator(near, web, ui, store)

	req := envelope("reg-2", RequestRegisterAccount, map[string]interface{}{
		"nearAccountId": "bob.near",
		"deviceNumber":  float64(1),
	})

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.True(t, decision.Confirmed)
	require.Equal(t, []int{1, 2}, web.regAttempts)
}

func TestRegistrationFlowRequiresDualPRF(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{regCred: &credential.Credential{
		ID:  "cred-single-prf",
		PRF: &credential.PRFOutputs{Chacha20PrfOutput: base64.RawURLEncoding.EncodeToString([]byte("only-one"))},
	}}
	ui := newFakeUI(true)
	o, _ := testOrchestrator(near, web, ui, storage.NewMemoryStore())

	req := envelope("reg-3", RequestRegisterAccount, map[string]interface{}{
		"nearAccountId": "carol.near",
	})

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.False(t, decision.Confirmed)
	require.Equal(t, errorsx.PRFUnsupported, decision.Error.Kind)
}

// seedSigningFixtures registers an account (via a direct call into the VRF
// manager, bypassing the orchestrator) and stores the matching
// authenticator + key vault entry a subsequent SigningFlow needs.
func seedSigningFixtures(t *testing.T, vrf *vrfsession.Manager, store storage.Store, accountID, credentialID string) {
	t.Helper()
	_, err := vrf.GenerateVRFKeypairBootstrap(context.Background(), vrfsession.InputData{
		UserID: accountID, RpID: defaultRpID, BlockHeight: 100, BlockHash: "hash-100",
	}, true, "")
	require.NoError(t, err)

	require.NoError(t, store.PutAuthenticator(context.Background(), &storage.AuthenticatorRecord{
		AccountID:    accountID,
		CredentialID: credentialID,
		DeviceNumber: 1,
	}))
	require.NoError(t, store.PutKeyVaultEntry(context.Background(), &storage.KeyVaultEntry{
		AccountID:     accountID,
		DeviceNumber:  1,
		CredentialID:  credentialID,
		WrapKeySalt:   []byte("a-fixed-salt-value-32-bytes-xx!!"),
		SchemaVersion: 2,
	}))
}

func signTxPayload(t *testing.T, accountID, contractID string, authMode SigningAuthMode, sessionID string) map[string]interface{} {
	t.Helper()
	txs := []intentdigest.TxInput{{ReceiverID: accountID, Actions: []intentdigest.Action{{ActionType: "Transfer", Deposit: "1000000000000000000000000"}}}}
	digest, err := intentdigest.ComputeUIIntentDigestFromTxs(txs)
	require.NoError(t, err)

	return map[string]interface{}{
		"txSigningRequests": []map[string]interface{}{
			{"receiverId": accountID, "actions": []map[string]interface{}{{"action_type": "Transfer", "deposit": "1000000000000000000000000"}}},
		},
		"intentDigest":    digest,
		"rpcCall":         map[string]interface{}{"contractId": contractID},
		"signingAuthMode": string(authMode),
		"sessionId":       sessionID,
		"deviceNumber":    float64(1),
	}
}

func TestSigningFlowHappyPathVerifiesIntentDigest(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{authCred: credWithBothPRF("cred-dave-1")}
	ui := newFakeUI(true)
	store := storage.NewMemoryStore()
	o, vrf := testOrchestrator(near, web, ui, store)

	seedSigningFixtures(t, vrf, store, "dave.near", "cred-dave-1")

	payload := signTxPayload(t, "dave.near", "wallet.near", SigningAuthWebAuthn, "")
	req := envelope("sign-1", RequestSignTransaction, payload)

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.True(t, decision.Confirmed)
	require.Equal(t, payload["intentDigest"], decision.IntentDigest)
	require.NotNil(t, decision.Credential)
	require.Equal(t, 1, ui.handle.closedCount)
	require.True(t, ui.handle.closedWith[0])
}

func TestSigningFlowRejectsIntentDigestMismatch(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{authCred: credWithBothPRF("cred-erin-1")}
	ui := newFakeUI(true)
	store := storage.NewMemoryStore()
	o, vrf := testOrchestrator(near, web, ui, store)

	seedSigningFixtures(t, vrf, store, "erin.near", "cred-erin-1")

	payload := signTxPayload(t, "erin.near", "wallet.near", SigningAuthWebAuthn, "")
	payload["intentDigest"] = "sha256:tampered-digest-value"
	req := envelope("sign-2", RequestSignTransaction, payload)

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.False(t, decision.Confirmed)
	require.Equal(t, errorsx.IntentDigestMismatch, decision.Error.Kind)
	// The digest mismatch is caught while parsing the request, before any
	// NEAR nonce is ever reserved.
	require.Equal(t, 0, near.releaseCount())
}

func TestSigningFlowWarmSessionDispense(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{}
	ui := newFakeUI(true)
	store := storage.NewMemoryStore()
	o, vrf := testOrchestrator(near, web, ui, store)

	seedSigningFixtures(t, vrf, store, "frank.near", "cred-frank-1")

	prfFirst := []byte("a-fixed-prf-output-value-123456")
	mintRes, err := vrf.MintSessionKeysAndSendToSigner(context.Background(), vrfsession.MintRequest{
		SessionID:    "warm-session-1",
		PRFFirstAuth: prfFirst,
	})
	require.NoError(t, err)
	require.NotNil(t, mintRes)

	payload := signTxPayload(t, "frank.near", "wallet.near", SigningAuthWarmSession, "warm-session-1")
	req := envelope("sign-3", RequestSignTransaction, payload)

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.True(t, decision.Confirmed)
	require.Nil(t, decision.Credential)
}

func TestSigningFlowUserCancelReleasesNoncesAndSendsOneResponse(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{authCred: credWithBothPRF("cred-grace-1")}
	ui := newFakeUI(false)
	store := storage.NewMemoryStore()
	o, vrf := testOrchestrator(near, web, ui, store)

	seedSigningFixtures(t, vrf, store, "grace.near", "cred-grace-1")

	payload := signTxPayload(t, "grace.near", "wallet.near", SigningAuthWebAuthn, "")
	req := envelope("sign-4", RequestSignTransaction, payload)

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.False(t, decision.Confirmed)
	require.Equal(t, errorsx.UserCancelled, decision.Error.Kind)
	require.Equal(t, 1, near.releaseCount())
	require.Equal(t, 1, ui.handle.closedCount)
	require.False(t, ui.handle.closedWith[0])
}

func TestLocalOnlyDecryptRequiresBothPRFOutputs(t *testing.T) {
	near := newFakeNear()
	web := &fakeWeb{authCred: &credential.Credential{
		ID:  "cred-single",
		PRF: &credential.PRFOutputs{Chacha20PrfOutput: base64.RawURLEncoding.EncodeToString([]byte("only-chacha"))},
	}}
	store := storage.NewMemoryStore()
	require.NoError(t, store.PutAuthenticator(context.Background(), &storage.AuthenticatorRecord{
		AccountID: "heidi.near", CredentialID: "cred-single", DeviceNumber: 1,
	}))
	o, _ := testOrchestrator(near, web, newFakeUI(true), store)

	req := envelope("decrypt-1", RequestDecryptPrivateKey, map[string]interface{}{
		"nearAccountId": "heidi.near",
		"publicKey":     "ed25519:abc",
	})

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.False(t, decision.Confirmed)
	require.Equal(t, errorsx.PRFMissing, decision.Error.Kind)
}

func TestShowSecurePrivateKeyUIClosesHandleImmediately(t *testing.T) {
	near := newFakeNear()
	ui := newFakeUI(true)
	o, _ := testOrchestrator(near, &fakeWeb{}, ui, storage.NewMemoryStore())

	req := envelope("show-1", RequestShowSecurePrivateKey, map[string]interface{}{
		"nearAccountId": "ivan.near",
		"publicKey":     "ed25519:abc",
		"privateKey":    "ed25519:deadbeef",
	})

	decision := o.HandleRequest(context.Background(), req, ClientContext{})
	require.True(t, decision.Confirmed)
	require.Equal(t, 1, ui.handle.closedCount)
}

func TestConfirmSessionFinishIsIdempotent(t *testing.T) {
	near := newFakeNear()
	sess := newConfirmSession("req-x", near, nil)
	sess.trackNonces([]uint64{7, 8})

	first := sess.finish(context.Background(), &DecisionEnvelope{RequestID: "req-x", Confirmed: false})
	require.NotNil(t, first)

	second := sess.finish(context.Background(), &DecisionEnvelope{RequestID: "req-x", Confirmed: false})
	require.Nil(t, second)

	require.Equal(t, 1, near.releaseCount())
}

func TestMergeConfirmationConfigClampsAutoProceedOnIOSWithoutActivation(t *testing.T) {
	client := ClientContext{IsIOSOrSafariMobile: true, HasUserActivation: false}
	override := &provider.ConfirmationConfig{Behavior: provider.BehaviorAutoProceed, UIMode: provider.UIModeSkip}

	cfg := mergeConfirmationConfig(RequestSignTransaction, override, nil, client)
	require.Equal(t, provider.BehaviorRequireClick, cfg.Behavior)
	require.Equal(t, provider.UIModeDrawer, cfg.UIMode)
}

func TestMergeConfirmationConfigForcesModalInCrossOriginWalletIframe(t *testing.T) {
	client := ClientContext{IsWalletIframe: true, IsCrossOrigin: true}
	userPrefs := &provider.ConfirmationConfig{UIMode: provider.UIModeSkip, Behavior: provider.BehaviorAutoProceed}

	cfg := mergeConfirmationConfig(RequestSignTransaction, nil, userPrefs, client)
	require.Equal(t, provider.UIModeModal, cfg.UIMode)
	require.Equal(t, provider.BehaviorRequireClick, cfg.Behavior)
}

func TestMergeConfirmationConfigRespectsExplicitOptOutInCrossOriginIframe(t *testing.T) {
	client := ClientContext{IsWalletIframe: true, IsCrossOrigin: true}
	override := &provider.ConfirmationConfig{UIMode: provider.UIModeSkip}

	cfg := mergeConfirmationConfig(RequestSignTransaction, override, nil, client)
	require.Equal(t, provider.UIModeSkip, cfg.UIMode)
}

func TestMergeConfirmationConfigForcesSkipForDecryptPrivateKey(t *testing.T) {
	cfg := mergeConfirmationConfig(RequestDecryptPrivateKey, nil, nil, ClientContext{})
	require.Equal(t, provider.UIModeSkip, cfg.UIMode)
}
