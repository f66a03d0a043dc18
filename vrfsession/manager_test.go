package vrfsession

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
	"github.com/tatchi-labs/secureconfirm/provider"
)

type fakeSigner struct {
	mu       sync.Mutex
	messages map[string]provider.SignerSessionMessage
	failNext bool
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{messages: make(map[string]provider.SignerSessionMessage)}
}

func (f *fakeSigner) Send(ctx context.Context, sessionID string, msg provider.SignerSessionMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errorsx.New(errorsx.ConfirmationFailed, "signer unreachable")
	}
	f.messages[sessionID] = msg
	return nil
}

func (f *fakeSigner) lastSeed(sessionID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID].WrapKeySeed
}

func testManager(signer provider.SignerChannel) *Manager {
	cfg := config.Default()
	cfg.SessionDefaultTTL = 50 * time.Millisecond
	cfg.SessionDefaultRemainingUses = 2
	return NewManager(Deps{Config: cfg, Signer: signer})
}

func TestBootstrapThenMintThenDispenseHappyPath(t *testing.T) {
	signer := newFakeSigner()
	m := testManager(signer)

	input := InputData{UserID: "alice.near", RpID: "example.com", BlockHeight: 100, BlockHash: "h1"}
	boot, err := m.GenerateVRFKeypairBootstrap(context.Background(), input, true, "")
	require.NoError(t, err)
	require.NotEmpty(t, boot.VRFPublicKey)
	require.NotNil(t, boot.VRFChallenge)

	status := m.CheckVRFStatus()
	require.True(t, status.Active)
	require.Equal(t, "alice.near", status.AccountID)

	mintRes, err := m.MintSessionKeysAndSendToSigner(context.Background(), MintRequest{
		SessionID:    "sess-1",
		PRFFirstAuth: []byte("prf-first-bytes"),
	})
	require.NoError(t, err)
	require.Equal(t, "sess-1", mintRes.SessionID)
	require.NotEmpty(t, mintRes.WrapKeySalt)
	mintedSeed := append([]byte{}, signer.lastSeed("sess-1")...)
	require.NotEmpty(t, mintedSeed)

	status2 := m.GetSessionStatus("sess-1")
	require.Equal(t, StateActive, status2.State)
	require.Equal(t, 2, status2.RemainingUses)

	err = m.DispenseSessionKey(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Equal(t, mintedSeed, signer.lastSeed("sess-1"))

	status3 := m.GetSessionStatus("sess-1")
	require.Equal(t, StateActive, status3.State)
	require.Equal(t, 1, status3.RemainingUses)

	err = m.DispenseSessionKey(context.Background(), "sess-1", 1)
	require.NoError(t, err)

	status4 := m.GetSessionStatus("sess-1")
	require.Equal(t, StateExhausted, status4.State)
}

func TestDispenseFailsWhenExhausted(t *testing.T) {
	signer := newFakeSigner()
	m := testManager(signer)

	input := InputData{UserID: "bob.near", RpID: "example.com"}
	_, err := m.GenerateVRFKeypairBootstrap(context.Background(), input, true, "")
	require.NoError(t, err)

	_, err = m.MintSessionKeysAndSendToSigner(context.Background(), MintRequest{
		SessionID:     "sess-2",
		PRFFirstAuth:  []byte("prf"),
		RemainingUses: 1,
	})
	require.NoError(t, err)

	require.NoError(t, m.DispenseSessionKey(context.Background(), "sess-2", 1))

	err = m.DispenseSessionKey(context.Background(), "sess-2", 1)
	require.Error(t, err)
	var svcErr *errorsx.ServiceError
	require.True(t, errorsx.As(err, &svcErr))
	require.Equal(t, errorsx.SessionExhausted, svcErr.Kind)
}

func TestDispenseFailsWhenExpired(t *testing.T) {
	signer := newFakeSigner()
	m := testManager(signer)

	input := InputData{UserID: "carol.near", RpID: "example.com"}
	_, err := m.GenerateVRFKeypairBootstrap(context.Background(), input, true, "")
	require.NoError(t, err)

	_, err = m.MintSessionKeysAndSendToSigner(context.Background(), MintRequest{
		SessionID:    "sess-3",
		PRFFirstAuth: []byte("prf"),
		TTLMs:        5,
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	err = m.DispenseSessionKey(context.Background(), "sess-3", 1)
	require.Error(t, err)
	var svcErr *errorsx.ServiceError
	require.True(t, errorsx.As(err, &svcErr))
	require.Equal(t, errorsx.SessionExpired, svcErr.Kind)
}

func TestDispenseFailsForUnknownSession(t *testing.T) {
	m := testManager(newFakeSigner())
	err := m.DispenseSessionKey(context.Background(), "missing", 1)
	require.Error(t, err)
	var svcErr *errorsx.ServiceError
	require.True(t, errorsx.As(err, &svcErr))
	require.Equal(t, errorsx.SessionNotFound, svcErr.Kind)
}

func TestGetSessionStatusNotFound(t *testing.T) {
	m := testManager(newFakeSigner())
	status := m.GetSessionStatus("nope")
	require.Equal(t, StateNotFound, status.State)
}

func TestClearSessionRemovesEntry(t *testing.T) {
	signer := newFakeSigner()
	m := testManager(signer)

	_, err := m.GenerateVRFKeypairBootstrap(context.Background(), InputData{UserID: "dave.near"}, true, "")
	require.NoError(t, err)
	_, err = m.MintSessionKeysAndSendToSigner(context.Background(), MintRequest{SessionID: "sess-4", PRFFirstAuth: []byte("prf")})
	require.NoError(t, err)

	m.ClearSession(context.Background(), "sess-4")
	require.Equal(t, StateNotFound, m.GetSessionStatus("sess-4").State)
}

func TestMintFailsWithoutActiveKeypair(t *testing.T) {
	m := testManager(newFakeSigner())
	_, err := m.MintSessionKeysAndSendToSigner(context.Background(), MintRequest{SessionID: "sess-5", PRFFirstAuth: []byte("prf")})
	require.Error(t, err)
	var svcErr *errorsx.ServiceError
	require.True(t, errorsx.As(err, &svcErr))
	require.Equal(t, errorsx.VRFSessionMismatch, svcErr.Kind)
}

func TestMintPropagatesSignerFailure(t *testing.T) {
	signer := newFakeSigner()
	signer.failNext = true
	m := testManager(signer)

	_, err := m.GenerateVRFKeypairBootstrap(context.Background(), InputData{UserID: "erin.near"}, true, "")
	require.NoError(t, err)

	_, err = m.MintSessionKeysAndSendToSigner(context.Background(), MintRequest{SessionID: "sess-6", PRFFirstAuth: []byte("prf")})
	require.Error(t, err)
}

func TestDeriveVRFKeypairFromPRFIsDeterministic(t *testing.T) {
	m := testManager(newFakeSigner())
	prfFirst := []byte("a-fixed-prf-output-value")

	r1, err := m.DeriveVRFKeypairFromPRF(context.Background(), "frank.near", prfFirst, nil, false)
	require.NoError(t, err)
	r2, err := m.DeriveVRFKeypairFromPRF(context.Background(), "frank.near", prfFirst, nil, false)
	require.NoError(t, err)

	require.Equal(t, r1.VRFPublicKey, r2.VRFPublicKey)
}

func TestUnlockVRFKeypairRoundTrip(t *testing.T) {
	m := testManager(newFakeSigner())
	prfFirst := []byte("unlock-roundtrip-prf")

	derived, err := m.DeriveVRFKeypairFromPRF(context.Background(), "grace.near", prfFirst, nil, false)
	require.NoError(t, err)

	cred := &credential.Credential{
		PRF: &credential.PRFOutputs{
			Chacha20PrfOutput: base64.RawURLEncoding.EncodeToString(prfFirst),
		},
	}
	err = m.UnlockVRFKeypair(context.Background(), "grace.near", derived.EncryptedVRFKeypair, cred)
	require.NoError(t, err)

	status := m.CheckVRFStatus()
	require.True(t, status.Active)
	require.Equal(t, derived.VRFPublicKey, status.PublicKey)
}

func TestClearVRFSessionDeactivates(t *testing.T) {
	m := testManager(newFakeSigner())
	_, err := m.GenerateVRFKeypairBootstrap(context.Background(), InputData{UserID: "heidi.near"}, true, "")
	require.NoError(t, err)
	require.True(t, m.CheckVRFStatus().Active)

	m.ClearVRFSession()
	require.False(t, m.CheckVRFStatus().Active)
}

func TestShamir3PassEncryptThenDecryptReturnsValues(t *testing.T) {
	m := testManager(newFakeSigner())
	_, err := m.GenerateVRFKeypairBootstrap(context.Background(), InputData{UserID: "ivan.near"}, true, "")
	require.NoError(t, err)

	blind, err := m.Shamir3PassEncryptCurrentVRFKeypair(context.Background(), Shamir3PassBlindRequest{ServerKeyID: "server-key-1"})
	require.NoError(t, err)
	require.NotEmpty(t, blind.BlindedValue)

	unblinded, err := m.Shamir3PassDecryptVRFKeypair(context.Background(), Shamir3PassDecryptRequest{
		ServerKeyID:  "server-key-1",
		RelayedValue: blind.BlindedValue,
		AccountID:    "ivan.near",
	})
	require.NoError(t, err)
	require.NotEmpty(t, unblinded)
}

func TestRotateAtRestRequiresActiveKeypair(t *testing.T) {
	m := testManager(newFakeSigner())
	_, err := m.RotateAtRest(context.Background())
	require.Error(t, err)
}

func TestRotateAtRestProducesFreshBlob(t *testing.T) {
	m := testManager(newFakeSigner())
	_, err := m.GenerateVRFKeypairBootstrap(context.Background(), InputData{UserID: "judy.near"}, true, "")
	require.NoError(t, err)

	blob, err := m.RotateAtRest(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, blob)
}
