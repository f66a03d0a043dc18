package vrfsession

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/tatchi-labs/secureconfirm/credential"
	"github.com/tatchi-labs/secureconfirm/internal/cache"
	"github.com/tatchi-labs/secureconfirm/internal/config"
	"github.com/tatchi-labs/secureconfirm/internal/cryptoutil"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/internal/logging"
	"github.com/tatchi-labs/secureconfirm/internal/metrics"
	"github.com/tatchi-labs/secureconfirm/internal/secrets"
	"github.com/tatchi-labs/secureconfirm/provider"
	"github.com/tatchi-labs/secureconfirm/storage"
)

const (
	infoWrapKeySeed      = "secureconfirm/wrap-key-seed"
	infoVRFKeypairKey    = "secureconfirm/vrf-keypair-key"
	infoVRFKeypairSeed   = "secureconfirm/vrf-keypair-seed"
	infoShamirRelayBlind = "secureconfirm/shamir3pass-blind"
)

// activeKeypair is the single in-memory VRF identity the worker context
// owns. Only one account's keypair may be active at a time.
type activeKeypair struct {
	accountID  string
	keypair    *cryptoutil.VRFKeypair
	keyVersion int
}

// Manager is the VRF session worker. All mutation of active/sessions is
// serialized by mu: only one goroutine ever touches the active keypair or
// session table at a time.
type Manager struct {
	mu sync.Mutex

	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	cache   *cache.Cache

	secrets secrets.Provider
	store   storage.Store
	signer  provider.SignerChannel
	near    provider.NearProvider

	active   *activeKeypair
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sessionID     string
	accountID     string
	wrapKeySeed   []byte
	wrapKeySalt   []byte
	remainingUses int
	expiresAt     time.Time
}

// Deps bundles Manager's external collaborators.
type Deps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Cache   *cache.Cache
	Secrets secrets.Provider
	Store   storage.Store
	Signer  provider.SignerChannel
	Near    provider.NearProvider
}

// NewManager builds a Manager from deps, applying defaults for any
// optional collaborator left nil.
func NewManager(deps Deps) *Manager {
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logging.New("vrfsession", deps.Config.LogLevel, deps.Config.LogFormat)
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.DefaultConfig())
	}
	return &Manager{
		cfg:      deps.Config,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		cache:    deps.Cache,
		secrets:  deps.Secrets,
		store:    deps.Store,
		signer:   deps.Signer,
		near:     deps.Near,
		sessions: make(map[string]*sessionEntry),
	}
}

// UnlockVRFKeypair decrypts the stored blob using credential's PRF.first,
// binding the in-memory keypair to accountID on success.
func (m *Manager) UnlockVRFKeypair(ctx context.Context, accountID string, encryptedBlob []byte, cred *credential.Credential) error {
	if cred == nil || cred.PRF == nil || cred.PRF.Chacha20PrfOutput == "" {
		return errorsx.New(errorsx.VRFUnlockFailed, "PRF.first is required to unlock the VRF keypair")
	}

	prfFirst, err := base64.RawURLEncoding.DecodeString(cred.PRF.Chacha20PrfOutput)
	if err != nil {
		return errorsx.Wrap(errorsx.VRFUnlockFailed, "malformed PRF.first", err)
	}
	defer cryptoutil.ZeroBytes(prfFirst)

	salt := credential.Chacha20Salt(accountID)
	key, err := cryptoutil.DeriveKey(prfFirst, salt, infoVRFKeypairKey, 32)
	if err != nil {
		return errorsx.Wrap(errorsx.VRFUnlockFailed, "key derivation failed", err)
	}
	defer cryptoutil.ZeroBytes(key)

	plaintext, err := cryptoutil.OpenVRFKeypair(key, encryptedBlob, []byte(accountID))
	if err != nil {
		return errorsx.Wrap(errorsx.VRFUnlockFailed, "wrong passkey or corrupted keypair blob", err)
	}
	defer cryptoutil.ZeroBytes(plaintext)

	kp, err := cryptoutil.VRFKeypairFromSeed(plaintext)
	if err != nil {
		return errorsx.Wrap(errorsx.VRFUnlockFailed, "failed to reconstruct vrf keypair", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = &activeKeypair{accountID: accountID, keypair: kp, keyVersion: 1}
	m.logger.Info(ctx, "vrf keypair unlocked", map[string]interface{}{"account_id": accountID})
	return nil
}

// DeriveVRFKeypairFromPRF deterministically derives a VRF keypair from
// prfFirst, used for registration and recovery. When input is
// non-nil, a first challenge is also emitted. When saveInMemory is true,
// the derived keypair becomes the active VRF identity.
func (m *Manager) DeriveVRFKeypairFromPRF(ctx context.Context, accountID string, prfFirst []byte, input *InputData, saveInMemory bool) (*DeriveResult, error) {
	if len(prfFirst) == 0 {
		return nil, errorsx.New(errorsx.PRFMissing, "PRF.first is required to derive the vrf keypair")
	}

	salt := credential.Chacha20Salt(accountID)
	seed, err := cryptoutil.DeriveKey(prfFirst, salt, infoVRFKeypairSeed, 32)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "vrf seed derivation failed", err)
	}

	kp, err := cryptoutil.VRFKeypairFromSeed(seed)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "vrf keypair derivation failed", err)
	}

	key, err := cryptoutil.DeriveKey(prfFirst, salt, infoVRFKeypairKey, 32)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "at-rest key derivation failed", err)
	}
	defer cryptoutil.ZeroBytes(key)

	plaintext := seed
	encryptedBlob, err := cryptoutil.SealVRFKeypair(key, plaintext, []byte(accountID))
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "vrf keypair sealing failed", err)
	}

	result := &DeriveResult{
		VRFPublicKey:        base64.RawURLEncoding.EncodeToString(cryptoutil.MarshalPublicKey(kp.PublicKey)),
		EncryptedVRFKeypair: encryptedBlob,
	}

	if input != nil {
		challenge, err := generateChallengeFor(kp, *input)
		if err != nil {
			return nil, err
		}
		result.VRFChallenge = challenge
	}

	if saveInMemory {
		m.mu.Lock()
		m.active = &activeKeypair{accountID: accountID, keypair: kp, keyVersion: 1}
		m.mu.Unlock()
		m.logger.Info(ctx, "vrf keypair derived and activated", map[string]interface{}{"account_id": accountID})
	}

	return result, nil
}

// GenerateVRFChallenge produces a challenge using the active keypair.
// sessionID, when non-empty, is used only for log correlation.
func (m *Manager) GenerateVRFChallenge(ctx context.Context, input InputData, sessionID string) (*Challenge, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil, errorsx.New(errorsx.VRFSessionMismatch, "no active vrf keypair")
	}

	if sessionID != "" {
		ctx = logging.WithSessionID(ctx, sessionID)
	}

	challenge, err := generateChallengeFor(active.keypair, input)
	if err != nil {
		return nil, err
	}
	m.logger.Debug(ctx, "vrf challenge generated", map[string]interface{}{"user_id": input.UserID})
	return challenge, nil
}

// GenerateVRFKeypairBootstrap produces a fresh keypair and first challenge
// without persisting — used at registration time before an account exists
// to unlock against.
func (m *Manager) GenerateVRFKeypairBootstrap(ctx context.Context, input InputData, saveInMemory bool, sessionID string) (*BootstrapResult, error) {
	kp, err := cryptoutil.GenerateVRFKeypair()
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "vrf keypair generation failed", err)
	}

	challenge, err := generateChallengeFor(kp, input)
	if err != nil {
		return nil, err
	}

	if saveInMemory {
		m.mu.Lock()
		m.active = &activeKeypair{accountID: input.UserID, keypair: kp, keyVersion: 1}
		m.mu.Unlock()
		m.logger.Info(ctx, "vrf keypair bootstrapped", map[string]interface{}{"account_id": input.UserID, "session_id": sessionID})
	}

	return &BootstrapResult{
		VRFPublicKey: base64.RawURLEncoding.EncodeToString(cryptoutil.MarshalPublicKey(kp.PublicKey)),
		VRFChallenge: challenge,
	}, nil
}

// CheckVRFStatus reports whether a VRF keypair is currently active.
func (m *Manager) CheckVRFStatus() VRFStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return VRFStatus{Active: false}
	}
	return VRFStatus{
		Active:    true,
		AccountID: m.active.accountID,
		PublicKey: base64.RawURLEncoding.EncodeToString(cryptoutil.MarshalPublicKey(m.active.keypair.PublicKey)),
	}
}

// ClearVRFSession drops the active keypair. math/big gives no way to scrub
// a *big.Int's backing array in place, so this only releases the reference;
// the GC reclaims the memory rather than it being overwritten synchronously.
func (m *Manager) ClearVRFSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
}

func generateChallengeFor(kp *cryptoutil.VRFKeypair, input InputData) (*Challenge, error) {
	alpha := input.alpha()
	beta, proof, err := cryptoutil.GenerateVRFProof(kp.SecretKey, alpha)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "vrf proof generation failed", err)
	}

	return &Challenge{
		VRFInput:     base64.RawURLEncoding.EncodeToString(alpha),
		VRFOutput:    base64.RawURLEncoding.EncodeToString(beta),
		VRFProof:     base64.RawURLEncoding.EncodeToString(cryptoutil.SerializeVRFProof(proof)),
		VRFPublicKey: base64.RawURLEncoding.EncodeToString(cryptoutil.MarshalPublicKey(kp.PublicKey)),
		UserID:       input.UserID,
		RpID:         input.RpID,
		BlockHeight:  input.BlockHeight,
		BlockHash:    input.BlockHash,
	}, nil
}

// RefreshChallengeWithRetry JIT-refreshes a VRF challenge with bounded
// retry and linear backoff. fetchLatest supplies the current
// block height/hash on each attempt.
func (m *Manager) RefreshChallengeWithRetry(ctx context.Context, input InputData, sessionID string, fetchLatest func(ctx context.Context) (blockHeight uint64, blockHash string, err error)) (*Challenge, error) {
	attempts := m.cfg.VRFChallengeRefreshAttempts
	backoff := m.cfg.VRFChallengeRefreshBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		blockHeight, blockHash, err := fetchLatest(ctx)
		if err == nil {
			refreshed := input
			refreshed.BlockHeight = blockHeight
			refreshed.BlockHash = blockHash

			challenge, genErr := m.GenerateVRFChallenge(ctx, refreshed, sessionID)
			if genErr == nil {
				if m.metrics != nil {
					m.metrics.RecordVRFChallengeRefreshAttempts(attempt, "success")
				}
				return challenge, nil
			}
			lastErr = genErr
		} else {
			lastErr = err
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, errorsx.Wrap(errorsx.NearRPCFailed, "vrf challenge refresh cancelled", ctx.Err())
			case <-time.After(time.Duration(attempt) * backoff):
			}
		}
	}

	if m.metrics != nil {
		m.metrics.RecordVRFChallengeRefreshAttempts(attempts, "failed")
	}
	return nil, errorsx.Wrap(errorsx.NearRPCFailed, fmt.Sprintf("vrf challenge refresh failed after %d attempts", attempts), lastErr)
}
