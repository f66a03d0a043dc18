package secureconfirm

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/tatchi-labs/secureconfirm/credential"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/provider"
	"github.com/tatchi-labs/secureconfirm/storage"
	"github.com/tatchi-labs/secureconfirm/vrfsession"
)

// RegistrationFlow handles registerAccount/linkDevice requests: reserve a
// nonce, bootstrap a VRF keypair and challenge, render confirmation UI,
// JIT-refresh the challenge, create the registration credential (retrying
// once on a duplicate-credential error with a bumped deviceNumber), and
// require dual PRF outputs.
func (o *Orchestrator) RegistrationFlow(ctx context.Context, req *RequestEnvelope, cfg provider.ConfirmationConfig) *DecisionEnvelope {
	var payload RegisterPayload
	if err := decodePayload(req.RawPayload, &payload); err != nil {
		return errorDecision(req.RequestID, err)
	}

	sess := newConfirmSession(req.RequestID, o.near, o.ui)

	nearResult := o.near.FetchNearContext(ctx, provider.NearContextRequest{
		AccountID:     payload.NearAccountID,
		TxCount:       1,
		ReserveNonces: true,
	})
	txCtx := nearResult.TransactionContext
	if nearResult.Err != nil || txCtx == nil {
		blockHeight, blockHash, err := o.near.LatestFinalizedBlock(ctx)
		if err != nil {
			return sess.finish(ctx, errorDecision(req.RequestID, errorsx.Wrap(errorsx.NearRPCFailed, "failed to fetch NEAR context", nearResult.Err)))
		}
		txCtx = &provider.NearContext{TxBlockHeight: blockHeight, TxBlockHash: blockHash}
	} else {
		sess.trackNonces(nearResult.ReservedNonces)
	}

	deviceNumber := payload.DeviceNumber
	if deviceNumber == 0 {
		deviceNumber = 1
	}

	input := vrfsession.InputData{
		UserID:      payload.NearAccountID,
		RpID:        defaultRpID,
		BlockHeight: txCtx.TxBlockHeight,
		BlockHash:   txCtx.TxBlockHash,
	}
	bootstrap, err := o.vrf.GenerateVRFKeypairBootstrap(ctx, input, true, "")
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, err))
	}

	renderResult := o.ui.RenderConfirmUI(ctx, provider.RenderRequest{
		RequestID:    req.RequestID,
		Config:       cfg,
		Summary:      req.Summary,
		VRFChallenge: bootstrap.VRFChallenge,
	})
	sess.trackHandle(renderResult.Handle)
	if renderResult.Err != nil || !renderResult.Confirmed {
		kind := errorsx.UserCancelled
		if renderResult.Err != nil {
			kind = errorsx.KindOf(renderResult.Err)
		}
		return sess.finish(ctx, &DecisionEnvelope{RequestID: req.RequestID, Confirmed: false, Error: &DecisionError{Kind: kind, Message: "registration rejected"}})
	}

	refreshed, err := o.vrf.RefreshChallengeWithRetry(ctx, input, "", func(ctx context.Context) (uint64, string, error) {
		return o.near.LatestFinalizedBlock(ctx)
	})
	if err != nil {
		o.logger.Warn(ctx, "vrf challenge JIT refresh failed, continuing with bootstrap challenge", map[string]interface{}{"request_id": req.RequestID})
		refreshed = bootstrap.VRFChallenge
	}
	if renderResult.Handle != nil {
		renderResult.Handle.Update(map[string]interface{}{"vrfChallenge": refreshed})
	}

	challengeBytes, err := base64.RawURLEncoding.DecodeString(refreshed.VRFOutput)
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, errorsx.Wrap(errorsx.ConfirmationFailed, "malformed vrf challenge output", err)))
	}

	cred, err := o.createRegistrationCredentialWithRetry(ctx, payload.NearAccountID, challengeBytes, deviceNumber)
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, err))
	}

	if cred.PRF == nil || cred.PRF.Chacha20PrfOutput == "" || cred.PRF.Ed25519PrfOutput == "" {
		return sess.finish(ctx, errorDecision(req.RequestID, errorsx.New(errorsx.PRFUnsupported, "authenticator did not deliver dual PRF outputs on registration")))
	}

	if err := o.persistAuthenticator(ctx, payload.NearAccountID, cred, bootstrap.VRFPublicKey, deviceNumber); err != nil {
		o.logger.Warn(ctx, "failed to persist authenticator record", map[string]interface{}{"error": err.Error()})
	}

	return sess.finish(ctx, &DecisionEnvelope{
		RequestID:          req.RequestID,
		Confirmed:          true,
		Credential:         cred,
		VRFChallenge:       refreshed,
		TransactionContext: txCtx,
	})
}

// createRegistrationCredentialWithRetry retries once with deviceNumber+1 on
// InvalidStateError / "already registered" platform responses.
func (o *Orchestrator) createRegistrationCredentialWithRetry(ctx context.Context, accountID string, challenge []byte, deviceNumber int) (*credential.Credential, error) {
	cred, err := o.web.CreateRegistrationCredential(ctx, provider.RegistrationCreateRequest{
		AccountID:    accountID,
		Challenge:    challenge,
		DeviceNumber: deviceNumber,
	})
	if err == nil {
		return cred, nil
	}
	if !isDuplicateCredentialError(err) {
		return nil, err
	}

	return o.web.CreateRegistrationCredential(ctx, provider.RegistrationCreateRequest{
		AccountID:    accountID,
		Challenge:    challenge,
		DeviceNumber: deviceNumber + 1,
	})
}

func isDuplicateCredentialError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalidstateerror") || strings.Contains(msg, "already registered")
}

func (o *Orchestrator) persistAuthenticator(ctx context.Context, accountID string, cred *credential.Credential, vrfPublicKey string, deviceNumber int) error {
	if o.store == nil {
		return nil
	}
	return o.store.PutAuthenticator(ctx, &storage.AuthenticatorRecord{
		AccountID:    accountID,
		CredentialID: cred.ID,
		VRFPublicKey: []byte(vrfPublicKey),
		DeviceNumber: deviceNumber,
		Transports:   cred.Transports,
		LastUsedAt:   time.Now(),
	})
}

// defaultRpID is used when the host does not supply one explicitly; real
// deployments should thread the relying-party id through ClientContext or
// request metadata when it varies.
const defaultRpID = "near-wallet"
