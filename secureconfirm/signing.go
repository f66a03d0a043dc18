package secureconfirm

import (
	"context"
	"encoding/base64"

	"github.com/tatchi-labs/secureconfirm/credential"
	"github.com/tatchi-labs/secureconfirm/intentdigest"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/provider"
	"github.com/tatchi-labs/secureconfirm/storage"
	"github.com/tatchi-labs/secureconfirm/vrfsession"
)

// SigningFlow handles signTransaction/signNep413Message requests: reserve
// nonces, then either dispense an already-minted warm session's wrap-key
// seed or run a fresh WebAuthn ceremony bound to the intent digest, verify
// device and VRF session binding, and mint the signing session.
func (o *Orchestrator) SigningFlow(ctx context.Context, req *RequestEnvelope, cfg provider.ConfirmationConfig) *DecisionEnvelope {
	sign, err := parseSigningRequest(req)
	if err != nil {
		return errorDecision(req.RequestID, err)
	}

	sess := newConfirmSession(req.RequestID, o.near, o.ui)

	nearResult := o.near.FetchNearContext(ctx, provider.NearContextRequest{
		AccountID:     sign.accountID,
		TxCount:       sign.txCount,
		ReserveNonces: true,
	})
	if nearResult.Err != nil || nearResult.TransactionContext == nil {
		return sess.finish(ctx, errorDecision(req.RequestID, errorsx.Wrap(errorsx.NearRPCFailed, "failed to fetch NEAR context", nearResult.Err)))
	}
	sess.trackNonces(nearResult.ReservedNonces)
	txCtx := nearResult.TransactionContext

	if sign.authMode == SigningAuthWarmSession {
		if err := o.vrf.DispenseSessionKey(ctx, sign.sessionID, 1); err != nil {
			return sess.finish(ctx, errorDecision(req.RequestID, err))
		}
		return sess.finish(ctx, &DecisionEnvelope{
			RequestID:          req.RequestID,
			IntentDigest:       sign.intentDigest,
			Confirmed:          true,
			TransactionContext: txCtx,
		})
	}

	input := vrfsession.InputData{
		UserID:       sign.accountID,
		RpID:         defaultRpID,
		BlockHeight:  txCtx.TxBlockHeight,
		BlockHash:    txCtx.TxBlockHash,
		IntentDigest: sign.intentDigest,
	}
	challenge, err := o.vrf.GenerateVRFChallenge(ctx, input, "")
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, err))
	}

	renderResult := o.ui.RenderConfirmUI(ctx, provider.RenderRequest{
		RequestID:    req.RequestID,
		Config:       cfg,
		Summary:      req.Summary,
		VRFChallenge: challenge,
	})
	sess.trackHandle(renderResult.Handle)
	if renderResult.Err != nil || !renderResult.Confirmed {
		kind := errorsx.UserCancelled
		if renderResult.Err != nil {
			kind = errorsx.KindOf(renderResult.Err)
		}
		return sess.finish(ctx, &DecisionEnvelope{RequestID: req.RequestID, Confirmed: false, Error: &DecisionError{Kind: kind, Message: "signing rejected"}})
	}

	refreshed, err := o.vrf.RefreshChallengeWithRetry(ctx, input, "", func(ctx context.Context) (uint64, string, error) {
		return o.near.LatestFinalizedBlock(ctx)
	})
	if err != nil {
		refreshed = challenge
	}
	if renderResult.Handle != nil {
		renderResult.Handle.Update(map[string]interface{}{"vrfChallenge": refreshed, "transactionContext": txCtx})
	}

	vrfStatus := o.vrf.CheckVRFStatus()
	if !vrfStatus.Active || vrfStatus.AccountID != sign.accountID {
		return sess.finish(ctx, errorDecision(req.RequestID, errorsx.New(errorsx.VRFSessionMismatch, "vrf session inactive or bound to a different account")))
	}

	challengeBytes, err := base64.RawURLEncoding.DecodeString(refreshed.VRFOutput)
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, errorsx.Wrap(errorsx.ConfirmationFailed, "malformed vrf challenge output", err)))
	}

	cred, err := o.web.CollectAuthenticationCredentialWithPRF(ctx, provider.AuthenticationCollectRequest{
		AccountID:        sign.accountID,
		VRFChallenge:     challengeBytes,
		IncludeSecondPRF: false,
	})
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, err))
	}

	if err := o.verifyDeviceBinding(ctx, sign.accountID, cred.ID); err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, err))
	}

	entry, err := o.lookupKeyVaultEntry(ctx, sign.accountID, sign.deviceNumber)
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, err))
	}

	if cred.PRF == nil || cred.PRF.Chacha20PrfOutput == "" {
		return sess.finish(ctx, errorDecision(req.RequestID, errorsx.New(errorsx.PRFMissing, "PRF.first missing for session minting")))
	}
	prfFirst, err := base64.RawURLEncoding.DecodeString(cred.PRF.Chacha20PrfOutput)
	if err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, errorsx.Wrap(errorsx.ConfirmationFailed, "malformed PRF.first", err)))
	}

	if _, err := o.vrf.MintSessionKeysAndSendToSigner(ctx, vrfsession.MintRequest{
		SessionID:    req.RequestID,
		PRFFirstAuth: prfFirst,
		WrapKeySalt:  entry.WrapKeySalt,
		ContractID:   sign.contractID,
		NearRPCURL:   sign.nearRPCURL,
	}); err != nil {
		return sess.finish(ctx, errorDecision(req.RequestID, err))
	}

	return sess.finish(ctx, &DecisionEnvelope{
		RequestID:          req.RequestID,
		IntentDigest:       sign.intentDigest,
		Confirmed:          true,
		Credential:         credential.RemovePRFOutputGuard(cred),
		VRFChallenge:       refreshed,
		TransactionContext: txCtx,
	})
}

// signingRequest is the type-erased view of a sign-transaction or
// sign-nep413 payload common to both SigningFlow branches.
type signingRequest struct {
	accountID    string
	txCount      int
	intentDigest string
	authMode     SigningAuthMode
	sessionID    string
	deviceNumber int
	contractID   string
	nearRPCURL   string
}

func parseSigningRequest(req *RequestEnvelope) (*signingRequest, error) {
	switch req.Type {
	case RequestSignTransaction:
		var payload SignTransactionPayload
		if err := decodePayload(req.RawPayload, &payload); err != nil {
			return nil, err
		}
		digest, err := intentdigest.ComputeUIIntentDigestFromTxs(payload.TxSigningRequests)
		if err != nil {
			return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "intent digest computation failed", err)
		}
		if payload.IntentDigest != "" && payload.IntentDigest != digest {
			return nil, errorsx.New(errorsx.IntentDigestMismatch, "declared intentDigest does not match recomputed digest")
		}
		return &signingRequest{
			accountID:    accountIDFromReceivers(payload.TxSigningRequests),
			txCount:      len(payload.TxSigningRequests),
			intentDigest: digest,
			authMode:     payload.SigningAuthMode,
			sessionID:    payload.SessionID,
			deviceNumber: payload.DeviceNumber,
			contractID:   payload.RpcCall.ContractID,
			nearRPCURL:   payload.RpcCall.NearRPCURL,
		}, nil
	case RequestSignNep413Message:
		var payload SignNep413Payload
		if err := decodePayload(req.RawPayload, &payload); err != nil {
			return nil, err
		}
		digest, err := intentdigest.ComputeUIIntentDigestFromNep413(intentdigest.Nep413Intent{
			AccountID: payload.NearAccountID,
			Recipient: payload.Recipient,
			Message:   payload.Message,
		})
		if err != nil {
			return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "intent digest computation failed", err)
		}
		return &signingRequest{
			accountID:    payload.NearAccountID,
			txCount:      0,
			intentDigest: digest,
			authMode:     payload.SigningAuthMode,
			sessionID:    payload.SessionID,
			deviceNumber: payload.DeviceNumber,
			contractID:   payload.ContractID,
			nearRPCURL:   payload.NearRPCURL,
		}, nil
	default:
		return nil, errorsx.New(errorsx.InvalidRequest, "unsupported signing request type")
	}
}

func accountIDFromReceivers(txs []intentdigest.TxInput) string {
	if len(txs) == 0 {
		return ""
	}
	return txs[0].ReceiverID
}

func (o *Orchestrator) verifyDeviceBinding(ctx context.Context, accountID, credentialID string) error {
	if o.store == nil {
		return nil
	}
	authenticators, err := o.store.ListAuthenticators(ctx, accountID)
	if err != nil {
		return errorsx.Wrap(errorsx.ConfirmationFailed, "failed to load authenticators", err)
	}
	for _, a := range authenticators {
		if a.CredentialID == credentialID {
			return nil
		}
	}
	return errorsx.New(errorsx.WrongPasskey, "chosen credential does not match any device bound to this account")
}

func (o *Orchestrator) lookupKeyVaultEntry(ctx context.Context, accountID string, deviceNumber int) (*storage.KeyVaultEntry, error) {
	if o.store == nil {
		return nil, errorsx.New(errorsx.ConfirmationFailed, "no key vault store configured")
	}
	entry, err := o.store.GetKeyVaultEntry(ctx, accountID, deviceNumber)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.ConfirmationFailed, "key vault entry not found", err)
	}
	if len(entry.WrapKeySalt) == 0 {
		return nil, errorsx.New(errorsx.ConfirmationFailed, "key vault entry missing wrapKeySalt; re-registration required")
	}
	return entry, nil
}
