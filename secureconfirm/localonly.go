package secureconfirm

import (
	"context"

	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/provider"
)

// LocalOnlyFlow handles decryptPrivateKeyWithPrf and showSecurePrivateKeyUi
// requests. Neither flow touches NEAR RPC or the VRF manager: the first
// collects a fresh dual-PRF credential so the caller can re-derive key
// material locally, the second only mounts a viewer for key material the
// caller has already derived.
func (o *Orchestrator) LocalOnlyFlow(ctx context.Context, req *RequestEnvelope, cfg provider.ConfirmationConfig) *DecisionEnvelope {
	switch req.Type {
	case RequestDecryptPrivateKey:
		return o.decryptPrivateKeyWithPRF(ctx, req)
	case RequestShowSecurePrivateKey:
		return o.showSecurePrivateKeyUI(ctx, req, cfg)
	default:
		return errorDecision(req.RequestID, errorsx.New(errorsx.InvalidRequest, "unsupported local-only request type"))
	}
}

func (o *Orchestrator) decryptPrivateKeyWithPRF(ctx context.Context, req *RequestEnvelope) *DecisionEnvelope {
	var payload DecryptPrivateKeyPayload
	if err := decodePayload(req.RawPayload, &payload); err != nil {
		return errorDecision(req.RequestID, err)
	}

	cred, err := o.web.CollectAuthenticationCredentialWithPRF(ctx, provider.AuthenticationCollectRequest{
		AccountID:        payload.NearAccountID,
		IncludeSecondPRF: true,
	})
	if err != nil {
		return errorDecision(req.RequestID, err)
	}

	if err := o.verifyDeviceBinding(ctx, payload.NearAccountID, cred.ID); err != nil {
		return errorDecision(req.RequestID, err)
	}

	if cred.PRF == nil || cred.PRF.Chacha20PrfOutput == "" || cred.PRF.Ed25519PrfOutput == "" {
		return errorDecision(req.RequestID, errorsx.New(errorsx.PRFMissing, "PRF.second required for private key export but was not returned"))
	}

	return &DecisionEnvelope{
		RequestID:  req.RequestID,
		Confirmed:  true,
		Credential: cred,
	}
}

// showSecurePrivateKeyUI mounts a viewer for key material the caller has
// already derived; it never leaves the UI open once confirmed since there is
// nothing further for this flow to do once the caller dismisses it.
func (o *Orchestrator) showSecurePrivateKeyUI(ctx context.Context, req *RequestEnvelope, cfg provider.ConfirmationConfig) *DecisionEnvelope {
	var payload ShowSecurePrivateKeyPayload
	if err := decodePayload(req.RawPayload, &payload); err != nil {
		return errorDecision(req.RequestID, err)
	}
	if payload.PrivateKey == "" {
		return errorDecision(req.RequestID, errorsx.New(errorsx.InvalidRequest, "privateKey is required"))
	}

	renderResult := o.ui.RenderConfirmUI(ctx, provider.RenderRequest{
		RequestID: req.RequestID,
		Config:    cfg,
		Summary: map[string]interface{}{
			"variant":    payload.Variant,
			"publicKey":  payload.PublicKey,
			"privateKey": payload.PrivateKey,
		},
	})
	if renderResult.Handle != nil {
		renderResult.Handle.Close(renderResult.Confirmed)
	}
	if renderResult.Err != nil {
		return errorDecision(req.RequestID, renderResult.Err)
	}
	if !renderResult.Confirmed {
		return errorDecision(req.RequestID, errorsx.New(errorsx.UserCancelled, "private key viewer dismissed"))
	}

	return &DecisionEnvelope{
		RequestID: req.RequestID,
		Confirmed: true,
	}
}
