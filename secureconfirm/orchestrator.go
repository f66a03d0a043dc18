package secureconfirm

import (
	"context"
	"encoding/json"

	"github.com/tatchi-labs/secureconfirm/internal/config"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/internal/logging"
	"github.com/tatchi-labs/secureconfirm/internal/metrics"
	"github.com/tatchi-labs/secureconfirm/internal/ratelimit"
	"github.com/tatchi-labs/secureconfirm/internal/security"
	"github.com/tatchi-labs/secureconfirm/provider"
	"github.com/tatchi-labs/secureconfirm/storage"
	"github.com/tatchi-labs/secureconfirm/vrfsession"
)

// Orchestrator is the single entry point for typed confirmation requests.
// It validates, merges the effective UI config, and dispatches to the
// per-type flow handler.
type Orchestrator struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	replay  *security.ReplayProtection
	limiter *ratelimit.PerKeyLimiter

	near  provider.NearProvider
	web   provider.WebAuthnCollector
	ui    provider.UIRenderer
	vrf   *vrfsession.Manager
	store storage.Store
}

// Deps bundles Orchestrator's external collaborators.
type Deps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	Near  provider.NearProvider
	Web   provider.WebAuthnCollector
	UI    provider.UIRenderer
	VRF   *vrfsession.Manager
	Store storage.Store
}

// New builds an Orchestrator from deps, applying defaults for any optional
// collaborator left nil.
func New(deps Deps) *Orchestrator {
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logging.New("secureconfirm", deps.Config.LogLevel, deps.Config.LogFormat)
	}
	return &Orchestrator{
		cfg:     deps.Config,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		replay:  security.NewReplayProtection(deps.Config.ReplayWindow, deps.Logger),
		limiter: ratelimit.New(ratelimit.Config{RequestsPerSecond: deps.Config.RateLimitPerSecond, Burst: deps.Config.RateLimitBurst}),
		near:    deps.Near,
		web:     deps.Web,
		ui:      deps.UI,
		vrf:     deps.VRF,
		store:   deps.Store,
	}
}

// rateLimitKey extracts the account identifier a request should be
// throttled by, falling back to the requestId itself when the payload
// carries no top-level nearAccountId (signTransaction names its accounts
// only inside txSigningRequests, but throttling per distinct requestId is
// still better than no throttling at all).
func rateLimitKey(req *RequestEnvelope) string {
	if v, ok := req.RawPayload["nearAccountId"].(string); ok && v != "" {
		return v
	}
	return req.RequestID
}

// HandleRequest validates req, merges its effective UI configuration, and
// dispatches to the handler for req.Type.
func (o *Orchestrator) HandleRequest(ctx context.Context, req *RequestEnvelope, client ClientContext) *DecisionEnvelope {
	if err := validate(req); err != nil {
		o.recordDecision(req.Type, false, errorsx.KindOf(err))
		o.logger.LogDecision(ctx, req.RequestID, string(req.Type), false, string(errorsx.KindOf(err)))
		return errorDecision(req.RequestID, err).sanitizeForWire()
	}

	if !o.replay.ValidateAndMark(req.RequestID) {
		err := errorsx.New(errorsx.InvalidRequest, "duplicate requestId")
		o.recordDecision(req.Type, false, errorsx.KindOf(err))
		o.logger.LogDecision(ctx, req.RequestID, string(req.Type), false, string(errorsx.KindOf(err)))
		return errorDecision(req.RequestID, err).sanitizeForWire()
	}

	if !o.limiter.Allow(rateLimitKey(req)) {
		err := errorsx.New(errorsx.InvalidRequest, "too many confirmation requests, slow down")
		o.recordDecision(req.Type, false, errorsx.KindOf(err))
		o.logger.LogDecision(ctx, req.RequestID, string(req.Type), false, string(errorsx.KindOf(err)))
		return errorDecision(req.RequestID, err).sanitizeForWire()
	}

	effective := mergeConfirmationConfig(req.Type, req.ConfirmationConfig, nil, client)
	ctx = logging.WithRequestID(ctx, req.RequestID)

	var decision *DecisionEnvelope
	switch req.Type {
	case RequestRegisterAccount, RequestLinkDevice:
		decision = o.RegistrationFlow(ctx, req, effective)
	case RequestSignTransaction, RequestSignNep413Message:
		decision = o.SigningFlow(ctx, req, effective)
	case RequestDecryptPrivateKey, RequestShowSecurePrivateKey:
		decision = o.LocalOnlyFlow(ctx, req, effective)
	default:
		decision = errorDecision(req.RequestID, errorsx.New(errorsx.InvalidRequest, "unhandled request type"))
	}

	o.recordDecision(req.Type, decision.Confirmed, kindOfDecision(decision))
	o.logger.LogDecision(ctx, req.RequestID, string(req.Type), decision.Confirmed, string(kindOfDecision(decision)))
	return decision
}

func kindOfDecision(d *DecisionEnvelope) errorsx.Kind {
	if d == nil || d.Error == nil {
		return ""
	}
	return d.Error.Kind
}

func (o *Orchestrator) recordDecision(reqType RequestType, confirmed bool, kind errorsx.Kind) {
	if o.metrics != nil {
		o.metrics.RecordDecision(string(reqType), confirmed, string(kind))
	}
}

// decodePayload round-trips req.RawPayload through JSON into dst, giving a
// typed view of the payload after validate has already vetted it for
// forbidden fields.
func decodePayload(raw map[string]interface{}, dst interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return errorsx.Wrap(errorsx.InvalidRequest, "payload could not be re-encoded", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return errorsx.Wrap(errorsx.InvalidRequest, "payload does not match expected shape for type", err)
	}
	return nil
}
