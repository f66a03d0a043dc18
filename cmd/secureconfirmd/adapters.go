package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tatchi-labs/secureconfirm/credential"
	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
	"github.com/tatchi-labs/secureconfirm/internal/logging"
	"github.com/tatchi-labs/secureconfirm/provider"
)

// nearRPCProvider implements provider.NearProvider against a NEAR JSON-RPC
// endpoint for the pieces this harness can answer without an indexer:
// finalized-block lookup and nonce-free transaction context. Nonce
// reservation is a no-op here since tracking per-account access-key nonces
// needs a database a demo harness does not carry; a production host
// replaces this with one wired to its own indexer.
type nearRPCProvider struct {
	endpoint   string
	httpClient *http.Client
}

func newNearRPCProvider() (*nearRPCProvider, error) {
	endpoint := strings.TrimSpace(os.Getenv("NEAR_RPC_URL"))
	if endpoint == "" {
		endpoint = "https://rpc.mainnet.near.org"
	}
	return &nearRPCProvider{endpoint: endpoint, httpClient: &http.Client{Timeout: 15 * time.Second}}, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Message string `json:"message"`
}

type blockResponse struct {
	Result struct {
		Header struct {
			Height uint64 `json:"height"`
			Hash   string `json:"hash"`
		} `json:"header"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

func (p *nearRPCProvider) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "secureconfirmd", Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// LatestFinalizedBlock queries the NEAR RPC "block" method with
// finality=final.
func (p *nearRPCProvider) LatestFinalizedBlock(ctx context.Context) (uint64, string, error) {
	var out blockResponse
	if err := p.call(ctx, "block", map[string]string{"finality": "final"}, &out); err != nil {
		return 0, "", errorsx.Wrap(errorsx.NearRPCFailed, "block rpc call failed", err)
	}
	if out.Error != nil {
		return 0, "", errorsx.New(errorsx.NearRPCFailed, out.Error.Message)
	}
	return out.Result.Header.Height, out.Result.Header.Hash, nil
}

// FetchNearContext synthesizes a transaction context from the latest
// finalized block; it never reserves real access-key nonces (see type doc).
func (p *nearRPCProvider) FetchNearContext(ctx context.Context, req provider.NearContextRequest) provider.NearContextResult {
	height, hash, err := p.LatestFinalizedBlock(ctx)
	if err != nil {
		return provider.NearContextResult{Err: err}
	}
	nonces := make([]uint64, req.TxCount)
	for i := range nonces {
		nonces[i] = uint64(time.Now().UnixNano()) + uint64(i)
	}
	return provider.NearContextResult{
		TransactionContext: &provider.NearContext{
			TxBlockHeight: height,
			TxBlockHash:   hash,
		},
		ReservedNonces: nonces,
	}
}

// ReleaseReservedNonces is a no-op: this harness never persists the
// synthetic nonces it hands out.
func (p *nearRPCProvider) ReleaseReservedNonces(ctx context.Context, nonces []uint64) {}

// VerifyAuthenticationResponse calls a contract's verify_authentication_response
// view method over NEAR RPC when contractID/rpcURL are set.
func (p *nearRPCProvider) VerifyAuthenticationResponse(ctx context.Context, rpcURL, contractID string, cred *credential.Credential) error {
	if contractID == "" {
		return nil
	}
	endpoint := p.endpoint
	if rpcURL != "" {
		endpoint = rpcURL
	}
	argsJSON, err := json.Marshal(map[string]interface{}{"credential": cred})
	if err != nil {
		return errorsx.Wrap(errorsx.ConfirmationFailed, "failed to encode verification args", err)
	}
	params := map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  "verify_authentication_response",
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	}

	call := &nearRPCProvider{endpoint: endpoint, httpClient: p.httpClient}
	var out struct {
		Result struct {
			Result []byte `json:"result"`
		} `json:"result"`
		Error *rpcError `json:"error"`
	}
	if err := call.call(ctx, "query", params, &out); err != nil {
		return errorsx.Wrap(errorsx.NearRPCFailed, "verify_authentication_response call failed", err)
	}
	if out.Error != nil {
		return errorsx.New(errorsx.NearRPCFailed, out.Error.Message)
	}
	return nil
}

// unimplementedWebAuthnCollector marks where a real WebAuthn bridge belongs:
// the browser's navigator.credentials API cannot be driven from this
// process, so a production deployment replaces this with an adapter that
// round-trips ceremonies to the client over its own transport.
type unimplementedWebAuthnCollector struct{}

func (unimplementedWebAuthnCollector) CollectAuthenticationCredentialWithPRF(ctx context.Context, req provider.AuthenticationCollectRequest) (*credential.Credential, error) {
	return nil, errorsx.New(errorsx.ConfirmationFailed, "no WebAuthnCollector configured; wire a client-facing adapter")
}

func (unimplementedWebAuthnCollector) CreateRegistrationCredential(ctx context.Context, req provider.RegistrationCreateRequest) (*credential.Credential, error) {
	return nil, errorsx.New(errorsx.ConfirmationFailed, "no WebAuthnCollector configured; wire a client-facing adapter")
}

// unimplementedUIRenderer mirrors unimplementedWebAuthnCollector for the
// confirmation UI, which is likewise a client-side concern.
type unimplementedUIRenderer struct{}

func (unimplementedUIRenderer) RenderConfirmUI(ctx context.Context, req provider.RenderRequest) provider.RenderResult {
	return provider.RenderResult{Err: errorsx.New(errorsx.ConfirmationFailed, "no UIRenderer configured; wire a client-facing adapter")}
}

// loggingSignerChannel stands in for the dedicated signer worker's message
// port: it logs the session id a real signer would receive a wrap-key seed
// for, never the seed itself.
type loggingSignerChannel struct {
	logger *logging.Logger
}

func newLoggingSignerChannel(logger *logging.Logger) *loggingSignerChannel {
	return &loggingSignerChannel{logger: logger}
}

func (c *loggingSignerChannel) Send(ctx context.Context, sessionID string, msg provider.SignerSessionMessage) error {
	c.logger.Info(ctx, "signer session message ready for delivery", map[string]interface{}{
		"session_id":        sessionID,
		"wrap_key_seed_len": strconv.Itoa(len(msg.WrapKeySeed)),
	})
	return nil
}
