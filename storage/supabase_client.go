package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tatchi-labs/secureconfirm/internal/runtime"
)

const maxResponseBytes = 8 << 20 // 8 MiB

// SupabaseConfig configures SupabaseStore.
type SupabaseConfig struct {
	URL        string
	ServiceKey string
	RestPrefix string
}

// supabaseClient is the thin PostgREST HTTP client underlying SupabaseStore.
type supabaseClient struct {
	baseURL    string
	serviceKey string
	restPrefix string
	httpClient *http.Client
}

func newSupabaseClient(cfg SupabaseConfig) (*supabaseClient, error) {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = os.Getenv("SUPABASE_URL")
	}
	key := cfg.ServiceKey
	if key == "" {
		key = os.Getenv("SUPABASE_SERVICE_KEY")
	}

	strict := runtime.StrictIdentityMode()
	if baseURL == "" {
		if strict || !runtime.Env().IsDevelopmentOrTesting() {
			return nil, fmt.Errorf("storage: SUPABASE_URL is required")
		}
		baseURL = "http://localhost:54321"
	}
	if key == "" && strict {
		return nil, fmt.Errorf("storage: SUPABASE_SERVICE_KEY is required")
	}

	restPrefix := strings.TrimSpace(cfg.RestPrefix)
	if restPrefix == "" {
		restPrefix = strings.TrimSpace(os.Getenv("SUPABASE_REST_PREFIX"))
	}
	if restPrefix == "" {
		restPrefix = "/rest/v1"
	}
	restPrefix = strings.TrimRight(restPrefix, "/")

	return &supabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: key,
		restPrefix: restPrefix,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// request issues a PostgREST call against table: a flat
// method/table/body/query-string shape with apikey + bearer auth headers
// and return=representation so inserts/updates echo the written row.
func (c *supabaseClient) request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s%s/%s", c.baseURL, c.restPrefix, table)
	if query != "" {
		reqURL += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("storage: marshal body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("storage: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("storage: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("storage: supabase API error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func eqFilter(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}
