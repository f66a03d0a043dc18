package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SupabaseStore is a Store implementation backed by Supabase/PostgREST,
// using a query-string-filter pattern for lookups. Binary fields are
// base64-encoded for JSON transport since PostgREST has no native
// byte-array column type here.
type SupabaseStore struct {
	client *supabaseClient
}

// NewSupabaseStore builds a SupabaseStore from cfg.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	client, err := newSupabaseClient(cfg)
	if err != nil {
		return nil, err
	}
	return &SupabaseStore{client: client}, nil
}

type vrfKeypairRow struct {
	AccountID    string `json:"account_id"`
	VRFPublicKey string `json:"vrf_public_key"`
	Blob         string `json:"blob"`
	KeyVersion   int    `json:"key_version"`
	UpdatedAt    string `json:"updated_at"`
}

func (s *SupabaseStore) GetEncryptedVRFKeypair(ctx context.Context, accountID string) (*EncryptedVRFKeypair, error) {
	query := eqFilter("account_id", accountID) + "&limit=1"
	data, err := s.client.request(ctx, "GET", "vrf_keypairs", nil, query)
	if err != nil {
		return nil, err
	}
	var rows []vrfKeypairRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("storage: unmarshal vrf keypair: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return decodeVRFKeypairRow(rows[0])
}

func (s *SupabaseStore) PutEncryptedVRFKeypair(ctx context.Context, record *EncryptedVRFKeypair) error {
	row := vrfKeypairRow{
		AccountID:    record.AccountID,
		VRFPublicKey: base64.RawURLEncoding.EncodeToString(record.VRFPublicKey),
		Blob:         base64.RawURLEncoding.EncodeToString(record.Blob),
		KeyVersion:   record.KeyVersion,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	query := "on_conflict=account_id"
	_, err := s.client.request(ctx, "POST", "vrf_keypairs", row, query)
	if err != nil {
		return fmt.Errorf("storage: put vrf keypair: %w", err)
	}
	return nil
}

func decodeVRFKeypairRow(row vrfKeypairRow) (*EncryptedVRFKeypair, error) {
	pub, err := base64.RawURLEncoding.DecodeString(row.VRFPublicKey)
	if err != nil {
		return nil, fmt.Errorf("storage: decode vrf public key: %w", err)
	}
	blob, err := base64.RawURLEncoding.DecodeString(row.Blob)
	if err != nil {
		return nil, fmt.Errorf("storage: decode vrf blob: %w", err)
	}
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)
	return &EncryptedVRFKeypair{
		AccountID:    row.AccountID,
		VRFPublicKey: pub,
		Blob:         blob,
		KeyVersion:   row.KeyVersion,
		UpdatedAt:    updatedAt,
	}, nil
}

type keyVaultRow struct {
	AccountID     string `json:"account_id"`
	DeviceNumber  int    `json:"device_number"`
	CredentialID  string `json:"credential_id"`
	WrapKeySalt   string `json:"wrap_key_salt"`
	EncryptedKey  string `json:"encrypted_key"`
	SchemaVersion int    `json:"schema_version"`
	UpdatedAt     string `json:"updated_at"`
}

func (s *SupabaseStore) GetKeyVaultEntry(ctx context.Context, accountID string, deviceNumber int) (*KeyVaultEntry, error) {
	query := fmt.Sprintf("%s&device_number=eq.%d&limit=1", eqFilter("account_id", accountID), deviceNumber)
	data, err := s.client.request(ctx, "GET", "key_vault_entries", nil, query)
	if err != nil {
		return nil, err
	}
	var rows []keyVaultRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("storage: unmarshal key vault entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	row := rows[0]
	salt, err := base64.RawURLEncoding.DecodeString(row.WrapKeySalt)
	if err != nil {
		return nil, fmt.Errorf("storage: decode wrap key salt: %w", err)
	}
	key, err := base64.RawURLEncoding.DecodeString(row.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("storage: decode encrypted key: %w", err)
	}
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)
	return &KeyVaultEntry{
		AccountID:     row.AccountID,
		DeviceNumber:  row.DeviceNumber,
		CredentialID:  row.CredentialID,
		WrapKeySalt:   salt,
		EncryptedKey:  key,
		SchemaVersion: row.SchemaVersion,
		UpdatedAt:     updatedAt,
	}, nil
}

func (s *SupabaseStore) PutKeyVaultEntry(ctx context.Context, entry *KeyVaultEntry) error {
	row := keyVaultRow{
		AccountID:     entry.AccountID,
		DeviceNumber:  entry.DeviceNumber,
		CredentialID:  entry.CredentialID,
		WrapKeySalt:   base64.RawURLEncoding.EncodeToString(entry.WrapKeySalt),
		EncryptedKey:  base64.RawURLEncoding.EncodeToString(entry.EncryptedKey),
		SchemaVersion: entry.SchemaVersion,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	_, err := s.client.request(ctx, "POST", "key_vault_entries", row, "on_conflict=account_id,device_number")
	if err != nil {
		return fmt.Errorf("storage: put key vault entry: %w", err)
	}
	return nil
}

type authenticatorRow struct {
	AccountID    string   `json:"account_id"`
	CredentialID string   `json:"credential_id"`
	VRFPublicKey string   `json:"vrf_public_key"`
	DeviceNumber int      `json:"device_number"`
	Transports   []string `json:"transports"`
	LastUsedAt   string   `json:"last_used_at"`
}

func (s *SupabaseStore) ListAuthenticators(ctx context.Context, accountID string) ([]AuthenticatorRecord, error) {
	query := eqFilter("account_id", accountID) + "&order=device_number.asc"
	data, err := s.client.request(ctx, "GET", "authenticators", nil, query)
	if err != nil {
		return nil, err
	}
	var rows []authenticatorRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("storage: unmarshal authenticators: %w", err)
	}
	out := make([]AuthenticatorRecord, 0, len(rows))
	for _, row := range rows {
		pub, err := base64.RawURLEncoding.DecodeString(row.VRFPublicKey)
		if err != nil {
			return nil, fmt.Errorf("storage: decode authenticator vrf public key: %w", err)
		}
		lastUsedAt, _ := time.Parse(time.RFC3339, row.LastUsedAt)
		out = append(out, AuthenticatorRecord{
			AccountID:    row.AccountID,
			CredentialID: row.CredentialID,
			VRFPublicKey: pub,
			DeviceNumber: row.DeviceNumber,
			Transports:   row.Transports,
			LastUsedAt:   lastUsedAt,
		})
	}
	return out, nil
}

func (s *SupabaseStore) PutAuthenticator(ctx context.Context, record *AuthenticatorRecord) error {
	row := authenticatorRow{
		AccountID:    record.AccountID,
		CredentialID: record.CredentialID,
		VRFPublicKey: base64.RawURLEncoding.EncodeToString(record.VRFPublicKey),
		DeviceNumber: record.DeviceNumber,
		Transports:   record.Transports,
		LastUsedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	_, err := s.client.request(ctx, "POST", "authenticators", row, "on_conflict=account_id,device_number")
	if err != nil {
		return fmt.Errorf("storage: put authenticator: %w", err)
	}
	return nil
}

type sessionRow struct {
	SessionID     string `json:"session_id"`
	AccountID     string `json:"account_id"`
	WrapKeySalt   string `json:"wrap_key_salt"`
	RemainingUses int    `json:"remaining_uses"`
	ExpiresAtMs   int64  `json:"expires_at_ms"`
}

func (s *SupabaseStore) PutSession(ctx context.Context, record *SessionRecord) error {
	row := sessionRow{
		SessionID:     record.SessionID,
		AccountID:     record.AccountID,
		WrapKeySalt:   base64.RawURLEncoding.EncodeToString(record.WrapKeySalt),
		RemainingUses: record.RemainingUses,
		ExpiresAtMs:   record.ExpiresAtMs,
	}
	_, err := s.client.request(ctx, "POST", "vrf_sessions", row, "on_conflict=session_id")
	if err != nil {
		return fmt.Errorf("storage: put session: %w", err)
	}
	return nil
}

func (s *SupabaseStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	query := eqFilter("session_id", sessionID) + "&limit=1"
	data, err := s.client.request(ctx, "GET", "vrf_sessions", nil, query)
	if err != nil {
		return nil, err
	}
	var rows []sessionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("storage: unmarshal session: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	row := rows[0]
	salt, err := base64.RawURLEncoding.DecodeString(row.WrapKeySalt)
	if err != nil {
		return nil, fmt.Errorf("storage: decode session wrap key salt: %w", err)
	}
	return &SessionRecord{
		SessionID:     row.SessionID,
		AccountID:     row.AccountID,
		WrapKeySalt:   salt,
		RemainingUses: row.RemainingUses,
		ExpiresAtMs:   row.ExpiresAtMs,
	}, nil
}

func (s *SupabaseStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.client.request(ctx, "DELETE", "vrf_sessions", nil, eqFilter("session_id", sessionID))
	if err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	return nil
}

