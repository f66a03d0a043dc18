// Package storage defines the persistence contract for encrypted VRF
// keypair blobs, per-device key vault entries, and signing-session
// records, plus a Supabase/PostgREST-backed
// implementation of that contract.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching record.
var ErrNotFound = errors.New("storage: not found")

// EncryptedVRFKeypair is the opaque-at-rest VRF keypair blob persisted per
// account.
type EncryptedVRFKeypair struct {
	AccountID    string
	VRFPublicKey []byte
	Blob         []byte // ChaCha20-Poly1305 sealed: nonce‖ciphertext
	KeyVersion   int
	UpdatedAt    time.Time
}

// KeyVaultEntry is the encrypted Ed25519 signing key vault entry for one
// (accountId, deviceNumber) pair, schema v2: entries created before
// WrapKeySalt existed are invalid and require re-registration.
type KeyVaultEntry struct {
	AccountID     string
	DeviceNumber  int
	CredentialID  string
	WrapKeySalt   []byte
	EncryptedKey  []byte
	SchemaVersion int
	UpdatedAt     time.Time
}

// AuthenticatorRecord is the per-account/per-device passkey record used to
// build allowCredentials and validate device binding.
type AuthenticatorRecord struct {
	AccountID    string
	CredentialID string
	VRFPublicKey []byte
	DeviceNumber int
	Transports   []string
	LastUsedAt   time.Time
}

// SessionRecord is the persisted form of a minted signing session.
type SessionRecord struct {
	SessionID     string
	AccountID     string
	WrapKeySalt   []byte
	RemainingUses int
	ExpiresAtMs   int64
}

// Store is the persistence contract this module depends on. A host
// embedding this module supplies any implementation; SupabaseStore below
// is one concrete, swappable implementation.
type Store interface {
	GetEncryptedVRFKeypair(ctx context.Context, accountID string) (*EncryptedVRFKeypair, error)
	PutEncryptedVRFKeypair(ctx context.Context, record *EncryptedVRFKeypair) error

	GetKeyVaultEntry(ctx context.Context, accountID string, deviceNumber int) (*KeyVaultEntry, error)
	PutKeyVaultEntry(ctx context.Context, entry *KeyVaultEntry) error

	ListAuthenticators(ctx context.Context, accountID string) ([]AuthenticatorRecord, error)
	PutAuthenticator(ctx context.Context, record *AuthenticatorRecord) error

	PutSession(ctx context.Context, record *SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error
}
