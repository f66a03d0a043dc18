package storage

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store implementation used by tests and by
// the cmd/secureconfirmd demo harness when no Supabase project is
// configured.
type MemoryStore struct {
	mu             sync.RWMutex
	vrfKeypairs    map[string]*EncryptedVRFKeypair
	keyVault       map[string]*KeyVaultEntry
	authenticators map[string][]AuthenticatorRecord
	sessions       map[string]*SessionRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vrfKeypairs:    make(map[string]*EncryptedVRFKeypair),
		keyVault:       make(map[string]*KeyVaultEntry),
		authenticators: make(map[string][]AuthenticatorRecord),
		sessions:       make(map[string]*SessionRecord),
	}
}

func (m *MemoryStore) GetEncryptedVRFKeypair(_ context.Context, accountID string) (*EncryptedVRFKeypair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.vrfKeypairs[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryStore) PutEncryptedVRFKeypair(_ context.Context, record *EncryptedVRFKeypair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.vrfKeypairs[record.AccountID] = &clone
	return nil
}

func keyVaultKey(accountID string, deviceNumber int) string {
	return accountID + "#" + strconv.Itoa(deviceNumber)
}

func (m *MemoryStore) GetKeyVaultEntry(_ context.Context, accountID string, deviceNumber int) (*KeyVaultEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.keyVault[keyVaultKey(accountID, deviceNumber)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (m *MemoryStore) PutKeyVaultEntry(_ context.Context, entry *KeyVaultEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	m.keyVault[keyVaultKey(entry.AccountID, entry.DeviceNumber)] = &clone
	return nil
}

func (m *MemoryStore) ListAuthenticators(_ context.Context, accountID string) ([]AuthenticatorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.authenticators[accountID]
	out := make([]AuthenticatorRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *MemoryStore) PutAuthenticator(_ context.Context, record *AuthenticatorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.authenticators[record.AccountID]
	for i, r := range recs {
		if r.DeviceNumber == record.DeviceNumber {
			recs[i] = *record
			m.authenticators[record.AccountID] = recs
			return nil
		}
	}
	m.authenticators[record.AccountID] = append(recs, *record)
	return nil
}

func (m *MemoryStore) PutSession(_ context.Context, record *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.sessions[record.SessionID] = &clone
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

