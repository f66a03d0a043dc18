// Package secrets offers a narrow, allowlisted provider interface for
// secrets such as a VRF master seed or Shamir-3-pass relay credentials, so a
// host embedding this module can swap in its own secret store.
// vrfsession.Manager accepts a Provider but no code path in the module
// reads a secret through it.
package secrets

import (
	"context"
	"errors"
	"os"
)

// MasterSeedEnv is the environment variable read by EnvProvider for the
// VRF master seed when no other Provider is configured.
const MasterSeedEnv = "SECURECONFIRM_VRF_MASTER_SEED"

var (
	// ErrNotFound indicates the named secret does not exist for userID.
	ErrNotFound = errors.New("secrets: not found")
	// ErrForbidden indicates the caller's service ID may not access the secret.
	ErrForbidden = errors.New("secrets: access forbidden")
)

// Provider resolves a decrypted secret value scoped to a user and a
// service identity. Implementations enforce per-secret allowlists; callers
// must not assume every named secret is reachable by every service.
type Provider interface {
	GetSecret(ctx context.Context, userID, name string) (string, error)
}

// ServiceProvider narrows a Manager to the calling service's allowlist.
type ServiceProvider struct {
	Manager   *Manager
	ServiceID string
}

// GetSecret resolves name for userID, enforcing the Manager's allowlist for
// p.ServiceID.
func (p ServiceProvider) GetSecret(ctx context.Context, userID, name string) (string, error) {
	if p.Manager == nil {
		return "", ErrNotFound
	}
	return p.Manager.GetSecretForService(ctx, userID, name, p.ServiceID)
}

// Manager holds an allowlist of (secret name -> permitted service IDs) and
// an in-memory secret table. A production host replaces this with a
// KMS/vault-backed implementation behind the same Provider contract.
type Manager struct {
	allowlist map[string][]string
	values    map[string]string
}

// NewManager builds a Manager from a static secret table and allowlist.
func NewManager(values map[string]string, allowlist map[string][]string) *Manager {
	return &Manager{values: values, allowlist: allowlist}
}

// GetSecretForService resolves name for userID if serviceID is permitted.
func (m *Manager) GetSecretForService(_ context.Context, userID, name, serviceID string) (string, error) {
	allowed, ok := m.allowlist[name]
	if ok {
		permitted := false
		for _, svc := range allowed {
			if svc == serviceID {
				permitted = true
				break
			}
		}
		if !permitted {
			return "", ErrForbidden
		}
	}

	value, ok := m.values[userID+"/"+name]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// EnvProvider resolves the VRF master seed straight from the process
// environment, for local/dev use only — strict-identity deployments
// should configure a real Manager-backed Provider instead.
type EnvProvider struct{}

// GetSecret ignores userID/name and returns SECURECONFIRM_VRF_MASTER_SEED.
func (EnvProvider) GetSecret(_ context.Context, _, _ string) (string, error) {
	v := os.Getenv(MasterSeedEnv)
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}
