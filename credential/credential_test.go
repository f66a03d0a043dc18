package credential

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tatchi-labs/secureconfirm/internal/errorsx"
)

func TestNormalizeDefaultsTransportsToEmptySlice(t *testing.T) {
	raw := RawCredential{
		ID:             "cred-1",
		RawID:          []byte{1, 2, 3},
		Type:           "public-key",
		ClientDataJSON: []byte(`{"type":"webauthn.create"}`),
		Transports:     nil,
	}

	c := Normalize(raw)

	require.NotNil(t, c.Transports)
	require.Empty(t, c.Transports)
}

func TestExtractDualPRFMissingExtension(t *testing.T) {
	_, err := ExtractDualPRF(nil)
	require.Error(t, err)
	require.Equal(t, errorsx.PRFUnsupported, errorsx.KindOf(err))
}

func TestExtractDualPRFEmptyResults(t *testing.T) {
	_, err := ExtractDualPRF(&PRFExtensionResults{})
	require.Error(t, err)
	require.Equal(t, errorsx.PRFMissing, errorsx.KindOf(err))
}

func TestExtractDualPRFSuccess(t *testing.T) {
	out, err := ExtractDualPRF(&PRFExtensionResults{
		First:  []byte("chacha-branch-output"),
		Second: []byte("ed25519-branch-output"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Chacha20PrfOutput)
	require.NotEmpty(t, out.Ed25519PrfOutput)
}

func TestRequireBothPRFFailsWithoutSecond(t *testing.T) {
	_, err := RequireBothPRF(&PRFExtensionResults{First: []byte("only-first")})
	require.Error(t, err)
	require.Equal(t, errorsx.PRFMissing, errorsx.KindOf(err))
}

func TestSaltsAreDeterministicAndDistinctByPrefix(t *testing.T) {
	c1 := Chacha20Salt("alice.near")
	c2 := Chacha20Salt("alice.near")
	e1 := Ed25519Salt("alice.near")

	require.Equal(t, c1, c2)
	require.NotEqual(t, c1, e1)
	require.Len(t, c1, 32)
	require.Len(t, e1, 32)
}

func TestRemovePRFOutputGuardStripsPRF(t *testing.T) {
	c := &Credential{
		ID:  "cred-1",
		PRF: &PRFOutputs{Chacha20PrfOutput: "secret"},
	}

	sanitized := RemovePRFOutputGuard(c)

	require.Nil(t, sanitized.PRF)
	require.NotNil(t, c.PRF, "original credential must not be mutated")
}
