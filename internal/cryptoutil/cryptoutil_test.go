package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	secret := []byte("prf-first-output-bytes-32-long!")
	salt := Salt32("chacha20-salt:", "alice.near")

	k1, err := DeriveKey(secret, salt, "secureconfirm/vrf-keypair-key", 32)
	require.NoError(t, err)
	k2, err := DeriveKey(secret, salt, "secureconfirm/vrf-keypair-key", 32)
	require.NoError(t, err)

	require.Equal(t, k1, k2)
	require.Len(t, k1, 32)
}

func TestSalt32PadsAndTruncates(t *testing.T) {
	short := Salt32("x:", "a")
	require.Len(t, short, 32)

	long := Salt32("chacha20-salt:", "a-very-long-account-id.near-that-exceeds-32-bytes")
	require.Len(t, long, 32)
}

func TestSealOpenVRFKeypairRoundTrip(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	plaintext := []byte("serialized-vrf-keypair-material")
	aad := []byte("alice.near")

	blob, err := SealVRFKeypair(key, plaintext, aad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, blob)

	recovered, err := OpenVRFKeypair(key, blob, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestOpenVRFKeypairWrongKeyFails(t *testing.T) {
	key1, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	key2, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	blob, err := SealVRFKeypair(key1, []byte("secret"), []byte("aad"))
	require.NoError(t, err)

	_, err = OpenVRFKeypair(key2, blob, []byte("aad"))
	require.Error(t, err)
}

func TestVRFProofRoundTrip(t *testing.T) {
	kp, err := GenerateVRFKeypair()
	require.NoError(t, err)

	alpha := Hash256([]byte("alice.near"), []byte("example.com"), []byte("12345"))

	beta, proof, err := GenerateVRFProof(kp.SecretKey, alpha)
	require.NoError(t, err)
	require.Len(t, beta, 32)

	verifiedBeta, ok := VerifyVRFProof(kp.PublicKey, alpha, proof)
	require.True(t, ok)
	require.Equal(t, beta, verifiedBeta)

	serialized := SerializeVRFProof(proof)
	require.Len(t, serialized, 97)

	deserialized, err := DeserializeVRFProof(serialized)
	require.NoError(t, err)

	roundTripBeta, ok := VerifyVRFProof(kp.PublicKey, alpha, deserialized)
	require.True(t, ok)
	require.Equal(t, beta, roundTripBeta)
}

func TestVRFProofRejectsTamperedProof(t *testing.T) {
	kp, err := GenerateVRFKeypair()
	require.NoError(t, err)

	alpha := Hash256([]byte("input"))
	_, proof, err := GenerateVRFProof(kp.SecretKey, alpha)
	require.NoError(t, err)

	proof.S.Add(proof.S, proof.S)

	_, ok := VerifyVRFProof(kp.PublicKey, alpha, proof)
	require.False(t, ok)
}

func TestVRFKeypairFromSeedDeterministic(t *testing.T) {
	seed := Hash256([]byte("prf-first"), []byte("alice.near"))

	kp1, err := VRFKeypairFromSeed(seed)
	require.NoError(t, err)
	kp2, err := VRFKeypairFromSeed(seed)
	require.NoError(t, err)

	require.Equal(t, MarshalPublicKey(kp1.PublicKey), MarshalPublicKey(kp2.PublicKey))
}
