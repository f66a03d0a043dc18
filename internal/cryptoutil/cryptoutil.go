// Package cryptoutil provides the key-derivation and at-rest encryption
// primitives shared by the credential, VRF session and intent digest
// packages: HKDF-SHA256 derivation, ChaCha20-Poly1305 sealing of the VRF
// keypair blob, and small byte-hygiene helpers.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DeriveKey runs HKDF-SHA256 over secret with the given salt and
// domain-separated info string, producing size bytes of key material.
func DeriveKey(secret, salt []byte, info string, size int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, size)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("cryptoutil: derive key: %w", err)
	}
	return out, nil
}

// Salt32 builds a deterministic 32-byte HKDF salt from a domain prefix and
// an account id, right-padding with zero bytes or truncating as needed.
func Salt32(prefix, accountID string) []byte {
	raw := []byte(prefix + accountID)
	salt := make([]byte, 32)
	copy(salt, raw)
	return salt
}

// GenerateRandomBytes returns n cryptographically random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("cryptoutil: random bytes: %w", err)
	}
	return b, nil
}

// SealVRFKeypair encrypts plaintext (the serialized VRF keypair) under a
// ChaCha20-Poly1305 key, returning nonce‖ciphertext. aad binds the
// ciphertext to its owning accountId so a blob cannot be swapped onto a
// different account's record undetected.
func SealVRFKeypair(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new aead: %w", err)
	}
	nonce, err := GenerateRandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, sealed...), nil
}

// OpenVRFKeypair reverses SealVRFKeypair. A failure here (authentication
// failure or malformed blob) means the wrong passkey was used to derive
// key — the caller maps it to errorsx.VRFUnlockFailed.
func OpenVRFKeypair(key, blob, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new aead: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("cryptoutil: blob too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: open: %w", err)
	}
	return plaintext, nil
}

// Hash256 computes SHA-256 over the concatenation of parts.
func Hash256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// ZeroBytes overwrites b with zeroes in place, used to scrub decrypted
// secrets (PRF outputs, wrap-key seeds, VRF secret keys) from memory as
// soon as their scope ends.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
