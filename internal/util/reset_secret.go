package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// resetSecretBytes gives 256 bits of entropy, URL-safe once encoded.
const resetSecretBytes = 32

// NewResetSecret returns the plaintext reset secret handed to the user and
// the digest that gets persisted. The plaintext is never stored.
func NewResetSecret() (secret string, digest []byte, err error) {
	raw := make([]byte, resetSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	secret = base64.RawURLEncoding.EncodeToString(raw)
	return secret, HashResetSecret(secret), nil
}

// HashResetSecret maps a plaintext secret to its stored digest. The digest is
// deterministic so tokens can be looked up by secret alone.
func HashResetSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
