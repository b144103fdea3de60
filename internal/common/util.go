package common

import (
	"crypto/rand"
	"encoding/hex"
)

// NewSecret returns a fresh staged-secret token of SecretSize random bytes,
// hex encoded. Hex keeps it URL-safe and fixed length.
func NewSecret() (string, error) {
	b := make([]byte, SecretSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
