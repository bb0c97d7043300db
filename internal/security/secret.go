package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const DefaultSecretBytes = 32

// NewOpaqueToken returns n random bytes encoded as unpadded base64url.
func NewOpaqueToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultSecretBytes
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the at-rest form of an opaque token.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

