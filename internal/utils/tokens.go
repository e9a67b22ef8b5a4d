package utils

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for stored secrets
	"encoding/hex"  // hex encoding of keys and digests
	"strings"

	"github.com/google/uuid"
)

// NewConsumerKey mints the public 32-hex-digit key identifying a
// consumer on the wire. A v4 UUID stripped of its dashes gives exactly
// 32 hex characters from a cryptographically secure source.
func NewConsumerKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data. Secrets, protocol token keys
// and verifier codes are all produced through this helper; 32 bytes
// yields the 64-character values the token-length policy calls for.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// MustRandomHex is RandomHex for callers that treat an exhausted
// entropy source as fatal.
func MustRandomHex(n int) string {
	s, err := RandomHex(n)
	if err != nil {
		panic(err)
	}
	return s
}

// HashSecret returns the SHA-256 hash of a secret as a hex string.
// Stored access-token secrets keep only the hash so a leaked database
// row cannot be replayed as a credential.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
