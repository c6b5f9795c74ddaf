package signature

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// GenerateSecret creates a cryptographically random shared secret for the
// CRM webhook header: 32 bytes, hex encoded.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("outbox: failed to generate random secret: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Equal compares a provided secret against the configured one in constant
// time. An empty configured secret never matches.
func Equal(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}
