package signature_test

import (
	"testing"

	"github.com/graniteshield/outbox/signature"
)

func TestGenerateSecretFormat(t *testing.T) {
	secret := signature.GenerateSecret()

	// 32 bytes hex encoded
	if len(secret) != 64 {
		t.Errorf("expected length 64, got %d for %q", len(secret), secret)
	}
}

func TestGenerateSecretUniqueness(t *testing.T) {
	a := signature.GenerateSecret()
	b := signature.GenerateSecret()
	if a == b {
		t.Errorf("two consecutive GenerateSecret() calls returned the same value: %q", a)
	}
}

func TestEqual(t *testing.T) {
	if !signature.Equal("s3cret", "s3cret") {
		t.Error("expected equal secrets to match")
	}
	if signature.Equal("s3cret", "s3creT") {
		t.Error("expected different secrets not to match")
	}
	if signature.Equal("short", "longer-secret") {
		t.Error("expected different lengths not to match")
	}
	if signature.Equal("", "") {
		t.Error("expected empty configured secret never to match")
	}
}
