package security

import (
	"encoding/base64"
	"testing"
)

func TestGenerateSecureToken(t *testing.T) {
	first, err := GenerateSecureToken(SessionIDBytes)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	second, err := GenerateSecureToken(SessionIDBytes)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens")
	}

	raw, err := base64.RawURLEncoding.DecodeString(first)
	if err != nil {
		t.Fatalf("token is not raw url base64: %v", err)
	}
	if len(raw) != SessionIDBytes {
		t.Fatalf("expected %d bytes of entropy, got %d", SessionIDBytes, len(raw))
	}

	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatalf("expected non-positive length to fail")
	}
}

func TestTokenFingerprint(t *testing.T) {
	fp := TokenFingerprint("refresh-token")
	if len(fp) != 12 {
		t.Fatalf("expected 12 character fingerprint, got %q", fp)
	}
	if fp != TokenFingerprint("refresh-token") {
		t.Fatalf("fingerprint must be deterministic")
	}
	if fp == TokenFingerprint("other-token") {
		t.Fatalf("distinct tokens should not share a fingerprint")
	}
	if HashToken("refresh-token")[:12] != fp {
		t.Fatalf("fingerprint must prefix the full hash")
	}
}
