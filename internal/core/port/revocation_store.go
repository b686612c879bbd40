package port

import (
	"context"
	"time"
)

// RevocationStore is the shared revocation set. Entries expire with the token they revoke.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, tokenID string, reason string, ttl time.Duration) error
	// Claim atomically revokes tokenID only if it was not revoked before and reports whether this call won.
	Claim(ctx context.Context, tokenID string, reason string, ttl time.Duration) (bool, error)
	// Release removes a claim only while it still holds reason, and reports whether it did.
	Release(ctx context.Context, tokenID string, reason string) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, string, error)
}
