package domain

import "time"

// TokenType distinguishes access tokens from refresh tokens sharing the same claim shape.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPayload is the immutable claim set embedded in access and refresh tokens.
type TokenPayload struct {
	UserID    string
	Email     string
	Role      Role
	SessionID string
	TokenID   string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the payload has elapsed its validity window.
func (p TokenPayload) IsExpired(at time.Time) bool {
	return !p.ExpiresAt.After(at)
}

// RemainingLifetime returns how long the token stays valid after at, never negative.
func (p TokenPayload) RemainingLifetime(at time.Time) time.Duration {
	ttl := p.ExpiresAt.Sub(at)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// TokenPair is returned to callers after sign-in or refresh. RefreshToken is the encrypted, opaque form.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	SessionID    string
}

// TokenRevocation describes a revoked token identifier and how long the revocation must be remembered.
type TokenRevocation struct {
	TokenID   string
	Reason    string
	ExpiresAt time.Time
}
