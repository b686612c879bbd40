package domain

import (
	"strings"
	"time"
)

// Role enumerates the authorization levels embedded in sessions and tokens.
type Role string

const (
	RolePublic     Role = "PUBLIC"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole normalises textual input into a supported role, reporting whether it was recognised.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(value))) {
	case RolePublic:
		return RolePublic, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleSuperAdmin:
		return RoleSuperAdmin, true
	default:
		return "", false
	}
}

// Rank orders roles so that policy checks can compare privilege levels.
func (r Role) Rank() int {
	switch r {
	case RoleSuperAdmin:
		return 2
	case RoleAdmin:
		return 1
	default:
		return 0
	}
}

// Session represents one authenticated device or browser binding.
type Session struct {
	ID                string    `json:"sessionId"`
	UserID            string    `json:"userId"`
	Email             string    `json:"email,omitempty"`
	Role              Role      `json:"role"`
	IssuedAt          time.Time `json:"issuedAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	IPAddress         string    `json:"ipAddress"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
}

// IsActive reports whether the session has not yet reached its expiry at the supplied moment.
func (s Session) IsActive(at time.Time) bool {
	return s.ExpiresAt.After(at)
}

// TTL returns the remaining lifetime relative to at, never negative.
func (s Session) TTL(at time.Time) time.Duration {
	ttl := s.ExpiresAt.Sub(at)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// SessionContext captures the client context a session is bound to.
type SessionContext struct {
	IPAddress         string
	DeviceFingerprint string
}
