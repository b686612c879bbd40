package domain

import "time"

// Audit event types published to the message bus.
const (
	EventUserLoggedIn      = "auth.user.logged_in"
	EventSessionCreated    = "auth.session.created"
	EventSessionEvicted    = "auth.session.evicted"
	EventSessionEnded      = "auth.session.terminated"
	EventTokenRevoked      = "auth.token.revoked"
	EventRefreshReplay     = "auth.token.replay_detected"
	EventKeyRotated        = "auth.key.rotated"
	EventTamperDetected    = "auth.credential.tamper_detected"
	EventRateLimitBreached = "auth.rate_limit.exceeded"
)

// SessionEvent captures lifecycle changes for sessions.
type SessionEvent struct {
	EventID           string
	Type              string
	SessionID         string
	UserID            string
	Role              Role
	IPAddress         string
	DeviceFingerprint string
	Reason            string
	At                time.Time
}

// TokenEvent captures revocations and replay attempts for issued tokens.
type TokenEvent struct {
	EventID   string
	Type      string
	TokenID   string
	SessionID string
	UserID    string
	Reason    string
	IPAddress string
	// ExpiresAt bounds how long consumers must remember a revocation.
	ExpiresAt time.Time
	At        time.Time
}

// KeyRotatedEvent records a new encryption key generation. It never carries key material.
type KeyRotatedEvent struct {
	EventID        string
	NewVersion     int
	PurgedVersions []int
	At             time.Time
}

// SecurityEvent records tamper evidence and rate-limit breaches for audit.
type SecurityEvent struct {
	EventID    string
	Type       string
	Code       ErrorCode
	Identity   string
	KeyVersion int
	Detail     string
	At         time.Time
}
