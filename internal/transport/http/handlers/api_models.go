package handlers

import (
	"time"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// CallbackRequest carries the OAuth2 authorization code returned to the frontend.
type CallbackRequest struct {
	Code              string `json:"code" binding:"required"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// TokenRefreshRequest represents the payload to refresh an access token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// UserSummary describes the signed-in user.
type UserSummary struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name,omitempty"`
	Role  domain.Role `json:"role"`
}

// TokenResponse is returned after sign-in and refresh.
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	SessionID    string       `json:"session_id"`
	User         *UserSummary `json:"user,omitempty"`
}

// AuthorizeResponse points the browser at the identity provider.
type AuthorizeResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// SessionResponse describes the caller's current session.
type SessionResponse struct {
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	SessionID string      `json:"session_id"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// LogoutResponse reports how many sessions were terminated.
type LogoutResponse struct {
	TerminatedSessions int `json:"terminated_sessions"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newTokenResponse(pair domain.TokenPair, user *domain.AuthenticatedUser) TokenResponse {
	resp := TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
		SessionID:    pair.SessionID,
	}
	if user != nil {
		resp.User = &UserSummary{ID: user.UserID, Email: user.Email, Name: user.Name, Role: user.Role}
	}
	return resp
}
