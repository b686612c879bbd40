package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/security"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/middleware"
)

const (
	deviceFingerprintHeader = middleware.DeviceFingerprintHeader
	stateBytes              = 24
)

// SignInFlow runs the OAuth2 login and logout orchestration.
type SignInFlow interface {
	SignIn(ctx context.Context, code, ipAddress, fingerprint string) (domain.AuthenticatedUser, domain.TokenPair, error)
	Logout(ctx context.Context, sessionID, userID string) (int, error)
}

// TokenRotator refreshes and revokes issued tokens.
type TokenRotator interface {
	middleware.AccessTokenVerifier
	Refresh(ctx context.Context, encryptedRefreshToken, ipAddress string) (domain.TokenPair, error)
	RevokeToken(ctx context.Context, token string) error
}

// AuthorizeURLBuilder renders the identity provider consent URL.
type AuthorizeURLBuilder interface {
	AuthCodeURL(state string) string
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	flow      SignInFlow
	tokens    TokenRotator
	authorize AuthorizeURLBuilder
}

// NewAuthHandler constructs AuthHandler. authorize may be nil when the frontend builds the consent URL itself.
func NewAuthHandler(flow SignInFlow, tokens TokenRotator, authorize AuthorizeURLBuilder) *AuthHandler {
	return &AuthHandler{flow: flow, tokens: tokens, authorize: authorize}
}

// RegisterRoutes binds authentication routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	requireAuth := middleware.RequireAuth(h.tokens)

	if h.authorize != nil {
		r.GET("/authorize", h.authorizeURL)
	}
	r.POST("/callback", h.callback)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", requireAuth, h.logout)
	r.GET("/session", requireAuth, h.session)
}

// authorizeURL returns the consent URL with a fresh state value.
func (h *AuthHandler) authorizeURL(c *gin.Context) {
	state, err := security.GenerateSecureToken(stateBytes)
	if err != nil {
		middleware.AbortWithError(c, domain.ErrInternal.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, AuthorizeResponse{URL: h.authorize.AuthCodeURL(state), State: state})
}

// callback exchanges an authorization code for a session and token pair.
func (h *AuthHandler) callback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, domain.ErrValidation.WithMessage("invalid callback payload"))
		return
	}

	fingerprint := req.DeviceFingerprint
	if fingerprint == "" {
		fingerprint = c.GetHeader(deviceFingerprintHeader)
	}

	user, pair, err := h.flow.SignIn(c.Request.Context(), req.Code, c.ClientIP(), fingerprint)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.Set(middleware.UserIDKey, user.UserID)
	c.JSON(http.StatusOK, newTokenResponse(pair, &user))
}

// refresh trades an encrypted refresh token for a new pair; the old one is spent.
func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, domain.ErrValidation.WithMessage("invalid refresh payload"))
		return
	}

	pair, err := h.tokens.Refresh(c.Request.Context(), req.RefreshToken, c.ClientIP())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair, nil))
}

// logout ends the session named by the access token.
func (h *AuthHandler) logout(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		middleware.AbortWithError(c, domain.ErrInvalidToken.WithMessage("authentication required"))
		return
	}

	count, err := h.flow.Logout(c.Request.Context(), payload.SessionID, payload.UserID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	// The session is gone already; revoking the access token only shortens its tail.
	if err := h.tokens.RevokeToken(c.Request.Context(), middleware.GetAccessToken(c)); err != nil {
		_ = c.Error(err)
	}

	c.JSON(http.StatusOK, LogoutResponse{TerminatedSessions: count})
}

// session describes the caller's session.
func (h *AuthHandler) session(c *gin.Context) {
	payload, ok := middleware.GetTokenPayload(c)
	if !ok {
		middleware.AbortWithError(c, domain.ErrInvalidToken.WithMessage("authentication required"))
		return
	}
	c.JSON(http.StatusOK, SessionResponse{
		UserID:    payload.UserID,
		Email:     payload.Email,
		Role:      payload.Role,
		SessionID: payload.SessionID,
		ExpiresAt: payload.ExpiresAt,
	})
}
