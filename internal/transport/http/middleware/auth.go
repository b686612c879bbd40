package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

const (
	// TokenPayloadKey holds the verified access token payload.
	TokenPayloadKey = "token_payload"
	// AccessTokenKey holds the raw bearer token so logout can revoke it.
	AccessTokenKey = "access_token"
)

// AccessTokenVerifier validates bearer tokens against the session store.
type AccessTokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token, ipAddress string) (domain.TokenPayload, error)
}

// RequireAuth validates the Authorization header and stores the token payload in the context.
func RequireAuth(verifier AccessTokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, domain.ErrInvalidToken.WithMessage("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, domain.ErrInvalidToken.WithMessage("invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			AbortWithError(c, domain.ErrInvalidToken.WithMessage("missing access token"))
			return
		}

		payload, err := verifier.VerifyAccessToken(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(UserIDKey, payload.UserID)
		c.Set(TokenPayloadKey, payload)
		c.Set(AccessTokenKey, token)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = payload.UserID
		}

		c.Next()
	}
}

// RequireRole admits callers holding one of roles. SUPER_ADMIN satisfies any ADMIN requirement.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := GetTokenPayload(c)
		if !ok {
			AbortWithError(c, domain.ErrInvalidToken.WithMessage("authentication required"))
			return
		}
		if !hasAnyRole(payload.Role, roles) {
			AbortWithError(c, domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

func hasAnyRole(role domain.Role, required []domain.Role) bool {
	for _, r := range required {
		if role == r {
			return true
		}
		if r == domain.RoleAdmin && role == domain.RoleSuperAdmin {
			return true
		}
	}
	return false
}

// GetTokenPayload retrieves the verified token payload (helper for handlers).
func GetTokenPayload(c *gin.Context) (domain.TokenPayload, bool) {
	value, exists := c.Get(TokenPayloadKey)
	if !exists {
		return domain.TokenPayload{}, false
	}
	payload, ok := value.(domain.TokenPayload)
	return payload, ok
}

// GetAccessToken retrieves the raw bearer token of an authenticated request.
func GetAccessToken(c *gin.Context) string {
	return c.GetString(AccessTokenKey)
}
