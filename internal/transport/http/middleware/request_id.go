package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appLogger "github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key holding the correlation id.
	RequestIDKey = "request_id"
)

// requestIDPattern bounds caller supplied ids to short opaque tokens.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,64}$`)

// RequestID assigns each request a correlation id and carries it on the request context,
// where loggers and published audit events pick it up. A well formed X-Request-ID from the
// caller is kept; anything else is replaced.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if !requestIDPattern.MatchString(reqID) {
			reqID = uuid.NewString()
		}

		c.Set(RequestIDKey, reqID)
		c.Header(RequestIDHeader, reqID)
		c.Request = c.Request.WithContext(appLogger.ContextWithRequestID(c.Request.Context(), reqID))

		c.Next()
	}
}

// GetRequestID returns the correlation id assigned by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
