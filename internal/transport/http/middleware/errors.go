package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Code      domain.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	TraceID   string           `json:"trace_id,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeValidation:                http.StatusBadRequest,
	domain.CodeRateLimitExceeded:         http.StatusTooManyRequests,
	domain.CodeIdentityNotVerified:       http.StatusForbidden,
	domain.CodeInvalidAuthorizationCode:  http.StatusUnauthorized,
	domain.CodeSessionExpired:            http.StatusUnauthorized,
	domain.CodeSessionContextMismatch:    http.StatusUnauthorized,
	domain.CodeTokenRevoked:              http.StatusUnauthorized,
	domain.CodeTokenExpired:              http.StatusUnauthorized,
	domain.CodeInvalidToken:              http.StatusUnauthorized,
	domain.CodeKeyNotFound:               http.StatusUnauthorized,
	domain.CodeAuthenticationTagMismatch: http.StatusUnauthorized,
	domain.CodeUpstreamTimeout:           http.StatusGatewayTimeout,
	domain.CodeStoreUnavailable:          http.StatusServiceUnavailable,
	domain.CodeInternal:                  http.StatusInternalServerError,
	domain.CodeForbidden:                 http.StatusForbidden,
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code domain.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NewErrorResponse builds an error body carrying the request trace and correlation ids.
func NewErrorResponse(c *gin.Context, code domain.ErrorCode, message string) ErrorResponse {
	return ErrorResponse{Code: code, Message: message, TraceID: GetTraceID(c), RequestID: GetRequestID(c)}
}

// AbortWithError writes err as a JSON error body and stops the chain.
// Internal failures never leak their cause to the client.
func AbortWithError(c *gin.Context, err error) {
	domainErr := domain.AsError(err)

	message := domainErr.Message
	switch domainErr.Code {
	case domain.CodeInternal:
		message = "internal error"
	case domain.CodeKeyNotFound, domain.CodeAuthenticationTagMismatch:
		// Tamper details stay in the audit log.
		message = "invalid token"
	}

	if domainErr.RetryAfter > 0 {
		seconds := int(math.Ceil(domainErr.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(StatusFor(domainErr.Code), NewErrorResponse(c, domainErr.Code, message))
}
