package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the stable, externally visible identifier of an authentication failure.
type ErrorCode string

const (
	CodeValidation                ErrorCode = "VALIDATION_ERROR"
	CodeRateLimitExceeded         ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeIdentityNotVerified       ErrorCode = "IDENTITY_NOT_VERIFIED"
	CodeInvalidAuthorizationCode  ErrorCode = "INVALID_AUTHORIZATION_CODE"
	CodeSessionExpired            ErrorCode = "SESSION_EXPIRED"
	CodeSessionContextMismatch    ErrorCode = "SESSION_CONTEXT_MISMATCH"
	CodeTokenRevoked              ErrorCode = "TOKEN_REVOKED"
	CodeTokenExpired              ErrorCode = "TOKEN_EXPIRED"
	CodeInvalidToken              ErrorCode = "INVALID_TOKEN"
	CodeKeyNotFound               ErrorCode = "KEY_NOT_FOUND"
	CodeAuthenticationTagMismatch ErrorCode = "AUTHENTICATION_TAG_MISMATCH"
	CodeUpstreamTimeout           ErrorCode = "UPSTREAM_TIMEOUT"
	CodeStoreUnavailable          ErrorCode = "STORE_UNAVAILABLE"
	CodeInternal                  ErrorCode = "INTERNAL_ERROR"
	CodeForbidden                 ErrorCode = "FORBIDDEN"
)

// Error carries a stable code plus an optional cause that never leaves the service boundary.
type Error struct {
	Code       ErrorCode
	Message    string
	RetryAfter time.Duration
	Cause      error
}

// Error renders the message and, for logs, the wrapped cause.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so wrapped instances still satisfy errors.Is against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the caller may retry the operation after backing off.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeRateLimitExceeded, CodeUpstreamTimeout, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// TamperEvident reports whether the failure indicates a forged or corrupted credential.
func (e *Error) TamperEvident() bool {
	return e.Code == CodeKeyNotFound || e.Code == CodeAuthenticationTagMismatch
}

// Wrap returns a copy of the sentinel carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, RetryAfter: e.RetryAfter, Cause: cause}
}

// WithMessage returns a copy of the sentinel with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), RetryAfter: e.RetryAfter, Cause: e.Cause}
}

// WithRetryAfter returns a copy of the sentinel advertising when a retry may succeed.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	if d < 0 {
		d = 0
	}
	return &Error{Code: e.Code, Message: e.Message, RetryAfter: d, Cause: e.Cause}
}

var (
	ErrValidation                = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrRateLimitExceeded         = &Error{Code: CodeRateLimitExceeded, Message: "too many attempts"}
	ErrIdentityNotVerified       = &Error{Code: CodeIdentityNotVerified, Message: "identity not verified"}
	ErrInvalidAuthorizationCode  = &Error{Code: CodeInvalidAuthorizationCode, Message: "invalid authorization code"}
	ErrSessionExpired            = &Error{Code: CodeSessionExpired, Message: "session expired"}
	ErrSessionContextMismatch    = &Error{Code: CodeSessionContextMismatch, Message: "session context mismatch"}
	ErrTokenRevoked              = &Error{Code: CodeTokenRevoked, Message: "token revoked"}
	ErrTokenExpired              = &Error{Code: CodeTokenExpired, Message: "token expired"}
	ErrInvalidToken              = &Error{Code: CodeInvalidToken, Message: "invalid token"}
	ErrKeyNotFound               = &Error{Code: CodeKeyNotFound, Message: "encryption key not found"}
	ErrAuthenticationTagMismatch = &Error{Code: CodeAuthenticationTagMismatch, Message: "authentication tag mismatch"}
	ErrUpstreamTimeout           = &Error{Code: CodeUpstreamTimeout, Message: "upstream timeout"}
	ErrStoreUnavailable          = &Error{Code: CodeStoreUnavailable, Message: "store unavailable"}
	ErrInternal                  = &Error{Code: CodeInternal, Message: "internal error"}
	ErrForbidden                 = &Error{Code: CodeForbidden, Message: "insufficient permissions"}
)

// AsError extracts the *Error from err, falling back to an internal error that hides the cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return ErrInternal.Wrap(err)
}

// CodeOf returns the stable code for err, or an empty code for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}
