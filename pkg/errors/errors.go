// Package errors defines the structured error types returned by the access-control pipeline.
// Every error carries a stable code and the HTTP status it surfaces as, so transports can
// render denials without knowing which component produced them.
package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"

	"github.com/turtacn/accessgate/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// GateError represents a structured error with additional metadata
type GateError interface {
	error

	// Code returns the stable error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) GateError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) GateError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

// baseError is the internal implementation of GateError
type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Code returns the error code
func (e *baseError) Code() constants.ErrorCode {
	return e.code
}

// HTTPStatus returns the HTTP status code
func (e *baseError) HTTPStatus() int {
	return e.httpStatus
}

// Description returns the error description
func (e *baseError) Description() string {
	return e.description
}

// Unwrap returns the underlying cause error
func (e *baseError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) GateError {
	e.cause = cause
	return e
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) GateError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all metadata
func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new GateError with the specified parameters
func NewError(code constants.ErrorCode, httpStatus int, description string, message string) GateError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Authentication Errors (401)
// ================================================================================

// ErrMissingToken is returned when no bearer credential accompanies a protected request
func ErrMissingToken() GateError {
	return NewError(
		constants.ErrCodeMissingToken,
		http.StatusUnauthorized,
		"A bearer token is required to access this resource.",
		"missing or malformed authorization header",
	)
}

// ErrInvalidToken covers malformed tokens and signature failures
func ErrInvalidToken(message string) GateError {
	return NewError(
		constants.ErrCodeInvalidToken,
		http.StatusUnauthorized,
		"The token is malformed or its signature is invalid.",
		message,
	)
}

// ErrTokenExpired is returned when a token is stale beyond the clock skew tolerance
func ErrTokenExpired(tokenType string) GateError {
	return NewError(
		constants.ErrCodeTokenExpired,
		http.StatusUnauthorized,
		"The token has expired.",
		fmt.Sprintf("%s token has expired", tokenType),
	).WithMetadata("token_type", tokenType)
}

// ErrTokenRevoked is returned when the token id is on the revocation list
func ErrTokenRevoked(jti string) GateError {
	return NewError(
		constants.ErrCodeTokenRevoked,
		http.StatusUnauthorized,
		"The token has been revoked.",
		fmt.Sprintf("token %s has been revoked", jti),
	)
}

// ErrInvalidTokenType is returned when an access token is presented where a refresh token is expected, or vice versa
func ErrInvalidTokenType(expected, actual string) GateError {
	return NewError(
		constants.ErrCodeInvalidTokenType,
		http.StatusUnauthorized,
		"The token type does not match the requested operation.",
		fmt.Sprintf("expected %s token, got %q", expected, actual),
	).WithMetadata("expected", expected)
}

// ErrInvalidAudience is returned when the audience claim does not match the expected token type
func ErrInvalidAudience(expected string) GateError {
	return NewError(
		constants.ErrCodeInvalidAudience,
		http.StatusUnauthorized,
		"The token audience is not accepted here.",
		fmt.Sprintf("token audience does not include %s", expected),
	)
}

// ErrRefreshTokenInvalid is returned when no live server-side record backs a refresh token
func ErrRefreshTokenInvalid() GateError {
	return NewError(
		constants.ErrCodeRefreshTokenInvalid,
		http.StatusUnauthorized,
		"The refresh token is invalid or revoked.",
		"invalid or revoked refresh token",
	)
}

// ErrRotationLimitExceeded is returned when a refresh chain has been rotated too many times
func ErrRotationLimitExceeded(limit int) GateError {
	return NewError(
		constants.ErrCodeRotationLimitExceeded,
		http.StatusUnauthorized,
		"The refresh token chain has reached its rotation limit; sign in again.",
		"rotation limit exceeded",
	).WithMetadata("rotation_limit", limit)
}

// ErrUnauthenticated is an authorization denial for a caller without identity
func ErrUnauthenticated(reason string) GateError {
	return NewError(
		constants.ErrCodeUnauthenticated,
		http.StatusUnauthorized,
		"Authentication is required to access this resource.",
		reason,
	)
}

// ================================================================================
// Authorization Errors (403)
// ================================================================================

// ErrForbidden is an authorization denial for a caller whose identity is known but insufficient
func ErrForbidden(reason string) GateError {
	return NewError(
		constants.ErrCodeForbidden,
		http.StatusForbidden,
		"The caller is not allowed to perform this operation.",
		reason,
	)
}

// ================================================================================
// Rate Limit Errors (429)
// ================================================================================

// ErrRateLimitExceeded is returned by the token-bucket layer
func ErrRateLimitExceeded(scope constants.LimitScope, retryAfter int) GateError {
	return NewError(
		constants.ErrCodeRateLimitExceeded,
		http.StatusTooManyRequests,
		"Too many requests; retry later.",
		fmt.Sprintf("rate limit exceeded for %s", scope),
	).WithMetadata("retry_after", retryAfter)
}

// ErrIssuanceRateLimited is returned when a subject requests tokens too quickly
func ErrIssuanceRateLimited(subject string) GateError {
	return NewError(
		constants.ErrCodeIssuanceRateLimited,
		http.StatusTooManyRequests,
		"Too many token requests; retry later.",
		fmt.Sprintf("token issuance rate limit exceeded for %s", subject),
	)
}

// ================================================================================
// Request / Configuration / Internal Errors
// ================================================================================

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) GateError {
	return NewError(
		constants.ErrCodeInvalidRequest,
		http.StatusBadRequest,
		"The request is missing a required parameter or is otherwise malformed.",
		message,
	)
}

// ErrInvalidPolicy is returned when a policy document cannot be loaded
func ErrInvalidPolicy(message string) GateError {
	return NewError(
		constants.ErrCodeInvalidPolicy,
		http.StatusInternalServerError,
		"The policy document is invalid.",
		message,
	)
}

// ErrInvalidConfig is returned when configuration fails validation
func ErrInvalidConfig(message string) GateError {
	return NewError(
		constants.ErrCodeInvalidConfig,
		http.StatusInternalServerError,
		"The service configuration is invalid.",
		message,
	)
}

// ErrInternal creates an internal error; its message is never sent to clients
func ErrInternal(message string) GateError {
	return NewError(
		constants.ErrCodeInternal,
		http.StatusInternalServerError,
		"An unexpected error occurred.",
		message,
	)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsGateError finds the first GateError in err's chain
func AsGateError(err error) (GateError, bool) {
	var gateErr GateError
	if goerrors.As(err, &gateErr) {
		return gateErr, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code
func IsErrorCode(err error, code constants.ErrorCode) bool {
	if gateErr, ok := AsGateError(err); ok {
		return gateErr.Code() == code
	}
	return false
}

// HTTPStatusOf returns the HTTP status for err, 500 for unstructured errors
func HTTPStatusOf(err error) int {
	if gateErr, ok := AsGateError(err); ok {
		return gateErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsRateLimitError checks if an error is related to rate limiting
func IsRateLimitError(err error) bool {
	return HTTPStatusOf(err) == http.StatusTooManyRequests
}

// ShouldLogError determines if an error should be logged based on severity
func ShouldLogError(err error) bool {
	if gateErr, ok := AsGateError(err); ok {
		status := gateErr.HTTPStatus()
		return status >= 500 || status == http.StatusTooManyRequests
	}
	return true
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ToResponse renders err as a JSON body: {"error": code, "reason": message, ...metadata}.
// Unstructured errors and internal errors collapse into a generic body that leaks nothing.
func ToResponse(err error) map[string]interface{} {
	gateErr, ok := AsGateError(err)
	if !ok || gateErr.HTTPStatus() >= http.StatusInternalServerError {
		return map[string]interface{}{
			"error":  string(constants.ErrCodeInternal),
			"reason": "internal server error",
		}
	}

	body := make(map[string]interface{}, len(gateErr.Metadata())+2)
	for k, v := range gateErr.Metadata() {
		body[k] = v
	}
	body["error"] = string(gateErr.Code())
	reason := gateErr.Description()
	if base, ok := gateErr.(*baseError); ok && base.message != "" {
		reason = base.message
	}
	body["reason"] = reason
	return body
}

//Personal.AI order the ending
