package errors

import "net/http"

// ErrorCode is a machine-readable error identifier returned to clients.
type ErrorCode string

// Payment verification errors.
const (
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrCodeInvalidRequest   ErrorCode = "invalid_request"
	ErrCodeRequestTooLarge  ErrorCode = "request_too_large"
)

// Resource errors.
const (
	ErrCodeNotFound            ErrorCode = "not_found"
	ErrCodeIdempotencyConflict ErrorCode = "idempotency_conflict"
)

// Access and throttling errors.
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeRateLimited  ErrorCode = "rate_limited"
)

// External service errors.
const (
	ErrCodeRazorpayError      ErrorCode = "razorpay_error"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
)

// Internal errors.
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable reports whether a client may retry the same request later.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRazorpayError, ErrCodeServiceUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status for the code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeValidationFailed, ErrCodeInvalidSignature, ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeIdempotencyConflict:
		return http.StatusConflict
	case ErrCodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeRazorpayError:
		return http.StatusBadGateway
	case ErrCodeServiceUnavailable, ErrCodeConfigError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
