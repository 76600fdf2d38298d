package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidJob        = errors.New("invalid job")
)

// ErrorCode classifies provider failures into one taxonomy regardless of
// which renderer produced them.
type ErrorCode string

const (
	CodeInvalidProviderInput   ErrorCode = "INVALID_PROVIDER_INPUT"
	CodeProviderDispatchFailed ErrorCode = "PROVIDER_DISPATCH_FAILED"
	CodeProviderOutputMissing  ErrorCode = "PROVIDER_OUTPUT_MISSING"
	CodeProviderCircuitOpen    ErrorCode = "PROVIDER_CIRCUIT_OPEN"
)

// ProviderError is the canonical error returned by provider strategies and
// the circuit breaker. StatusCode is the upstream HTTP status, zero when the
// call never produced a response.
type ProviderError struct {
	Code       ErrorCode
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Code)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call could succeed: transport
// failures, throttling and upstream 5xx responses.
func (e *ProviderError) Retryable() bool {
	if e == nil || e.Code != CodeProviderDispatchFailed {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewProviderError builds a ProviderError.
func NewProviderError(provider string, code ErrorCode, status int, err error) *ProviderError {
	return &ProviderError{Code: code, Provider: provider, StatusCode: status, Err: err}
}

// ProviderErrorCode extracts the taxonomy code from err, or "" when err is not
// a ProviderError.
func ProviderErrorCode(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
