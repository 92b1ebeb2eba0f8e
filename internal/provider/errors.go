package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode normalizes vendor-specific provider failures into a small,
// stable set the dispatcher can branch on without knowing which vendor
// produced them.
type ErrorCode string

const (
	ErrorCodeRateLimit ErrorCode = "rate_limit"
	ErrorCodeTimeout ErrorCode = "timeout"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
	ErrorCodeAuthentication ErrorCode = "authentication"
	ErrorCodeUnavailable ErrorCode = "unavailable"
	ErrorCodeUnknown ErrorCode = "unknown"
)

// Error is the normalized error every provider adapter wraps vendor
// failures in before returning them on a Stream/StreamBuffered error
// channel. It implements Unwrap so callers can still reach the underlying
// vendor error with errors.As, and Is so errors.Is(err, provider.ErrTimeout)
// style checks work without exposing the wrapped cause.
type Error struct {
	Code ErrorCode
	Provider string
	Message string
	Cause error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("provider: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel instances for errors.Is comparisons against a bare code.
var (
	ErrRateLimit = &Error{Code: ErrorCodeRateLimit}
	ErrTimeout = &Error{Code: ErrorCodeTimeout}
	ErrInvalidRequest = &Error{Code: ErrorCodeInvalidRequest}
	ErrAuthentication = &Error{Code: ErrorCodeAuthentication}
	ErrUnavailable = &Error{Code: ErrorCodeUnavailable}
)

// Wrap builds a normalized provider error.
func Wrap(providerName string, code ErrorCode, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Provider: providerName, Message: msg, Cause: cause}
}

// ConfigurationError is raised by the registry and model registry: at
// startup it is fatal, at request time the session supervisor surfaces it
// as a non-terminal "error" event with stage="routing".
type ConfigurationError struct {
	Reason string
	Available []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("configuration_error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration_error: %s (available: %s)", e.Reason, strings.Join(e.Available, ", "))
}

// AsConfigurationError reports whether err is a *ConfigurationError.
func AsConfigurationError(err error) (*ConfigurationError, bool) {
	var ce *ConfigurationError
	ok := errors.As(err, &ce)
	return ce, ok
}
