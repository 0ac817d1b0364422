// Package errs defines the error taxonomy shared across the memory engine.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel kinds. Use errors.Is against these, not string comparison.
var (
	ErrNotFound    = errors.New("not found")
	ErrAuthDenied  = errors.New("auth denied")
	ErrValidation  = errors.New("validation error")
	ErrCircuitOpen = errors.New("circuit open")
	ErrEncryption  = errors.New("encryption error")
	ErrPersistence = errors.New("persistence error")
)

// ProviderCode classifies embedding/chat provider failures for retry policy.
type ProviderCode string

const (
	ProviderAuth       ProviderCode = "AUTH_ERROR"
	ProviderRateLimit  ProviderCode = "RATE_LIMIT"
	ProviderServer     ProviderCode = "SERVER_ERROR"
	ProviderTimeout    ProviderCode = "TIMEOUT"
	ProviderUnknown    ProviderCode = "UNKNOWN"
)

// ProviderError wraps a remote provider failure with a retry hint.
type ProviderError struct {
	Code      ProviderCode
	Retryable bool
	Model     string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s] model=%s retryable=%v: %v", e.Code, e.Model, e.Retryable, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError classifies err into a ProviderError using status/message
// introspection.
func NewProviderError(model string, statusCode int, err error) *ProviderError {
	code, retryable := classify(statusCode, err)
	return &ProviderError{Code: code, Retryable: retryable, Model: model, Err: err}
}

func classify(statusCode int, err error) (ProviderCode, bool) {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ProviderAuth, false
	case statusCode == 429:
		return ProviderRateLimit, true
	case statusCode >= 500 && statusCode < 600:
		return ProviderServer, true
	case statusCode == 408:
		return ProviderTimeout, true
	case err != nil && isTimeout(err):
		return ProviderTimeout, true
	default:
		return ProviderUnknown, true
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

// Wrap annotates err with a message, preserving the error chain for errors.Is/As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// NotFoundf builds a not-found error carrying context, chainable to ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// Validationf builds a validation error carrying context.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// Persistencef wraps a low-level persistence failure.
func Persistencef(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrPersistence, format+": %v", append(args, err)...)
}
