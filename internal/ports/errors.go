package ports

import (
	"context"
	"errors"
	"fmt"

	"autotrader/internal/domain"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")
	ErrValidation         = domain.ErrValidation

	// Exchange Specific Errors
	ErrNetwork              = errors.New("network error talking to the exchange")
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrDuplicateOrder       = errors.New("client order id already used")
	ErrOrderRejected        = errors.New("order rejected by the exchange")
	ErrStaleData            = errors.New("market data is stale")

	// Database Specific Errors
	ErrQueryFailed = errors.New("database query failed")
)

// ExchangeError carries an exchange error code that has no dedicated sentinel.
type ExchangeError struct {
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %s: %s", e.Code, e.Message)
}

// ErrorClass names the handling policy for an error.
type ErrorClass string

const (
	ClassTransient  ErrorClass = "transient"
	ClassFatal      ErrorClass = "fatal"
	ClassStale      ErrorClass = "stale_data"
	ClassValidation ErrorClass = "validation"
	ClassExchange   ErrorClass = "exchange"
)

// IsTransient reports whether retrying the same request may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether the error needs operator intervention.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrInvalidAPIKeys) ||
		errors.Is(err, ErrInsufficientFunds)
}

// Classify maps an error onto its handling policy.
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ClassFatal
	case IsTransient(err):
		return ClassTransient
	case errors.Is(err, ErrStaleData):
		return ClassStale
	case errors.Is(err, ErrValidation):
		return ClassValidation
	default:
		return ClassExchange
	}
}
