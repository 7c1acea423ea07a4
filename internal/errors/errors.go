package errors

import (
	"errors"
	"fmt"
)

// Custom error types
var (
	ErrAuth              = errors.New("panel authentication failed")
	ErrNotFound          = errors.New("not found")
	ErrProvision         = errors.New("provisioning failed")
	ErrAlreadyProcessed  = errors.New("payment already processed")
	ErrNotConfigured     = errors.New("panel not configured")
	ErrTrialUsed         = errors.New("trial already used")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// ShopError represents a structured bot error
type ShopError struct {
	Code    string
	Message string
	Err     error
}

func (e *ShopError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ShopError) Unwrap() error {
	return e.Err
}

// New creates a new ShopError
func New(code, message string) *ShopError {
	return &ShopError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code, message string) *ShopError {
	return &ShopError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Auth creates a panel authentication error
func Auth(message string, err error) *ShopError {
	return &ShopError{
		Code:    "PANEL_AUTH",
		Message: message,
		Err:     errors.Join(ErrAuth, err),
	}
}

// Provision creates a provisioning error
func Provision(message string, err error) *ShopError {
	return &ShopError{
		Code:    "PROVISION",
		Message: message,
		Err:     errors.Join(ErrProvision, err),
	}
}

// NotFound creates a not-found error
func NotFound(message string) *ShopError {
	return &ShopError{
		Code:    "NOT_FOUND",
		Message: message,
		Err:     ErrNotFound,
	}
}

// NotConfigured creates an error for a panel variant without credentials
func NotConfigured(message string) *ShopError {
	return &ShopError{
		Code:    "NOT_CONFIGURED",
		Message: message,
		Err:     ErrNotConfigured,
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *ShopError {
	return &ShopError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Err:     ErrUnauthorized,
	}
}

// RateLimitExceeded creates a rate limit exceeded error
func RateLimitExceeded(message string) *ShopError {
	return &ShopError{
		Code:    "RATE_LIMIT",
		Message: message,
		Err:     ErrRateLimitExceeded,
	}
}
