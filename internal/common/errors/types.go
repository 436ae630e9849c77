// Package errors defines the closed set of typed errors the client
// subsystem can surface. Each variant carries structured fields so callers
// can branch with errors.As instead of string matching.
package errors

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates missing or invalid configuration detected at
// construction time. It is fatal: the process should refuse to start.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// NewConfigurationError creates a ConfigurationError for a config field
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// NoTokenError indicates no stored token exists where one is required.
// Recoverable by sending the caller through the authorization flow.
type NoTokenError struct{}

func (e *NoTokenError) Error() string {
	return "no token available, authentication required"
}

// TokenExchangeError indicates the provider rejected an authorization-code
// exchange. Carries the upstream response verbatim.
type TokenExchangeError struct {
	StatusCode int
	Body       string
	Cause      error
}

func (e *TokenExchangeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token exchange failed: %v", e.Cause)
	}
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *TokenExchangeError) Unwrap() error { return e.Cause }

// TokenRefreshError indicates the provider rejected a refresh attempt.
// Not retried by the auth manager; the next token read will try again.
type TokenRefreshError struct {
	StatusCode int
	Body       string
	Cause      error
}

func (e *TokenRefreshError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Cause)
	}
	return fmt.Sprintf("token refresh failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *TokenRefreshError) Unwrap() error { return e.Cause }

// RequestError indicates an API request that failed after the client's own
// retry policy ran its course. Auth marks 401/403 responses, which are never
// retried; everything else reports the last observed status and body along
// with how many attempts were made.
type RequestError struct {
	StatusCode int
	Body       string
	Endpoint   string
	Attempts   int
	Auth       bool
	Cause      error
}

func (e *RequestError) Error() string {
	if e.Auth {
		return fmt.Sprintf("request to %s rejected with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	if e.Cause != nil {
		return fmt.Sprintf("request to %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("request to %s failed after %d attempts: status %d: %s", e.Endpoint, e.Attempts, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error { return e.Cause }

// ErrLimiterCleared is delivered to every waiter pending in the limiter
// queue when the queue is cleared during shutdown.
var ErrLimiterCleared = errors.New("rate limiter queue cleared")

// Predicates

// IsNoToken reports whether err is a NoTokenError
func IsNoToken(err error) bool {
	var e *NoTokenError
	return errors.As(err, &e)
}

// IsAuthFailure reports whether err is a 401/403 RequestError
func IsAuthFailure(err error) bool {
	var e *RequestError
	return errors.As(err, &e) && e.Auth
}

// IsConfiguration reports whether err is a ConfigurationError
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsLimiterCleared reports whether err came from a queue clear
func IsLimiterCleared(err error) bool {
	return errors.Is(err, ErrLimiterCleared)
}
