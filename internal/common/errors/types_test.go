package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("OAUTH_CLIENT_ID", "is required")
	assert.Contains(t, err.Error(), "OAUTH_CLIENT_ID")
	assert.Contains(t, err.Error(), "is required")
	assert.True(t, IsConfiguration(err))
	assert.True(t, IsConfiguration(fmt.Errorf("startup: %w", err)))
	assert.False(t, IsConfiguration(errors.New("plain")))
}

func TestConfigurationError_NoField(t *testing.T) {
	err := &ConfigurationError{Message: "nothing configured"}
	assert.Equal(t, "configuration error: nothing configured", err.Error())
}

func TestNoTokenError(t *testing.T) {
	var err error = &NoTokenError{}
	assert.True(t, IsNoToken(err))
	assert.True(t, IsNoToken(fmt.Errorf("api call: %w", err)))
	assert.False(t, IsNoToken(errors.New("other")))
}

func TestTokenExchangeError(t *testing.T) {
	err := &TokenExchangeError{StatusCode: 400, Body: "invalid_grant"}
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid_grant")

	cause := errors.New("connection refused")
	wrapped := &TokenExchangeError{Cause: cause}
	assert.ErrorIs(t, wrapped, cause)
}

func TestTokenRefreshError(t *testing.T) {
	err := &TokenRefreshError{StatusCode: 401, Body: "expired"}
	assert.Contains(t, err.Error(), "token refresh failed")
	assert.Contains(t, err.Error(), "401")

	var target *TokenRefreshError
	assert.True(t, errors.As(fmt.Errorf("scheduler: %w", err), &target))
	assert.Equal(t, 401, target.StatusCode)
}

func TestRequestError_Auth(t *testing.T) {
	err := &RequestError{StatusCode: 403, Body: "forbidden", Endpoint: "/v1/items", Auth: true}
	assert.True(t, IsAuthFailure(err))
	assert.Contains(t, err.Error(), "rejected")
	assert.Contains(t, err.Error(), "/v1/items")
}

func TestRequestError_Exhausted(t *testing.T) {
	err := &RequestError{StatusCode: 503, Body: "unavailable", Endpoint: "/v1/items", Attempts: 4}
	assert.False(t, IsAuthFailure(err))
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Contains(t, err.Error(), "503")
}

func TestRequestError_NetworkCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &RequestError{Endpoint: "/v1/items", Attempts: 4, Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsLimiterCleared(t *testing.T) {
	assert.True(t, IsLimiterCleared(ErrLimiterCleared))
	assert.True(t, IsLimiterCleared(fmt.Errorf("acquire: %w", ErrLimiterCleared)))
	assert.False(t, IsLimiterCleared(errors.New("other")))
}
