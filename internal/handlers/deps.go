package handlers

import (
	"context"

	"apibridge/internal/auth"
	"apibridge/internal/circuitbreaker"
	"apibridge/internal/ratelimit"
	"apibridge/internal/scheduler"
	"apibridge/internal/tokenstore"
)

// AuthManager is the slice of the auth manager the handlers use.
type AuthManager interface {
	GenerateAuthURL(scopes ...string) (*auth.AuthURL, error)
	ExchangeCode(ctx context.Context, code, state string) (*tokenstore.TokenRecord, error)
	TokenInfo(ctx context.Context) (*tokenstore.TokenRecord, error)
	IsAuthenticated(ctx context.Context) bool
	ValidateToken(ctx context.Context) bool
	Revoke(ctx context.Context) error
}

// UpstreamClient is the slice of the API client the handlers use, both
// for proxied requests and for status reporting.
type UpstreamClient interface {
	RequestWithPriority(ctx context.Context, method, endpoint string, body, out interface{}, priority int) error
	RateLimitStats() ratelimit.Stats
	BreakerStats() circuitbreaker.Stats
}

// SchedulerControl exposes the background refresh scheduler.
type SchedulerControl interface {
	Status() scheduler.Status
	ForceRefresh() bool
}
