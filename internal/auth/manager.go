// Package auth manages the OAuth2 token lifecycle: authorization URL
// generation, code exchange, refresh, validation and revocation. It owns
// the single token record through the token store and guarantees callers
// never receive an access token within the expiry safety margin.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"apibridge/internal/circuitbreaker"
	apperrors "apibridge/internal/common/errors"
	"apibridge/internal/common/logging"
	"apibridge/internal/common/utils"
	"apibridge/internal/metrics"
	"apibridge/internal/tokenstore"
)

const (
	// refreshMargin is how far before expiry a token counts as expiring.
	refreshMargin = 5 * time.Minute
	// stateTTL bounds how long a generated auth state stays redeemable.
	stateTTL = 10 * time.Minute
	// defaultTokenLifetime applies when the provider omits expires_in and
	// the access token carries no parsable exp claim.
	defaultTokenLifetime = time.Hour
)

// Config holds the provider endpoints and client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	RevokeURL    string // optional; empty skips the upstream revoke call
	ProbeURL     string // endpoint for ValidateToken's authenticated probe
	DefaultScope string
	UserAgent    string
}

// AuthURL is a generated provider authorization URL with its CSRF state.
type AuthURL struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// tokenResponse is the provider's token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// upstreamError carries a non-2xx token endpoint response through the
// circuit breaker so 4xx rejections do not trip it.
type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.body)
}

// Manager implements the OAuth2 token lifecycle over a token store.
// Concurrent GetValidAccessToken calls near expiry are coalesced into a
// single refresh; providers that single-use-rotate refresh tokens break
// under refresh storms otherwise.
type Manager struct {
	cfg        Config
	store      tokenstore.Store
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
	metrics    *metrics.Metrics

	refreshGroup singleflight.Group

	mu     sync.Mutex
	states map[string]time.Time

	nowFn func() time.Time
}

// NewManager validates credentials and builds a Manager. Missing client
// credentials are a configuration error: the process should not start.
func NewManager(cfg Config, store tokenstore.Store, m *metrics.Metrics) (*Manager, error) {
	if cfg.ClientID == "" {
		return nil, apperrors.NewConfigurationError("ClientID", "is required")
	}
	if cfg.ClientSecret == "" {
		return nil, apperrors.NewConfigurationError("ClientSecret", "is required")
	}
	if cfg.RedirectURI == "" {
		return nil, apperrors.NewConfigurationError("RedirectURI", "is required")
	}
	if cfg.AuthURL == "" {
		return nil, apperrors.NewConfigurationError("AuthURL", "is required")
	}
	if cfg.TokenURL == "" {
		return nil, apperrors.NewConfigurationError("TokenURL", "is required")
	}

	logger := logging.GetGlobalLogger().WithFields(logging.String("component", "auth"))

	breakerConfig := circuitbreaker.OAuthConfig
	breakerConfig.IsSuccessful = func(err error) bool {
		// Provider 4xx means our request was wrong, not that the provider
		// is down; only 5xx and transport errors count against the breaker.
		if ue, ok := err.(*upstreamError); ok {
			return ue.status < 500
		}
		return false
	}

	return &Manager{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    circuitbreaker.NewGoBreaker("oauth-token-endpoint", breakerConfig, logger),
		logger:     logger,
		metrics:    m,
		states:     make(map[string]time.Time),
		nowFn:      time.Now,
	}, nil
}

// GenerateAuthURL builds the provider authorization URL with a fresh random
// state. The state is remembered for stateTTL and redeemable once.
func (m *Manager) GenerateAuthURL(scopes ...string) (*AuthURL, error) {
	state, err := utils.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	scope := m.cfg.DefaultScope
	if len(scopes) > 0 {
		scope = strings.Join(scopes, " ")
	}

	m.mu.Lock()
	now := m.nowFn()
	for s, expiry := range m.states {
		if now.After(expiry) {
			delete(m.states, s)
		}
	}
	m.states[state] = now.Add(stateTTL)
	m.mu.Unlock()

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", m.cfg.ClientID)
	params.Set("redirect_uri", m.cfg.RedirectURI)
	params.Set("scope", scope)
	params.Set("state", state)

	return &AuthURL{
		URL:   m.cfg.AuthURL + "?" + params.Encode(),
		State: state,
	}, nil
}

// consumeState redeems a state exactly once, rejecting unknown or expired
// values.
func (m *Manager) consumeState(state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.states[state]
	if !ok {
		return fmt.Errorf("unknown state parameter")
	}
	delete(m.states, state)
	if m.nowFn().After(expiry) {
		return fmt.Errorf("state parameter expired")
	}
	return nil
}

// ExchangeCode redeems an authorization code for a token record and
// atomically replaces the stored record with it.
func (m *Manager) ExchangeCode(ctx context.Context, code, state string) (*tokenstore.TokenRecord, error) {
	if err := m.consumeState(state); err != nil {
		return nil, &apperrors.TokenExchangeError{Cause: err}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.cfg.RedirectURI)
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)

	resp, err := m.requestToken(ctx, form)
	if err != nil {
		if ue, ok := err.(*upstreamError); ok {
			return nil, &apperrors.TokenExchangeError{StatusCode: ue.status, Body: ue.body}
		}
		return nil, &apperrors.TokenExchangeError{Cause: err}
	}

	rec := &tokenstore.TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    m.expiryFrom(resp),
		Scope:        resp.Scope,
	}

	stored, err := m.store.Replace(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	m.logger.Info("Token exchange completed",
		logging.Time("expires_at", stored.ExpiresAt),
		logging.String("scope", stored.Scope),
	)
	return stored, nil
}

// RefreshToken redeems a refresh token and updates the stored record in
// place, preserving the current refresh token when the provider omits a
// new one.
func (m *Manager) RefreshToken(ctx context.Context, refreshToken string) (*tokenstore.TokenRecord, error) {
	if refreshToken == "" {
		return nil, &apperrors.TokenRefreshError{Cause: fmt.Errorf("no refresh token available")}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)

	resp, err := m.requestToken(ctx, form)
	if err != nil {
		if m.metrics != nil {
			m.metrics.IncrementTokenRefresh("failure")
		}
		if ue, ok := err.(*upstreamError); ok {
			return nil, &apperrors.TokenRefreshError{StatusCode: ue.status, Body: ue.body}
		}
		return nil, &apperrors.TokenRefreshError{Cause: err}
	}

	newRefresh := resp.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	current, err := m.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token record: %w", err)
	}

	rec := &tokenstore.TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    m.expiryFrom(resp),
		Scope:        resp.Scope,
	}

	if current == nil {
		stored, err := m.store.Replace(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to store token: %w", err)
		}
		rec = stored
	} else {
		rec.ID = current.ID
		if rec.Scope == "" {
			rec.Scope = current.Scope
		}
		if err := m.store.Update(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to update token record: %w", err)
		}
	}

	if m.metrics != nil {
		m.metrics.IncrementTokenRefresh("success")
	}
	m.logger.Info("Token refreshed", logging.Time("expires_at", rec.ExpiresAt))
	return rec, nil
}

// GetValidAccessToken returns an access token guaranteed to be valid past
// the safety margin, refreshing synchronously when needed. Concurrent
// callers near expiry share a single refresh.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	rec, err := m.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read token record: %w", err)
	}
	if rec == nil {
		return "", &apperrors.NoTokenError{}
	}

	if rec.ExpiresAt.After(m.nowFn().Add(refreshMargin)) {
		return rec.AccessToken, nil
	}

	token, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		// Re-read under the flight: a refresh that completed while we
		// queued already renewed the record.
		current, err := m.store.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read token record: %w", err)
		}
		if current == nil {
			return nil, &apperrors.NoTokenError{}
		}
		if current.ExpiresAt.After(m.nowFn().Add(refreshMargin)) {
			return current.AccessToken, nil
		}

		refreshed, err := m.RefreshToken(ctx, current.RefreshToken)
		if err != nil {
			return nil, err
		}
		return refreshed.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// ValidateToken performs a cheap authenticated probe. It never returns an
// error: any failure, local or upstream, reads as "not valid".
func (m *Manager) ValidateToken(ctx context.Context) bool {
	token, err := m.GetValidAccessToken(ctx)
	if err != nil {
		return false
	}

	probeURL := m.cfg.ProbeURL
	if probeURL == "" {
		// No probe endpoint configured; a refreshable token is the best
		// signal available.
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if m.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", m.cfg.UserAgent)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// TokenInfo returns the stored token record, nil when none exists.
func (m *Manager) TokenInfo(ctx context.Context) (*tokenstore.TokenRecord, error) {
	return m.store.Get(ctx)
}

// IsAuthenticated reports whether a token record exists. It says nothing
// about validity; no network call is made.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	rec, err := m.store.Get(ctx)
	return err == nil && rec != nil
}

// Revoke attempts the provider's revoke endpoint and deletes the local
// record regardless of the upstream outcome. A failed upstream revoke is
// logged, not propagated: local logout always wins. With no stored record
// it is a no-op and makes no network call.
func (m *Manager) Revoke(ctx context.Context) error {
	rec, err := m.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read token record: %w", err)
	}
	if rec == nil {
		return nil
	}

	if m.cfg.RevokeURL != "" {
		form := url.Values{}
		form.Set("token", rec.AccessToken)
		form.Set("client_id", m.cfg.ClientID)
		form.Set("client_secret", m.cfg.ClientSecret)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.RevokeURL,
			strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, doErr := m.httpClient.Do(req)
			if doErr != nil {
				m.logger.Warn("Upstream revoke failed, clearing local state anyway",
					logging.Err(doErr))
			} else {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode >= 300 {
					m.logger.Warn("Upstream revoke rejected, clearing local state anyway",
						logging.Int("status", resp.StatusCode))
				}
			}
		}
	}

	if err := m.store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	m.logger.Info("Token revoked")
	return nil
}

// requestToken POSTs a form to the token endpoint through the circuit
// breaker and decodes the response.
func (m *Manager) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	var result *tokenResponse

	err := m.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		if m.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", m.cfg.UserAgent)
		}

		resp, err := m.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &upstreamError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
		}

		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return fmt.Errorf("failed to decode token response: %w", err)
		}
		if tr.AccessToken == "" {
			return fmt.Errorf("token response missing access_token")
		}
		result = &tr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// expiryFrom derives the token expiry: expires_in when present, the JWT
// exp claim when the access token parses as one, a fixed default
// otherwise.
func (m *Manager) expiryFrom(resp *tokenResponse) time.Time {
	now := m.nowFn()
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(resp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return now.Add(defaultTokenLifetime)
}
