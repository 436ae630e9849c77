package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "apibridge/internal/common/errors"
	"apibridge/internal/tokenstore"
)

func testConfig(tokenURL, revokeURL string) Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:8080/auth/callback",
		AuthURL:      "https://provider.example/oauth/authorize",
		TokenURL:     tokenURL,
		RevokeURL:    revokeURL,
		DefaultScope: "read write",
		UserAgent:    "apibridge-test/1.0",
	}
}

func newTestManager(t *testing.T, tokenURL, revokeURL string) (*Manager, tokenstore.Store) {
	t.Helper()
	store := tokenstore.NewMemoryStore()
	m, err := NewManager(testConfig(tokenURL, revokeURL), store, nil)
	require.NoError(t, err)
	return m, store
}

func tokenHandler(t *testing.T, resp map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token endpoint got method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("token endpoint got content type %s", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func storedRecord(expiresIn time.Duration) *tokenstore.TokenRecord {
	return &tokenstore.TokenRecord{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(expiresIn),
		Scope:        "read write",
	}
}

func TestNewManager_MissingCredentials(t *testing.T) {
	cfg := testConfig("https://provider.example/token", "")
	cfg.ClientSecret = ""

	_, err := NewManager(cfg, tokenstore.NewMemoryStore(), nil)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestGenerateAuthURL(t *testing.T) {
	m, _ := newTestManager(t, "https://provider.example/token", "")

	authURL, err := m.GenerateAuthURL()
	require.NoError(t, err)
	assert.Len(t, authURL.State, 64)

	parsed, err := url.Parse(authURL.URL)
	require.NoError(t, err)
	assert.Equal(t, "provider.example", parsed.Host)
	assert.Equal(t, "code", parsed.Query().Get("response_type"))
	assert.Equal(t, "client-id", parsed.Query().Get("client_id"))
	assert.Equal(t, "read write", parsed.Query().Get("scope"))
	assert.Equal(t, authURL.State, parsed.Query().Get("state"))
}

func TestGenerateAuthURL_CustomScopes(t *testing.T) {
	m, _ := newTestManager(t, "https://provider.example/token", "")

	authURL, err := m.GenerateAuthURL("admin", "offline")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL.URL)
	require.NoError(t, err)
	assert.Equal(t, "admin offline", parsed.Query().Get("scope"))
}

func TestExchangeCode(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-123","refresh_token":"refresh-456","expires_in":3600,"scope":"read"}`)
	}))
	defer server.Close()

	m, store := newTestManager(t, server.URL, "")

	authURL, err := m.GenerateAuthURL()
	require.NoError(t, err)

	rec, err := m.ExchangeCode(context.Background(), "the-code", authURL.State)
	require.NoError(t, err)
	assert.Equal(t, "access-123", rec.AccessToken)
	assert.Equal(t, "refresh-456", rec.RefreshToken)
	assert.Equal(t, "read", rec.Scope)
	assert.WithinDuration(t, time.Now().Add(time.Hour), rec.ExpiresAt, 5*time.Second)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "the-code", gotForm.Get("code"))
	assert.Equal(t, "client-id", gotForm.Get("client_id"))
	assert.Equal(t, "client-secret", gotForm.Get("client_secret"))

	stored, err := store.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "access-123", stored.AccessToken)
}

func TestExchangeCode_UnknownState(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	m, _ := newTestManager(t, server.URL, "")

	_, err := m.ExchangeCode(context.Background(), "the-code", "never-issued")
	var exchangeErr *apperrors.TokenExchangeError
	assert.ErrorAs(t, err, &exchangeErr)
	assert.Zero(t, atomic.LoadInt32(&calls), "no token request should be made for a bad state")
}

func TestExchangeCode_StateSingleUse(t *testing.T) {
	server := httptest.NewServer(tokenHandler(t, map[string]interface{}{
		"access_token": "access-123", "refresh_token": "refresh-456", "expires_in": 3600,
	}))
	defer server.Close()

	m, _ := newTestManager(t, server.URL, "")

	authURL, err := m.GenerateAuthURL()
	require.NoError(t, err)

	_, err = m.ExchangeCode(context.Background(), "code", authURL.State)
	require.NoError(t, err)

	_, err = m.ExchangeCode(context.Background(), "code", authURL.State)
	assert.Error(t, err, "state must not be redeemable twice")
}

func TestExchangeCode_ExpiredState(t *testing.T) {
	m, _ := newTestManager(t, "https://provider.example/token", "")

	authURL, err := m.GenerateAuthURL()
	require.NoError(t, err)

	m.nowFn = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }

	_, err = m.ExchangeCode(context.Background(), "code", authURL.State)
	assert.Error(t, err)
}

func TestExchangeCode_ProviderRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	m, _ := newTestManager(t, server.URL, "")

	authURL, err := m.GenerateAuthURL()
	require.NoError(t, err)

	_, err = m.ExchangeCode(context.Background(), "bad-code", authURL.State)
	var exchangeErr *apperrors.TokenExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, http.StatusBadRequest, exchangeErr.StatusCode)
	assert.Contains(t, exchangeErr.Body, "invalid_grant")
}

func TestGetValidAccessToken_NoToken(t *testing.T) {
	m, _ := newTestManager(t, "https://provider.example/token", "")

	_, err := m.GetValidAccessToken(context.Background())
	assert.True(t, apperrors.IsNoToken(err))
}

func TestGetValidAccessToken_FreshTokenSkipsRefresh(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	m, store := newTestManager(t, server.URL, "")
	_, err := store.Replace(context.Background(), storedRecord(time.Hour))
	require.NoError(t, err)

	token, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestGetValidAccessToken_RefreshesNearExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "stored-refresh", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed-access","refresh_token":"rotated-refresh","expires_in":3600}`)
	}))
	defer server.Close()

	m, store := newTestManager(t, server.URL, "")
	_, err := store.Replace(context.Background(), storedRecord(2*time.Minute))
	require.NoError(t, err)

	token, err := m.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", token)

	rec, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", rec.RefreshToken)
	assert.True(t, rec.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestGetValidAccessToken_CoalescesConcurrentRefreshes(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed-access","expires_in":3600}`)
	}))
	defer server.Close()

	m, store := newTestManager(t, server.URL, "")
	_, err := store.Replace(context.Background(), storedRecord(time.Minute))
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-access", tokens[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent callers must share one refresh")
}

func TestRefreshToken_PreservesRefreshTokenWhenOmitted(t *testing.T) {
	server := httptest.NewServer(tokenHandler(t, map[string]interface{}{
		"access_token": "refreshed-access", "expires_in": 3600,
	}))
	defer server.Close()

	m, store := newTestManager(t, server.URL, "")
	_, err := store.Replace(context.Background(), storedRecord(time.Minute))
	require.NoError(t, err)

	rec, err := m.RefreshToken(context.Background(), "stored-refresh")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", rec.AccessToken)
	assert.Equal(t, "stored-refresh", rec.RefreshToken)
}

func TestRefreshToken_ProviderRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	m, store := newTestManager(t, server.URL, "")
	_, err := store.Replace(context.Background(), storedRecord(time.Minute))
	require.NoError(t, err)

	_, err = m.RefreshToken(context.Background(), "stored-refresh")
	var refreshErr *apperrors.TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, http.StatusUnauthorized, refreshErr.StatusCode)
	assert.Contains(t, refreshErr.Body, "invalid_grant")
}

func TestRevoke_NoToken(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	m, _ := newTestManager(t, "https://provider.example/token", server.URL)

	require.NoError(t, m.Revoke(context.Background()))
	assert.Zero(t, atomic.LoadInt32(&calls), "revoke without a token must not call the provider")
}

func TestRevoke_ClearsLocalStateOnProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	m, store := newTestManager(t, "https://provider.example/token", server.URL)
	_, err := store.Replace(context.Background(), storedRecord(time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background()))

	rec, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, m.IsAuthenticated(context.Background()))
}

func TestRevoke_SendsTokenToProvider(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
	}))
	defer server.Close()

	m, store := newTestManager(t, "https://provider.example/token", server.URL)
	_, err := store.Replace(context.Background(), storedRecord(time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background()))
	assert.Equal(t, "stored-access", gotForm.Get("token"))
}

func TestIsAuthenticated(t *testing.T) {
	m, store := newTestManager(t, "https://provider.example/token", "")
	ctx := context.Background()

	assert.False(t, m.IsAuthenticated(ctx))

	_, err := store.Replace(ctx, storedRecord(time.Hour))
	require.NoError(t, err)
	assert.True(t, m.IsAuthenticated(ctx))
}

func TestValidateToken(t *testing.T) {
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer probe.Close()

	cfg := testConfig("https://provider.example/token", "")
	cfg.ProbeURL = probe.URL
	store := tokenstore.NewMemoryStore()
	m, err := NewManager(cfg, store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, m.ValidateToken(ctx), "no token means not valid")

	_, err = store.Replace(ctx, storedRecord(time.Hour))
	require.NoError(t, err)
	assert.True(t, m.ValidateToken(ctx))
}

func TestExpiryFrom(t *testing.T) {
	m, _ := newTestManager(t, "https://provider.example/token", "")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return base }

	t.Run("expires_in wins", func(t *testing.T) {
		got := m.expiryFrom(&tokenResponse{AccessToken: "opaque", ExpiresIn: 900})
		assert.Equal(t, base.Add(15*time.Minute), got)
	})

	t.Run("jwt exp claim fallback", func(t *testing.T) {
		exp := base.Add(45 * time.Minute)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": exp.Unix(),
			"sub": "svc",
		})
		signed, err := token.SignedString([]byte("test-key"))
		require.NoError(t, err)

		got := m.expiryFrom(&tokenResponse{AccessToken: signed})
		assert.Equal(t, exp.Unix(), got.Unix())
	})

	t.Run("default lifetime", func(t *testing.T) {
		got := m.expiryFrom(&tokenResponse{AccessToken: "opaque-token"})
		assert.Equal(t, base.Add(time.Hour), got)
	})
}
