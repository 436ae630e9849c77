package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "apibridge/internal/common/errors"
	"apibridge/internal/ratelimit"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetValidAccessToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

// newTestClient builds a client with a generous limiter and a recording
// sleep function so retry tests run instantly.
func newTestClient(t *testing.T, baseURL string, maxRetries int) (*Client, *[]time.Duration) {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{
		Capacity:       1000,
		RefillAmount:   1000,
		RefillInterval: time.Second,
	}, nil)
	require.NoError(t, err)

	c, err := New(Config{
		BaseURL:        baseURL,
		UserAgent:      "apibridge-test/1.0",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     maxRetries,
		RetryBaseDelay: time.Second,
	}, limiter, staticTokens{token: "test-token"}, nil)
	require.NoError(t, err)

	sleeps := &[]time.Duration{}
	c.sleepFn = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return c, sleeps
}

func TestRequest_Success(t *testing.T) {
	var gotAuth, gotUA, gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"widget","count":3}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 3)

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/widgets/1", nil, &out))

	assert.Equal(t, "widget", out.Name)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "apibridge-test/1.0", gotUA)
	assert.NotEmpty(t, gotRequestID)
}

func TestRequest_PostSendsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":7}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 0)

	out, err := Post[struct {
		ID int `json:"id"`
	}](context.Background(), c, "/widgets", map[string]string{"name": "widget"})
	require.NoError(t, err)
	assert.Equal(t, 7, out.ID)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"name":"widget"}`, string(gotBody))
}

func TestRequest_AuthFailureFailsFast(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"token revoked"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	c, sleeps := newTestClient(t, server.URL, 3)

	err := c.Request(context.Background(), http.MethodGet, "/widgets", nil, nil)
	var reqErr *apperrors.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.True(t, reqErr.Auth)
	assert.Equal(t, 1, reqErr.Attempts)
	assert.True(t, apperrors.IsAuthFailure(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "401 must not be retried")
	assert.Empty(t, *sleeps)
}

func TestRequest_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"no such widget"}`, http.StatusNotFound)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 3)

	err := c.Request(context.Background(), http.MethodGet, "/widgets/404", nil, nil)
	var reqErr *apperrors.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.Contains(t, reqErr.Body, "no such widget")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRequest_RetriesServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	c, sleeps := newTestClient(t, server.URL, 3)

	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/widgets", nil, nil))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, *sleeps, 1)
	assert.Equal(t, time.Second, (*sleeps)[0], "first backoff is the base delay")
}

func TestRequest_BackoffDoubles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, sleeps := newTestClient(t, server.URL, 3)

	err := c.Request(context.Background(), http.MethodGet, "/widgets", nil, nil)
	var reqErr *apperrors.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.StatusCode)
	assert.Equal(t, 4, reqErr.Attempts)

	require.Len(t, *sleeps, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestRequest_HonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	c, sleeps := newTestClient(t, server.URL, 3)

	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/widgets", nil, nil))
	require.Len(t, *sleeps, 1)
	assert.Equal(t, 2*time.Second, (*sleeps)[0])
}

func TestRequest_TooManyRequestsExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 2)

	err := c.Request(context.Background(), http.MethodGet, "/widgets", nil, nil)
	var reqErr *apperrors.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusTooManyRequests, reqErr.StatusCode)
	assert.Equal(t, 3, reqErr.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRequest_FeedsRateLimitHeadersBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ratelimit.RemainingHeader, "5")
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 0)

	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/widgets", nil, nil))
	assert.Equal(t, float64(5), c.limiter.Stats().TokensRemaining)
}

func TestRequest_NoTokenFailsBeforeNetwork(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 3)
	c.tokens = staticTokens{err: &apperrors.NoTokenError{}}

	err := c.Request(context.Background(), http.MethodGet, "/widgets", nil, nil)
	assert.True(t, apperrors.IsNoToken(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestGet_DecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"gadget"}`)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 0)

	out, err := Get[struct {
		Name string `json:"name"`
	}](context.Background(), c, "/gadgets/1")
	require.NoError(t, err)
	assert.Equal(t, "gadget", out.Name)
}

func TestRetryAfterDelay(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"missing header", "", defaultRetryAfter},
		{"valid seconds", "30", 30 * time.Second},
		{"zero", "0", 0},
		{"malformed", "soon", defaultRetryAfter},
		{"negative", "-5", defaultRetryAfter},
		{"clamped", "9000", maxRetryAfter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, retryAfterDelay(h))
		})
	}
}
