// Package apiclient issues authenticated, rate-limited requests against
// the upstream API. Every attempt pays the rate limiter first, carries a
// fresh access token, and feeds response headers back into the limiter.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"apibridge/internal/circuitbreaker"
	apperrors "apibridge/internal/common/errors"
	"apibridge/internal/common/logging"
	"apibridge/internal/common/utils"
	"apibridge/internal/metrics"
	"apibridge/internal/ratelimit"
)

const (
	// defaultRetryAfter applies when a 429 arrives without a Retry-After
	// header.
	defaultRetryAfter = 60 * time.Second
	// maxRetryAfter caps how long a single Retry-After header can stall
	// a request.
	maxRetryAfter = 300 * time.Second
	// maxErrorBodyBytes bounds how much of an error response is kept.
	maxErrorBodyBytes = 4096
)

// TokenSource supplies a valid access token for outgoing requests.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// Config holds upstream API settings.
type Config struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client is the authenticated upstream API client. Requests go through
// the rate limiter, the token source and a circuit breaker, with
// bounded retries on transient failures.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	tokens     TokenSource
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
	metrics    *metrics.Metrics

	sleepFn func(ctx context.Context, d time.Duration) error
}

// New builds a Client. MaxRetries counts retries after the first
// attempt; zero disables retrying.
func New(cfg Config, limiter *ratelimit.Limiter, tokens TokenSource, m *metrics.Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.NewConfigurationError("BaseURL", "is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	logger := logging.GetGlobalLogger().WithFields(logging.String("component", "apiclient"))

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		tokens:     tokens,
		breaker:    circuitbreaker.NewGoBreaker("upstream-api", circuitbreaker.HTTPConfig, logger),
		logger:     logger,
		metrics:    m,
		sleepFn:    utils.SleepContext,
	}, nil
}

// Request performs an authenticated request at normal priority and
// decodes a JSON response into out when out is non-nil.
func (c *Client) Request(ctx context.Context, method, endpoint string, body, out interface{}) error {
	return c.RequestWithPriority(ctx, method, endpoint, body, out, ratelimit.PriorityNormal)
}

// RequestWithPriority is Request with an explicit rate limiter priority.
func (c *Client) RequestWithPriority(ctx context.Context, method, endpoint string, body, out interface{}, priority int) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	requestID := uuid.NewString()
	start := time.Now()

	err := c.doWithRetries(ctx, method, endpoint, payload, out, priority, requestID)

	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			if apperrors.IsAuthFailure(err) || apperrors.IsNoToken(err) {
				outcome = "auth_failure"
			} else {
				outcome = "failure"
			}
		}
		c.metrics.ObserveRequest(outcome, time.Since(start).Seconds())
	}
	return err
}

// Get requests endpoint and decodes the JSON response into T.
func Get[T any](ctx context.Context, c *Client, endpoint string) (*T, error) {
	var out T
	if err := c.Request(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Post sends body to endpoint and decodes the JSON response into T.
func Post[T any](ctx context.Context, c *Client, endpoint string, body interface{}) (*T, error) {
	var out T
	if err := c.Request(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doWithRetries(ctx context.Context, method, endpoint string, payload []byte, out interface{}, priority int, requestID string) error {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.IncrementRetries()
			}
		}

		// Every attempt pays the limiter; a retry is a new request as
		// far as the upstream quota is concerned.
		if err := c.limiter.Acquire(ctx, 1, priority); err != nil {
			return err
		}

		token, err := c.tokens.GetValidAccessToken(ctx)
		if err != nil {
			return err
		}

		resp, err := c.doOnce(ctx, method, endpoint, payload, token, requestID)
		if err != nil {
			lastErr = &apperrors.RequestError{
				Endpoint: endpoint,
				Attempts: attempt + 1,
				Cause:    err,
			}
			if ctx.Err() != nil {
				return lastErr
			}
			c.logger.Warn("Request attempt failed",
				logging.String("request_id", requestID),
				logging.String("endpoint", endpoint),
				logging.Int("attempt", attempt+1),
				logging.Err(err),
			)
			if err := c.backoff(ctx, attempt); err != nil {
				return lastErr
			}
			continue
		}

		status, body, err := c.consume(resp)
		if err != nil {
			lastErr = &apperrors.RequestError{
				StatusCode: status,
				Endpoint:   endpoint,
				Attempts:   attempt + 1,
				Cause:      err,
			}
			if backoffErr := c.backoff(ctx, attempt); backoffErr != nil {
				return lastErr
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
				}
			}
			return nil

		case status == http.StatusTooManyRequests:
			wait := retryAfterDelay(resp.Header)
			if c.metrics != nil {
				c.metrics.IncrementThrottled()
			}
			c.logger.Warn("Upstream returned 429, honoring Retry-After",
				logging.String("request_id", requestID),
				logging.String("endpoint", endpoint),
				logging.Duration("retry_after", wait),
				logging.Int("attempt", attempt+1),
			)
			lastErr = &apperrors.RequestError{
				StatusCode: status,
				Body:       errorBodySummary(body),
				Endpoint:   endpoint,
				Attempts:   attempt + 1,
			}
			if attempt >= c.cfg.MaxRetries {
				return lastErr
			}
			if err := c.sleepFn(ctx, wait); err != nil {
				return lastErr
			}
			continue

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			// Retrying with the same credentials cannot succeed.
			return &apperrors.RequestError{
				StatusCode: status,
				Body:       errorBodySummary(body),
				Endpoint:   endpoint,
				Attempts:   attempt + 1,
				Auth:       true,
			}

		case status >= 500:
			lastErr = &apperrors.RequestError{
				StatusCode: status,
				Body:       errorBodySummary(body),
				Endpoint:   endpoint,
				Attempts:   attempt + 1,
			}
			c.logger.Warn("Upstream server error",
				logging.String("request_id", requestID),
				logging.String("endpoint", endpoint),
				logging.Int("status", status),
				logging.Int("attempt", attempt+1),
			)
			if err := c.backoff(ctx, attempt); err != nil {
				return lastErr
			}
			continue

		default:
			return &apperrors.RequestError{
				StatusCode: status,
				Body:       errorBodySummary(body),
				Endpoint:   endpoint,
				Attempts:   attempt + 1,
			}
		}
	}

	return lastErr
}

// doOnce performs a single HTTP exchange through the circuit breaker.
func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload []byte, token, requestID string) (*http.Response, error) {
	var resp *http.Response

	err := c.breaker.Execute(ctx, func() error {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err = c.httpClient.Do(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// consume reads the response body and feeds rate limit headers back into
// the limiter.
func (c *Client) consume(resp *http.Response) (int, []byte, error) {
	defer resp.Body.Close()

	c.limiter.UpdateFromHeaders(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	if attempt >= c.cfg.MaxRetries {
		return nil
	}
	return c.sleepFn(ctx, utils.BackoffDelay(c.cfg.RetryBaseDelay, attempt, maxRetryAfter))
}

// retryAfterDelay reads Retry-After in seconds, clamped to a sane range.
func retryAfterDelay(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	wait := time.Duration(seconds) * time.Second
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}

// errorBodySummary keeps a bounded, single-line slice of an error body
// for diagnostics.
func errorBodySummary(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return strings.TrimSpace(string(body))
}

// BreakerStats exposes the upstream circuit breaker state for status
// reporting.
func (c *Client) BreakerStats() circuitbreaker.Stats {
	return c.breaker.Stats()
}

// RateLimitStats exposes the rate limiter state for status reporting.
func (c *Client) RateLimitStats() ratelimit.Stats {
	return c.limiter.Stats()
}
