package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/erauner12/productsync/internal/auth"
	"github.com/erauner12/productsync/internal/catalog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxRetries is the maximum number of retry attempts for rate limited requests
	MaxRetries = 3

	// DefaultBackoff is the initial backoff duration for exponential backoff
	DefaultBackoff = 1 * time.Second

	// LiveClientHeader carries the id the live feed assigned to this client
	LiveClientHeader = "X-Live-Client"
)

// Credentials identify the caller to the API.
// Token wins; DevSub is only honoured by servers running in dev mode.
type Credentials struct {
	Token  string
	DevSub string
}

func (c Credentials) apply(h http.Header) {
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
		return
	}
	if c.DevSub != "" {
		h.Set("X-Debug-Sub", c.DevSub)
	}
}

// CredentialsFromToken is the inverse of LiveToken: a dev token carries a
// raw subject and becomes DevSub, anything else is a bearer token
func CredentialsFromToken(token string) Credentials {
	if sub, ok := strings.CutPrefix(token, auth.DevTokenPrefix); ok {
		return Credentials{DevSub: sub}
	}
	return Credentials{Token: token}
}

// LiveToken is the token sent in the live feed authorization frame
func (c Credentials) LiveToken() string {
	if c.Token != "" {
		return c.Token
	}
	return auth.DevTokenPrefix + c.DevSub
}

// HTTPClient wraps http.Client with authentication and retry logic
// Automatically injects:
// - Authorization: Bearer <token> (production) OR X-Debug-Sub (dev mode)
// - X-Correlation-ID: <uuid>
// - X-Live-Client: <id> once the live feed has welcomed this client
//
// 429 Too Many Requests is retried with Retry-After or exponential backoff.
// Transport failures are returned as catalog NetworkError.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	backoff    time.Duration

	mu         sync.RWMutex
	creds      Credentials
	liveClient string
}

// NewHTTPClient creates a new authenticated HTTP client
func NewHTTPClient(baseURL string, creds Credentials, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		creds:      creds,
		logger:     logger.With().Str("component", "http").Logger(),
		backoff:    DefaultBackoff,
	}
}

// SetLiveClient records the live feed client id so the server can skip
// echoing this client's own writes back to it
func (c *HTTPClient) SetLiveClient(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveClient = id
}

// SetCredentials replaces the credentials sent with subsequent requests
func (c *HTTPClient) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Credentials returns the credentials currently sent with requests
func (c *HTTPClient) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *HTTPClient) currentLiveClient() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveClient
}

// Do executes an HTTP request with auto-injection of auth headers and retry logic
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	correlationID := uuid.New().String()

	logger := c.logger.With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("correlationId", correlationID).
		Logger()

	return c.doWithRetry(ctx, req, &logger, correlationID, 0)
}

func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	reqClone, err := cloneRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to clone request: %w", err)
	}

	reqClone.Header.Set("X-Correlation-ID", correlationID)
	c.Credentials().apply(reqClone.Header)
	if live := c.currentLiveClient(); live != "" {
		reqClone.Header.Set(LiveClientHeader, live)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(reqClone)
	duration := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn().Err(err).Dur("duration", duration).Msg("HTTP request failed")
		return nil, catalog.Wrap(catalog.KindNetwork, err, "request failed")
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Int("retryCount", retryCount).
		Msg("HTTP request completed")

	if resp.StatusCode == http.StatusTooManyRequests {
		return c.handleRateLimit(ctx, req, resp, logger, correlationID, retryCount)
	}
	return resp, nil
}

// handleRateLimit handles 429 Too Many Requests with exponential backoff
func (c *HTTPClient) handleRateLimit(ctx context.Context, req *http.Request, resp *http.Response, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	resp.Body.Close()

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if retryCount >= MaxRetries {
		logger.Warn().Msg("Rate limited - max retries exceeded")
		return nil, catalog.Wrap(catalog.KindNetwork, ErrRateLimited{RetryAfter: int(retryAfter.Seconds())}, "rate limited")
	}

	if retryAfter == 0 {
		retryAfter = c.backoff * time.Duration(1<<retryCount)
	}

	logger.Warn().
		Dur("retryAfter", retryAfter).
		Int("retryCount", retryCount).
		Str("rateLimitRemaining", resp.Header.Get("X-RateLimit-Remaining")).
		Msg("Rate limited - backing off")

	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return c.doWithRetry(ctx, req, logger, correlationID, retryCount+1)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrRateLimited is returned when the server keeps answering 429
type ErrRateLimited struct {
	RetryAfter int
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}

// IsRateLimited reports whether err came from exhausted 429 retries
func IsRateLimited(err error) bool {
	var rl ErrRateLimited
	return errors.As(err, &rl)
}

// cloneRequest creates a copy of an HTTP request for retry
// Preserves the request body by reading and restoring it
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	reqClone, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	// Copy headers (skip auth headers as they will be re-injected)
	for k, v := range req.Header {
		if k == "Authorization" || k == "X-Debug-Sub" {
			continue
		}
		reqClone.Header[k] = v
	}

	return reqClone, nil
}

// parseRetryAfter parses the Retry-After header
// Supports both integer seconds and HTTP-date format
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if duration := time.Until(t); duration > 0 {
			return duration
		}
	}

	return 0
}
