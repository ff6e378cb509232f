package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// Default rate limit for the public compiler endpoint.
	defaultRateLimit  = 30
	defaultRatePeriod = time.Minute

	// Retry configuration
	defaultMaxRetries = 3
	baseRetryDelay    = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryJitterRatio  = 0.3

	// Compilation of a large source can take a while.
	requestTimeout = 2 * time.Minute
)

// HTTPClient wraps http.Client with rate limiting and retry logic.
type HTTPClient struct {
	client     *http.Client
	logger     *slog.Logger
	limiter    *rateLimiter
	maxRetries int
	baseDelay  time.Duration
}

// rateLimiter implements a simple token bucket rate limiter
type rateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

func newRateLimiter(maxTokens int, period time.Duration) *rateLimiter {
	return &rateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: period / time.Duration(maxTokens),
		lastRefill: time.Now(),
	}
}

func (r *rateLimiter) acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Refill tokens based on time elapsed
	now := time.Now()
	tokensToAdd := int(now.Sub(r.lastRefill) / r.refillRate)
	if tokensToAdd > 0 {
		r.tokens = min(r.tokens+tokensToAdd, r.maxTokens)
		r.lastRefill = now
	}

	if r.tokens > 0 {
		r.tokens--
		return nil
	}

	// Wait for the next token
	waitTime := r.refillRate - (now.Sub(r.lastRefill) % r.refillRate)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(waitTime):
		r.tokens = 0
		r.lastRefill = time.Now()
		return nil
	}
}

// NewHTTPClient creates an HTTP client with a global rate limit.
func NewHTTPClient(logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		client:     &http.Client{Timeout: requestTimeout},
		logger:     logger,
		limiter:    newRateLimiter(defaultRateLimit, defaultRatePeriod),
		maxRetries: defaultMaxRetries,
		baseDelay:  baseRetryDelay,
	}
}

// PostJSON sends body as JSON with rate limiting and retries, and returns the
// response body.
func (c *HTTPClient) PostJSON(ctx context.Context, requestURL string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.acquire(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		result, err, shouldRetry := c.doRequest(ctx, requestURL, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !shouldRetry || attempt == c.maxRetries {
			break
		}

		delay := c.calculateBackoff(attempt)
		c.logger.Debug("Retrying request",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (c *HTTPClient) doRequest(ctx context.Context, requestURL string, body []byte) ([]byte, error, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err), false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors are retryable
		return nil, err, true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err, true
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := c.parseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("Rate limited by compiler",
			"retry_after", retryAfter,
			"url", requestURL,
		)
		return nil, fmt.Errorf("rate limited (429): retry after %v", retryAfter), true
	}

	// Server errors are retryable
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)), true
	}

	// Client errors (except 429) are not retryable
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)), false
	}

	return respBody, nil, false
}

func (c *HTTPClient) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: baseDelay * 2^attempt
	delay := c.baseDelay * (1 << attempt)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	// Add jitter (±30%)
	jitter := time.Duration(float64(delay) * retryJitterRatio * (2*rand.Float64() - 1))
	return delay + jitter
}

func (c *HTTPClient) parseRetryAfter(header string) time.Duration {
	if header == "" {
		return c.baseDelay
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}

	return c.baseDelay
}
