// Package httputil provides shared HTTP client utilities for upstream APIs.
package httputil

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// =============================================================================
// Client Pool
// =============================================================================

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration

	DisableKeepAlives bool
	KeepAliveInterval time.Duration
}

// DefaultClientConfig returns optimized default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// GoogleClientConfig returns configuration tuned for Google APIs.
// Gmail and Calendar allow high concurrency but batch calls run long.
func GoogleClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     120 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     60 * time.Second,
		DisableKeepAlives:   false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// TaskAPIClientConfig returns configuration for the task workspace API.
// The workspace API rate-limits aggressively, so connections stay modest.
func TaskAPIClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewOptimizedClient creates an HTTP client with connection pooling.
func NewOptimizedClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     true,
		DisableCompression:    false,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

var (
	defaultClient *http.Client
	googleClient  *http.Client
	taskAPIClient *http.Client
)

func init() {
	defaultClient = NewOptimizedClient(DefaultClientConfig())
	googleClient = NewOptimizedClient(GoogleClientConfig())
	taskAPIClient = NewOptimizedClient(TaskAPIClientConfig())
}

// DefaultClient returns the shared default HTTP client.
func DefaultClient() *http.Client {
	return defaultClient
}

// GoogleClient returns the shared HTTP client for Google APIs.
func GoogleClient() *http.Client {
	return googleClient
}

// TaskAPIClient returns the shared HTTP client for the task workspace API.
func TaskAPIClient() *http.Client {
	return taskAPIClient
}

// =============================================================================
// Retry with Backoff
// =============================================================================

// RetryConfig controls DoWithRetry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	JitterMin     time.Duration
	JitterMax     time.Duration
	MaxConcurrent int
}

// DefaultRetryConfig matches the upstream rate discipline: exponential backoff
// starting at 1s capped at 30s, jitter in [250ms, 750ms], at most 4 in flight.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		JitterMin:     250 * time.Millisecond,
		JitterMax:     750 * time.Millisecond,
		MaxConcurrent: 4,
	}
}

// RetryingClient wraps an http.Client with bounded concurrency and
// Retry-After-aware retries for 429 and 5xx responses.
type RetryingClient struct {
	client *http.Client
	cfg    *RetryConfig
	sem    chan struct{}
}

// NewRetryingClient creates a retrying client around base.
func NewRetryingClient(base *http.Client, cfg *RetryConfig) *RetryingClient {
	if base == nil {
		base = defaultClient
	}
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &RetryingClient{
		client: base,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Do executes the request, retrying retriable responses. The request must have
// a rewindable body (GetBody set) or no body at all.
func (c *RetryingClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	delay := c.cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = body
			}
			sleep := delay + c.jitter()
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > c.cfg.MaxDelay {
				delay = c.cfg.MaxDelay
			}
		}

		resp, err := c.client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// Sleep at least the advertised Retry-After before the next attempt.
			if ra := retryAfter(resp); ra > delay {
				delay = ra
			}
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode}
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode}
		default:
			return resp, nil
		}
	}

	return nil, lastErr
}

func (c *RetryingClient) jitter() time.Duration {
	span := c.cfg.JitterMax - c.cfg.JitterMin
	if span <= 0 {
		return c.cfg.JitterMin
	}
	return c.cfg.JitterMin + time.Duration(rand.Int63n(int64(span)))
}

// StatusError reports a non-success HTTP status after retries are exhausted.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "http status " + strconv.Itoa(e.Code)
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// DoWithContext executes an HTTP request with context using the shared pool.
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = defaultClient
	}
	return client.Do(req.WithContext(ctx))
}
