// Package transport issues authenticated JSON requests against the
// age-assurance service. It owns the rate-limit recovery policy: 429
// responses are retried with the server-directed delay, everything else is
// surfaced to the caller exactly once.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	pkgerrors "playgate/pkg/domain-errors"
)

const (
	maxRetries        = 3
	defaultRetryDelay = 5 * time.Second
)

// Response is the subset of an HTTP response callers are allowed to see.
// Body is fully read and the connection released before it is returned.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NotModified reports a 304 answer to a conditional fetch.
func (r *Response) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}

// StatusError marks a logical failure: the call completed but the status was
// neither 200 nor 304. The raw response is attached so callers can inspect
// status-specific fields.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Response.StatusCode)
}

// Client is a thin wrapper over net/http bound to one service base URL.
// It is safe for sequential reuse; the workflow never issues concurrent
// calls through it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithRetryDelay overrides the fallback delay used when a 429 carries no
// usable Retry-After header.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New builds a Client for the given base URL (including the API prefix).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		retryDelay: defaultRetryDelay,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues an authenticated GET against path (relative to the base URL,
// query string included).
func (c *Client) Get(ctx context.Context, path, token string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, token, nil)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path, token string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, token, payload)
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (*Response, error) {
	if token == "" {
		// Precondition, not a retryable failure: nothing goes on the wire.
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "bearer token is empty")
	}

	url := c.baseURL + path
	c.logger.Debug("service call", "method", method, "url", url)

	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, method, url, token, body)
		if err != nil {
			requestsTotal.WithLabelValues(method, "error").Inc()
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotModified:
			requestsTotal.WithLabelValues(method, "ok").Inc()
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= maxRetries {
				requestsTotal.WithLabelValues(method, "rate_limited").Inc()
				return nil, pkgerrors.Newf(pkgerrors.CodeUnavailable, "%s %s: rate limited after %d retries", method, path, maxRetries)
			}
			delay := c.retryAfter(resp)
			c.logger.Warn("rate limited, retrying", "url", url, "delay", delay)
			rateLimitRetries.Inc()
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		default:
			requestsTotal.WithLabelValues(method, "failed").Inc()
			c.logger.Error("service call failed", "method", method, "url", url, "status", resp.StatusCode)
			return resp, &StatusError{Response: resp}
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, url, token string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// retryAfter reads the Retry-After header in seconds; non-positive or
// missing values fall back to the default delay.
func (c *Client) retryAfter(resp *Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return c.retryDelay
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds <= 0 {
		return c.retryDelay
	}
	return time.Duration(seconds * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
