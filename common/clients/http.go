package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ValidateURL rejects request targets before a connection is opened. A nil
// func disables validation.
type ValidateURL func(rawURL string) error

// HTTPClient wraps http.Client with target validation and bounded retries
// on transient failures. Workflow nodes issue user-authored requests through
// it, so redirect hops are re-validated too.
type HTTPClient struct {
	client   *http.Client
	validate ValidateURL
	retries  int
	backoff  time.Duration
	logger   Logger
}

// HTTPClientOpts configures an HTTPClient. Zero values get sane defaults.
type HTTPClientOpts struct {
	Timeout  time.Duration // per-request wall clock, default 30s
	Retries  int           // extra attempts after a transient failure, default 2
	Backoff  time.Duration // sleep between attempts, default 250ms
	Validate ValidateURL
	Logger   Logger
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(opts HTTPClientOpts) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = nopClientLogger{}
	}

	c := &HTTPClient{
		validate: opts.Validate,
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		logger:   opts.Logger,
	}
	c.client = &http.Client{
		Timeout: opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			if c.validate != nil {
				if err := c.validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect target rejected: %w", err)
				}
			}
			return nil
		},
	}
	return c
}

// DoRequest validates the target, then executes the request, retrying
// transport errors and gateway-class responses (502/503/504). The caller
// owns the response body.
func (c *HTTPClient) DoRequest(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*http.Response, error) {
	if c.validate != nil {
		if err := c.validate(rawURL); err != nil {
			return nil, fmt.Errorf("request target rejected: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying request",
				"url", rawURL, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff):
			}
		}

		req, err := c.newRequest(ctx, method, rawURL, headers, body)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if retryableStatus(resp.StatusCode) && attempt < c.retries {
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream returned %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retries+1, lastErr)
}

// newRequest builds a fresh request per attempt; bodies are byte slices so
// retries never re-read a spent reader.
func (c *HTTPClient) newRequest(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "weftd/1.0")
	}

	// Caller identity rides the context; the header is reserved for it.
	if userID, ok := GetUserID(ctx); ok {
		req.Header.Set("X-User-ID", userID)
	}
	return req, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

type nopClientLogger struct{}

func (nopClientLogger) Info(string, ...interface{})  {}
func (nopClientLogger) Error(string, ...interface{}) {}
func (nopClientLogger) Warn(string, ...interface{})  {}
func (nopClientLogger) Debug(string, ...interface{}) {}
