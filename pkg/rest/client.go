// Package rest executes authenticated JSON requests against a REST API and
// classifies non-success responses.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

// Error is returned for a non-success response that was not allowed by the
// caller.
type Error struct {
	StatusCode int
	Body       string
	Method     string
	URL        string
}

func (e *Error) Error() string {
	body := e.Body
	if body == "" {
		body = "Unknown error"
	}
	return fmt.Sprintf("%d: %s when running %s %s", e.StatusCode, body, e.Method, e.URL)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var restErr *Error
	return errors.As(err, &restErr) && restErr.StatusCode == http.StatusNotFound
}

// Option customizes a single request.
type Option func(*request)

type request struct {
	query       url.Values
	allowed     []int
	body        io.Reader
	contentType string
}

// Query sets the query string of the request.
func Query(v url.Values) Option {
	return func(r *request) {
		r.query = v
	}
}

// Allow lists status codes that are logged as a warning and otherwise
// treated as success with no payload.
func Allow(codes ...int) Option {
	return func(r *request) {
		r.allowed = append(r.allowed, codes...)
	}
}

// Body sends a raw request body instead of a JSON-encoded one.
func Body(contentType string, body io.Reader) Option {
	return func(r *request) {
		r.contentType = contentType
		r.body = body
	}
}

// Client is an authenticated REST client.
type Client struct {
	config *Config
	client *http.Client
	logger hclog.Logger
}

// New creates a REST client.
func New(cfg *Config) (*Client, error) {
	defaults := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rest config: %w", err)
	}

	return &Client{
		config: cfg,
		client: cfg.newHTTPClient(),
		logger: cfg.Logger.Named("rest"),
	}, nil
}

// BaseURL returns the URL that request paths are relative to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Do executes a request. A non-nil body is JSON-encoded unless the Body
// option is given. A non-empty success response is decoded into result when
// result is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, result interface{}, opts ...Option) error {
	respBody, err := c.send(ctx, method, path, body, opts)
	if err != nil {
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
		}
	}

	return nil
}

// Download executes a GET request and returns the raw response body.
func (c *Client) Download(ctx context.Context, path string, opts ...Option) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil, opts)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, opts []Option) ([]byte, error) {
	req := &request{}
	for _, opt := range opts {
		opt(req)
	}

	endpoint := c.config.BaseURL + path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var payload []byte
	if body != nil && req.body == nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var respBody []byte
	operation := func() error {
		var bodyReader io.Reader
		contentType := req.contentType
		switch {
		case req.body != nil:
			bodyReader = req.body
		case payload != nil:
			bodyReader = bytes.NewReader(payload)
			contentType = "application/json"
		}

		token, err := c.config.Token.AccessToken(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to get access token: %w", err))
		}

		status, data, err := c.roundTrip(ctx, method, endpoint, token, contentType, bodyReader)
		if err != nil {
			if !retryable(method, 0) {
				return backoff.Permanent(err)
			}
			return err
		}

		if status < 200 || status >= 300 {
			restErr := &Error{
				StatusCode: status,
				Body:       string(data),
				Method:     method,
				URL:        endpoint,
			}

			for _, code := range req.allowed {
				if status == code {
					c.logger.Warn("tolerated error response", "error", restErr.Error())
					respBody = nil
					return nil
				}
			}

			if retryable(method, status) {
				return restErr
			}
			return backoff.Permanent(restErr)
		}

		respBody = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.config.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying request", "method", method, "url", endpoint, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	return respBody, nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint, token, contentType string, body io.Reader) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	c.logger.Trace("sending request", "method", method, "url", endpoint)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s %s failed: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response of %s %s: %w", method, endpoint, err)
	}

	return resp.StatusCode, data, nil
}

// retryable reports whether a failed request may be sent again. Only GET is
// retried; status 0 means the request never produced a response.
func retryable(method string, status int) bool {
	if method != http.MethodGet {
		return false
	}
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}
