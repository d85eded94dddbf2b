package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
)

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config contains configuration for a REST client.
type Config struct {
	// BaseURL is prefixed to every request path.
	// Example: "https://api.powerbi.com/v1.0/myorg"
	BaseURL string

	// Token provides the bearer token. Required.
	Token TokenSource

	// Timeout for a single HTTP round trip.
	// Default: 60 seconds
	Timeout time.Duration

	// MaxRetries for idempotent requests that fail with a network error or
	// a retryable status.
	// Default: 3
	MaxRetries int

	// RetryDelay is the initial backoff between retries.
	// Default: 1 second
	RetryDelay time.Duration

	// HTTPClient overrides the client built from Timeout (optional).
	HTTPClient *http.Client

	// Logger (optional).
	Logger hclog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("base url must use http or https scheme, got: %s", parsedURL.Scheme)
	}

	if c.Token == nil {
		return fmt.Errorf("token source is required")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %v", c.Timeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be non-negative, got: %v", c.RetryDelay)
	}

	return nil
}

func (c *Config) newHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	return &http.Client{
		Timeout: c.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
