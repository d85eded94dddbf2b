// Package token issues and caches OAuth2 bearer tokens for a service
// principal using the client-credentials grant.
package token

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// Validity is how long an issued token is reused before a new one is
	// requested. The service's own expiry is not consulted.
	Validity = 30 * time.Minute

	// PowerBIScope is the scope for the Power BI REST API.
	PowerBIScope = "https://analysis.windows.net/powerbi/api/.default"

	// ManagementScope is the scope for the Azure Resource Manager API.
	ManagementScope = "https://management.azure.com/.default"

	// DefaultLoginURL is the Azure AD authority host.
	DefaultLoginURL = "https://login.microsoftonline.com"
)

// AzureADTokenURL returns the v2.0 token endpoint of a tenant.
func AzureADTokenURL(loginURL, tenantID string) string {
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(loginURL, "/"), tenantID)
}

// Config holds the service principal used to request tokens.
type Config struct {
	TokenURL     string
	Scope        string
	ClientID     string
	ClientSecret string

	// HTTPClient is used for the token exchange (optional).
	HTTPClient *http.Client

	// Logger (optional).
	Logger hclog.Logger

	// Now overrides the clock (optional, used in tests).
	Now func() time.Time
}

// Validate checks that all credentials are present.
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("token url is required")
	}
	if c.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	return nil
}

// Source caches a bearer token and renews it once Validity has passed since
// it was issued. It is safe for concurrent use.
type Source struct {
	oauth      clientcredentials.Config
	httpClient *http.Client
	logger     hclog.Logger
	now        func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// New creates a token source. No request is made until the first call to
// AccessToken or Refresh.
func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token config: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Source{
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{cfg.Scope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger.Named("token"),
		now:        cfg.Now,
	}, nil
}

// AccessToken returns the cached token, requesting a new one if none has
// been issued yet or the cached one is older than Validity.
func (s *Source) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" || s.now().After(s.issuedAt.Add(Validity)) {
		if err := s.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return s.token, nil
}

// Refresh unconditionally requests a new token with the same credentials.
func (s *Source) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Source) refreshLocked(ctx context.Context) error {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	tok, err := s.oauth.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain token from %s: %w", s.oauth.TokenURL, err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token response from %s has no access_token", s.oauth.TokenURL)
	}

	s.token = tok.AccessToken
	s.issuedAt = s.now()
	s.logger.Debug("issued token", "client_id", s.oauth.ClientID, "scope", strings.Join(s.oauth.Scopes, " "))

	return nil
}
