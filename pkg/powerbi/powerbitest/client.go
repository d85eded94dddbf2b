package powerbitest

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
	"github.com/hashicorp-forge/pbi/pkg/rest"
	"github.com/hashicorp-forge/pbi/pkg/token"
)

// TenantID is the tenant the fake token endpoint is addressed with.
const TenantID = "00000000-0000-0000-0000-00000000feed"

// TokenSource returns a token source issuing tokens from the fake server.
func (s *Server) TokenSource(t testing.TB) *token.Source {
	t.Helper()

	src, err := token.New(token.Config{
		TokenURL:     token.AzureADTokenURL(s.LoginURL(), TenantID),
		Scope:        token.PowerBIScope,
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient:   s.Client(),
		Logger:       hclog.NewNullLogger(),
	})
	if err != nil {
		t.Fatalf("powerbitest: token source: %v", err)
	}
	return src
}

// REST returns a transport rooted at the fake API with fast retries.
func (s *Server) REST(t testing.TB) *rest.Client {
	t.Helper()

	c, err := rest.New(&rest.Config{
		BaseURL:    s.APIURL(),
		Token:      s.TokenSource(t),
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		HTTPClient: s.Client(),
		Logger:     hclog.NewNullLogger(),
	})
	if err != nil {
		t.Fatalf("powerbitest: rest client: %v", err)
	}
	return c
}

// PowerBI returns an API client for the fake server that polls imports
// every millisecond.
func (s *Server) PowerBI(t testing.TB) *powerbi.Client {
	t.Helper()

	c, err := powerbi.New(powerbi.Config{
		REST:               s.REST(t),
		ImportPollInterval: time.Millisecond,
		Logger:             hclog.NewNullLogger(),
	})
	if err != nil {
		t.Fatalf("powerbitest: powerbi client: %v", err)
	}
	return c
}
