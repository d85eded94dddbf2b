package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// TokenSource supplies OAuth2 access tokens for a datasource.
// *token.Source implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Credential authenticates one datasource endpoint, either with a token
// source or with a username and password. Token takes precedence.
type Credential struct {
	Username string
	Password string
	Token    TokenSource
}

func (c Credential) details(ctx context.Context) (powerbi.CredentialDetails, bool, error) {
	switch {
	case c.Token != nil:
		tok, err := c.Token.AccessToken(ctx)
		if err != nil {
			return powerbi.CredentialDetails{}, false, err
		}
		return powerbi.OAuth2Credentials(tok), true, nil
	case c.Username != "":
		return powerbi.BasicCredentials(c.Username, c.Password), true, nil
	}
	return powerbi.CredentialDetails{}, false, nil
}

// Credentials maps datasource endpoints (a server name or the host of a
// URL) to their credential.
type Credentials map[string]Credential

// EndpointKey extracts the credential key from a datasource's
// connectionDetails document: its "server", or else the authority of its
// "url" (host and port, with any userinfo kept).
// ok is false when the document carries neither.
func EndpointKey(connectionDetails string) (key string, ok bool, err error) {
	if connectionDetails == "" {
		return "", false, nil
	}

	var conn struct {
		Server string `json:"server"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal([]byte(connectionDetails), &conn); err != nil {
		return "", false, fmt.Errorf("invalid connection details %q: %w", connectionDetails, err)
	}

	if conn.Server != "" {
		return conn.Server, true, nil
	}
	if conn.URL != "" {
		u, err := url.Parse(conn.URL)
		if err != nil {
			return "", false, fmt.Errorf("invalid datasource url %q: %w", conn.URL, err)
		}
		if u.Host != "" {
			if u.User != nil {
				return u.User.String() + "@" + u.Host, true, nil
			}
			return u.Host, true, nil
		}
	}
	return "", false, nil
}

// CredentialReconciler pushes credentials to the datasources of a dataset.
type CredentialReconciler struct {
	API DatasourceAPI

	// Logger (optional).
	Logger hclog.Logger
}

// Reconcile updates every datasource of the dataset whose endpoint has an
// entry in creds, and leaves the others untouched. It returns how many
// datasources were updated. The first error aborts.
func (r *CredentialReconciler) Reconcile(ctx context.Context, groupID, datasetID string, creds Credentials) (int, error) {
	logger := r.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	sources, err := r.API.ListDatasources(ctx, groupID, datasetID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, src := range sources {
		key, ok, err := EndpointKey(src.ConnectionDetails)
		if err != nil {
			return updated, fmt.Errorf("datasource %s: %w", src.ID, err)
		}
		if !ok {
			logger.Info("datasource has no server or url, using existing credentials", "datasource", src.ID)
			continue
		}

		cred, found := creds[key]
		if !found {
			logger.Info("no credentials provided, using existing credentials", "endpoint", key)
			continue
		}

		details, ok, err := cred.details(ctx)
		if err != nil {
			return updated, fmt.Errorf("failed to get token for %s: %w", key, err)
		}
		if !ok {
			logger.Warn("credential has neither token nor username, skipping", "endpoint", key)
			continue
		}

		logger.Info("updating credentials", "endpoint", key, "type", details.CredentialType)
		if err := r.API.UpdateDatasourceCredentials(ctx, src.GatewayID, src.ID, details); err != nil {
			return updated, err
		}
		updated++
	}

	return updated, nil
}
