package powerbi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Credential types.
const (
	CredentialTypeBasic  = "Basic"
	CredentialTypeOAuth2 = "OAuth2"
)

// CredentialDetails is the envelope sent when updating a gateway
// datasource. Credentials holds the JSON-encoded credentialData document.
type CredentialDetails struct {
	CredentialType              string `json:"credentialType"`
	Credentials                 string `json:"credentials"`
	EncryptedConnection         string `json:"encryptedConnection"`
	EncryptionAlgorithm         string `json:"encryptionAlgorithm"`
	PrivacyLevel                string `json:"privacyLevel"`
	UseCallerAADIdentity        string `json:"useCallerAADIdentity"`
	UseEndUserOAuth2Credentials string `json:"useEndUserOAuth2Credentials"`
}

// CredentialEntry is one name/value pair of credentialData.
type CredentialEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type credentialData struct {
	CredentialData []CredentialEntry `json:"credentialData"`
}

// BasicCredentials builds a username/password credential.
func BasicCredentials(username, password string) CredentialDetails {
	return newCredentialDetails(CredentialTypeBasic, []CredentialEntry{
		{Name: "username", Value: username},
		{Name: "password", Value: password},
	})
}

// OAuth2Credentials builds an access-token credential.
func OAuth2Credentials(accessToken string) CredentialDetails {
	return newCredentialDetails(CredentialTypeOAuth2, []CredentialEntry{
		{Name: "accessToken", Value: accessToken},
	})
}

func newCredentialDetails(credentialType string, entries []CredentialEntry) CredentialDetails {
	// Marshaling a slice of string pairs cannot fail.
	data, _ := json.Marshal(credentialData{CredentialData: entries})

	// The caller/end-user identity flags must be "False" or DirectQuery
	// connections stop working once the token expires.
	return CredentialDetails{
		CredentialType:              credentialType,
		Credentials:                 string(data),
		EncryptedConnection:         "Encrypted",
		EncryptionAlgorithm:         "None",
		PrivacyLevel:                "Organizational",
		UseCallerAADIdentity:        "False",
		UseEndUserOAuth2Credentials: "False",
	}
}

// ListDatasources returns the gateway datasources bound to a dataset.
func (c *Client) ListDatasources(ctx context.Context, groupID, datasetID string) ([]Datasource, error) {
	var list valueList[Datasource]
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/datasets/%s/Default.GetBoundGatewayDatasources", datasetID), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list datasources of dataset %s: %w", datasetID, err)
	}
	return list.Value, nil
}

// UpdateDatasourceCredentials replaces the credentials of a gateway
// datasource.
func (c *Client) UpdateDatasourceCredentials(ctx context.Context, gatewayID, datasourceID string, details CredentialDetails) error {
	path := fmt.Sprintf("/gateways/%s/datasources/%s", url.PathEscape(gatewayID), url.PathEscape(datasourceID))
	body := struct {
		CredentialDetails CredentialDetails `json:"credentialDetails"`
	}{CredentialDetails: details}

	if err := c.rest.Do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("failed to update credentials of datasource %s: %w", datasourceID, err)
	}
	return nil
}
