// Package capacity scales a Power BI Embedded capacity through the Azure
// Resource Manager API.
package capacity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pbi/pkg/rest"
)

const (
	// DefaultBaseURL is the Azure Resource Manager endpoint.
	DefaultBaseURL = "https://management.azure.com"

	// APIVersion of the Microsoft.PowerBIDedicated provider.
	APIVersion = "2017-10-01"
)

// SKU is a capacity pricing tier.
type SKU struct {
	Name     string `json:"name"`
	Tier     string `json:"tier,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

type skuDetails struct {
	ResourceType string `json:"resourceType,omitempty"`
	SKU          SKU    `json:"sku"`
}

// Config identifies the capacity resource.
type Config struct {
	// REST is a transport rooted at DefaultBaseURL whose token has the
	// management scope. Required.
	REST *rest.Client

	SubscriptionID string
	ResourceGroup  string
	Name           string

	// Logger (optional).
	Logger hclog.Logger
}

// Validate checks that the resource is fully identified.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.REST, validation.Required),
		validation.Field(&c.SubscriptionID, validation.Required),
		validation.Field(&c.ResourceGroup, validation.Required),
		validation.Field(&c.Name, validation.Required),
	)
}

// Client manages one capacity.
type Client struct {
	rest     *rest.Client
	resource string
	name     string
	logger   hclog.Logger
}

// New creates a capacity client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capacity config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	resource := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.PowerBIDedicated/capacities/%s",
		url.PathEscape(cfg.SubscriptionID), url.PathEscape(cfg.ResourceGroup), url.PathEscape(cfg.Name))

	return &Client{
		rest:     cfg.REST,
		resource: resource,
		name:     cfg.Name,
		logger:   cfg.Logger.Named("capacity"),
	}, nil
}

func apiVersion() rest.Option {
	return rest.Query(url.Values{"api-version": {APIVersion}})
}

// SKUs returns the SKUs the capacity can be scaled to, keyed by name.
func (c *Client) SKUs(ctx context.Context) (map[string]SKU, error) {
	var list struct {
		Value []skuDetails `json:"value"`
	}
	if err := c.rest.Do(ctx, http.MethodGet, c.resource+"/skus", nil, &list, apiVersion()); err != nil {
		return nil, fmt.Errorf("failed to list skus of capacity %s: %w", c.name, err)
	}

	skus := make(map[string]SKU, len(list.Value))
	for _, d := range list.Value {
		skus[d.SKU.Name] = d.SKU
	}
	return skus, nil
}

// ChangeSKU scales the capacity to the named SKU. A name that is not
// offered by SKUs is an error and no change is requested.
func (c *Client) ChangeSKU(ctx context.Context, name string) error {
	skus, err := c.SKUs(ctx)
	if err != nil {
		return err
	}

	sku, ok := skus[name]
	if !ok {
		return fmt.Errorf("sku %q is not available for capacity %s (available: %v)", name, c.name, SortedNames(skus))
	}

	body := map[string]SKU{"sku": sku}
	if err := c.rest.Do(ctx, http.MethodPatch, c.resource, body, nil, apiVersion()); err != nil {
		return fmt.Errorf("failed to change sku of capacity %s: %w", c.name, err)
	}

	c.logger.Info("changed capacity sku", "capacity", c.name, "sku", sku.Name, "tier", sku.Tier)
	return nil
}

// SortedNames returns the SKU names in lexical order.
func SortedNames(skus map[string]SKU) []string {
	names := make([]string, 0, len(skus))
	for n := range skus {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
