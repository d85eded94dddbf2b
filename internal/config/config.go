// Package config loads the pbi HCL configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// DefaultFile is the configuration file used when none is given.
const DefaultFile = "pbi.hcl"

// Config is the root of the configuration file.
type Config struct {
	// Service principal.
	TenantID     string `hcl:"tenant_id"`
	ClientID     string `hcl:"client_id"`
	ClientSecret string `hcl:"client_secret"`

	// WorkspaceID is the workspace deployed to unless overridden by a flag.
	WorkspaceID string `hcl:"workspace_id,optional"`

	// ConfigWorkspaceID holds the deployment aid dataset and report.
	ConfigWorkspaceID string `hcl:"config_workspace_id,optional"`

	API         *APIConfig         `hcl:"api,block"`
	Refresh     *RefreshConfig     `hcl:"refresh,block"`
	Import      *ImportConfig      `hcl:"import,block"`
	Credentials []CredentialConfig `hcl:"credential,block"`
	Deploy      *DeployConfig      `hcl:"deploy,block"`
	Capacity    *CapacityConfig    `hcl:"capacity,block"`
	Notify      *NotifyConfig      `hcl:"notify,block"`
}

// APIConfig configures the Power BI transport.
type APIConfig struct {
	BaseURL    string `hcl:"base_url,optional"`
	LoginURL   string `hcl:"login_url,optional"`
	Timeout    string `hcl:"timeout,optional"`
	MaxRetries *int   `hcl:"max_retries,optional"`
}

// RefreshConfig configures waiting on dataset refreshes.
type RefreshConfig struct {
	PollInterval string `hcl:"poll_interval,optional"`
	Retries      int    `hcl:"retries,optional"`
}

// ImportConfig configures waiting on file imports.
type ImportConfig struct {
	PollInterval string `hcl:"poll_interval,optional"`
}

// CredentialConfig authenticates the datasources of one endpoint (a server
// name or URL host), with either a username and password or an OAuth
// service principal.
type CredentialConfig struct {
	Endpoint string       `hcl:"endpoint,label"`
	Username string       `hcl:"username,optional"`
	Password string       `hcl:"password,optional"`
	OAuth    *OAuthConfig `hcl:"oauth,block"`
}

// OAuthConfig is a service principal whose tokens are sent to a
// datasource.
type OAuthConfig struct {
	TenantID     string `hcl:"tenant_id"`
	ClientID     string `hcl:"client_id"`
	ClientSecret string `hcl:"client_secret"`
	Scope        string `hcl:"scope"`
}

// DeployConfig holds the defaults of the deploy command.
type DeployConfig struct {
	Dataset          string            `hcl:"dataset,optional"`
	Reports          []string          `hcl:"reports,optional"`
	Parameters       map[string]string `hcl:"parameters,optional"`
	ForceRefresh     bool              `hcl:"force_refresh,optional"`
	OverwriteReports bool              `hcl:"overwrite_reports,optional"`
	NamePrefix       string            `hcl:"name_prefix,optional"`
	NameSeparator    string            `hcl:"name_separator,optional"`
	CaseInsensitive  bool              `hcl:"case_insensitive,optional"`
	ChangedOnly      bool              `hcl:"changed_only,optional"`
}

// CapacityConfig identifies a Power BI Embedded capacity.
type CapacityConfig struct {
	SubscriptionID string `hcl:"subscription_id"`
	ResourceGroup  string `hcl:"resource_group"`
	Name           string `hcl:"name"`

	// BaseURL of Azure Resource Manager (default: https://management.azure.com).
	BaseURL string `hcl:"base_url,optional"`
}

// NotifyConfig announces deployments on an ntfy topic.
type NotifyConfig struct {
	ServerURL string `hcl:"server_url,optional"`
	Topic     string `hcl:"topic"`

	// Reports sends one notification per published report as well.
	Reports bool `hcl:"reports,optional"`
}

// EvalContext exposes env("NAME") to configuration files so secrets can
// stay in the environment.
func EvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"env": envFunc,
		},
	}
}

var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// Load reads, defaults and validates a configuration file.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration file path is required")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	var cfg Config
	if err := hclsimple.DecodeFile(filename, EvalContext(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	return finish(&cfg)
}

// Parse decodes configuration source. The filename's extension selects the
// syntax (.hcl or .json).
func Parse(filename string, src []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, src, EvalContext(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Defaults.
const (
	DefaultBaseURL             = "https://api.powerbi.com/v1.0/myorg"
	DefaultLoginURL            = "https://login.microsoftonline.com"
	DefaultTimeout             = "60s"
	DefaultMaxRetries          = 3
	DefaultRefreshPollInterval = "60s"
	DefaultRefreshRetries      = 5
	DefaultImportPollInterval  = "10s"
	DefaultNameSeparator       = " -- "
)

// DefaultConfig returns a configuration with every optional setting at its
// default. The service principal is left empty.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.API == nil {
		cfg.API = &APIConfig{}
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.LoginURL == "" {
		cfg.API.LoginURL = DefaultLoginURL
	}
	if cfg.API.Timeout == "" {
		cfg.API.Timeout = DefaultTimeout
	}
	if cfg.API.MaxRetries == nil {
		n := DefaultMaxRetries
		cfg.API.MaxRetries = &n
	}

	if cfg.Refresh == nil {
		cfg.Refresh = &RefreshConfig{}
	}
	if cfg.Refresh.PollInterval == "" {
		cfg.Refresh.PollInterval = DefaultRefreshPollInterval
	}
	if cfg.Refresh.Retries == 0 {
		cfg.Refresh.Retries = DefaultRefreshRetries
	}

	if cfg.Import == nil {
		cfg.Import = &ImportConfig{}
	}
	if cfg.Import.PollInterval == "" {
		cfg.Import.PollInterval = DefaultImportPollInterval
	}

	if cfg.Deploy == nil {
		cfg.Deploy = &DeployConfig{}
	}
	if cfg.Deploy.NameSeparator == "" {
		cfg.Deploy.NameSeparator = DefaultNameSeparator
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TenantID, validation.Required, validation.By(guid)),
		validation.Field(&c.ClientID, validation.Required, validation.By(guid)),
		validation.Field(&c.ClientSecret, validation.Required),
		validation.Field(&c.WorkspaceID, validation.By(guid)),
		validation.Field(&c.ConfigWorkspaceID, validation.By(guid)),
		validation.Field(&c.API),
		validation.Field(&c.Refresh),
		validation.Field(&c.Import),
		validation.Field(&c.Credentials),
		validation.Field(&c.Capacity),
		validation.Field(&c.Notify),
	)
}

// Validate checks the transport settings.
func (c APIConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.LoginURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.Timeout, validation.Required, validation.By(duration)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
	)
}

// Validate checks the refresh settings.
func (c RefreshConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PollInterval, validation.Required, validation.By(duration)),
		validation.Field(&c.Retries, validation.Min(-1)),
	)
}

// Validate checks the import settings.
func (c ImportConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PollInterval, validation.Required, validation.By(duration)),
	)
}

// Validate checks that the credential carries exactly one kind of secret.
func (c CredentialConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.Username, validation.When(c.OAuth == nil, validation.Required)),
		validation.Field(&c.OAuth),
	)
	if err != nil {
		return fmt.Errorf("credential %q: %w", c.Endpoint, err)
	}
	if c.OAuth != nil && c.Username != "" {
		return fmt.Errorf("credential %q: set either username or oauth, not both", c.Endpoint)
	}
	return nil
}

// Validate checks the service principal.
func (c OAuthConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TenantID, validation.Required, validation.By(guid)),
		validation.Field(&c.ClientID, validation.Required, validation.By(guid)),
		validation.Field(&c.ClientSecret, validation.Required),
		validation.Field(&c.Scope, validation.Required),
	)
}

// Validate checks the capacity resource.
func (c CapacityConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SubscriptionID, validation.Required, validation.By(guid)),
		validation.Field(&c.ResourceGroup, validation.Required),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.BaseURL, validation.By(httpURL)),
	)
}

// Validate checks the notification settings.
func (c NotifyConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServerURL, validation.By(httpURL)),
		validation.Field(&c.Topic, validation.Required),
	)
}

// TimeoutDuration returns the parsed transport timeout.
func (c *APIConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// PollIntervalDuration returns the parsed refresh poll interval.
func (c *RefreshConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// PollIntervalDuration returns the parsed import poll interval.
func (c *ImportConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

func guid(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return errors.New("must be a GUID")
	}
	return nil
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
}

func duration(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("must be a duration such as 30s or 5m")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
