package base

import (
	"fmt"

	"github.com/hashicorp-forge/pbi/internal/config"
	"github.com/hashicorp-forge/pbi/pkg/capacity"
	"github.com/hashicorp-forge/pbi/pkg/deploy"
	"github.com/hashicorp-forge/pbi/pkg/notify"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
	"github.com/hashicorp-forge/pbi/pkg/rest"
	"github.com/hashicorp-forge/pbi/pkg/token"
)

// Clients are the API clients built from one configuration.
type Clients struct {
	Config   *config.Config
	PowerBI  *powerbi.Client
	Tenant   *deploy.Tenant
	Deployer *deploy.Deployer
}

// LoadConfig loads the configuration file selected by ConfigPath.
func (c *Command) LoadConfig() (*config.Config, error) {
	path := c.ConfigPath()
	c.Log.Debug("loading configuration", "path", path)
	return config.Load(path)
}

// Clients builds the Power BI client stack for cfg.
func (c *Command) Clients(cfg *config.Config) (*Clients, error) {
	restClient, err := c.restClient(cfg, cfg.API.BaseURL, token.PowerBIScope)
	if err != nil {
		return nil, err
	}

	api, err := powerbi.New(powerbi.Config{
		REST:               restClient,
		ImportPollInterval: cfg.Import.PollIntervalDuration(),
		Logger:             c.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Power BI client: %w", err)
	}

	tenant, err := deploy.NewTenant(deploy.TenantConfig{
		API:               api,
		ConfigWorkspaceID: cfg.ConfigWorkspaceID,
		Logger:            c.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating tenant: %w", err)
	}

	deployer, err := deploy.NewDeployer(deploy.DeployerConfig{
		Tenant: tenant,
		Monitor: &deploy.RefreshMonitor{
			API:          api,
			PollInterval: cfg.Refresh.PollIntervalDuration(),
			Retries:      cfg.Refresh.Retries,
			Logger:       c.Log.Named("refresh"),
		},
		FS:     c.FS,
		Logger: c.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating deployer: %w", err)
	}

	return &Clients{
		Config:   cfg,
		PowerBI:  api,
		Tenant:   tenant,
		Deployer: deployer,
	}, nil
}

// Capacity builds the capacity client for cfg. The service principal must
// be allowed to manage the capacity resource.
func (c *Command) Capacity(cfg *config.Config) (*capacity.Client, error) {
	if cfg.Capacity == nil {
		return nil, fmt.Errorf("no capacity block in configuration")
	}

	baseURL := cfg.Capacity.BaseURL
	if baseURL == "" {
		baseURL = capacity.DefaultBaseURL
	}
	restClient, err := c.restClient(cfg, baseURL, token.ManagementScope)
	if err != nil {
		return nil, err
	}

	return capacity.New(capacity.Config{
		REST:           restClient,
		SubscriptionID: cfg.Capacity.SubscriptionID,
		ResourceGroup:  cfg.Capacity.ResourceGroup,
		Name:           cfg.Capacity.Name,
		Logger:         c.Log,
	})
}

// Credentials converts the credential blocks of cfg into the table used to
// authenticate datasources. OAuth blocks become token sources for their
// scope.
func (c *Command) Credentials(cfg *config.Config) (deploy.Credentials, error) {
	creds := make(deploy.Credentials, len(cfg.Credentials))
	for _, cc := range cfg.Credentials {
		cred := deploy.Credential{
			Username: cc.Username,
			Password: cc.Password,
		}
		if cc.OAuth != nil {
			src, err := token.New(token.Config{
				TokenURL:     token.AzureADTokenURL(cfg.API.LoginURL, cc.OAuth.TenantID),
				Scope:        cc.OAuth.Scope,
				ClientID:     cc.OAuth.ClientID,
				ClientSecret: cc.OAuth.ClientSecret,
				Logger:       c.Log,
			})
			if err != nil {
				return nil, fmt.Errorf("error creating token source for %q: %w", cc.Endpoint, err)
			}
			cred.Token = src
		}
		creds[cc.Endpoint] = cred
	}
	return creds, nil
}

func (c *Command) restClient(cfg *config.Config, baseURL, scope string) (*rest.Client, error) {
	src, err := token.New(token.Config{
		TokenURL:     token.AzureADTokenURL(cfg.API.LoginURL, cfg.TenantID),
		Scope:        scope,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Logger:       c.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating token source: %w", err)
	}

	restCfg := rest.DefaultConfig()
	restCfg.BaseURL = baseURL
	restCfg.Token = src
	restCfg.Timeout = cfg.API.TimeoutDuration()
	restCfg.MaxRetries = *cfg.API.MaxRetries
	restCfg.RetryDelay = c.RetryDelay
	restCfg.Logger = c.Log

	client, err := rest.New(restCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating REST client: %w", err)
	}
	return client, nil
}

// Notifier builds the ntfy notifier of cfg, or nil when no notify block is
// configured. Sends are retried like API requests.
func (c *Command) Notifier(cfg *config.Config) (*notify.Ntfy, error) {
	if cfg.Notify == nil {
		return nil, nil
	}
	return notify.New(notify.Config{
		ServerURL:  cfg.Notify.ServerURL,
		Topic:      cfg.Notify.Topic,
		MaxRetries: *cfg.API.MaxRetries,
		RetryDelay: c.RetryDelay,
		Logger:     c.Log,
	})
}
