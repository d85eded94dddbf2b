// Package powerbi wraps the Power BI REST API endpoints for workspaces,
// datasets, datasources, reports and imports.
//
// Each method maps to a single request (Publish additionally polls the
// import until it finishes). Nothing is cached: callers re-list after
// mutations they care about.
package powerbi

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pbi/pkg/rest"
)

// DefaultBaseURL is the Power BI REST API root for the caller's
// organization.
const DefaultBaseURL = "https://api.powerbi.com/v1.0/myorg"

// DefaultImportPollInterval is how often an import in progress is checked.
const DefaultImportPollInterval = 10 * time.Second

// Config holds configuration for the Power BI client.
type Config struct {
	// REST is the authenticated transport rooted at DefaultBaseURL (or a
	// compatible endpoint). Required.
	REST *rest.Client

	// ImportPollInterval (default: 10s).
	ImportPollInterval time.Duration

	// Logger (optional).
	Logger hclog.Logger
}

// Client is a Power BI REST API client.
type Client struct {
	rest               *rest.Client
	importPollInterval time.Duration
	logger             hclog.Logger
}

// New creates a Power BI client.
func New(cfg Config) (*Client, error) {
	if cfg.REST == nil {
		return nil, fmt.Errorf("rest client is required")
	}
	if cfg.ImportPollInterval == 0 {
		cfg.ImportPollInterval = DefaultImportPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Client{
		rest:               cfg.REST,
		importPollInterval: cfg.ImportPollInterval,
		logger:             cfg.Logger.Named("powerbi"),
	}, nil
}

func groupPath(groupID string, format string, args ...interface{}) string {
	escaped := make([]interface{}, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return "/groups/" + url.PathEscape(groupID) + fmt.Sprintf(format, escaped...)
}
