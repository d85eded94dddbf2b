// Package deploy publishes Power BI datasets and reports into a workspace,
// keeps their credentials and refreshes current, and retires the artifacts
// they replace.
package deploy

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pbi/pkg/pbix"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// DeploymentAidName names the placeholder dataset and report in the config
// workspace. The aid report's connection is written into every report file
// before it is published.
const DeploymentAidName = "Deployment Aid"

// TenantConfig configures a Tenant.
type TenantConfig struct {
	// API is the authenticated Power BI client. Required.
	API API

	// ConfigWorkspaceID holds the deployment aids (optional until a
	// deployment runs).
	ConfigWorkspaceID string

	// Logger (optional).
	Logger hclog.Logger
}

// Tenant is the root scope of a deployment: one authenticated principal and
// an optional config workspace.
type Tenant struct {
	API               API
	ConfigWorkspaceID string

	logger hclog.Logger
}

// NewTenant creates a Tenant.
func NewTenant(cfg TenantConfig) (*Tenant, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Tenant{
		API:               cfg.API,
		ConfigWorkspaceID: cfg.ConfigWorkspaceID,
		logger:            cfg.Logger.Named("tenant"),
	}, nil
}

// SetConfigWorkspace designates the workspace holding the deployment aids.
func (t *Tenant) SetConfigWorkspace(id string) {
	t.ConfigWorkspaceID = id
}

// Workspace takes a snapshot of a workspace's datasets and reports.
func (t *Tenant) Workspace(ctx context.Context, id string) (*Workspace, error) {
	info, err := t.API.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{ID: info.ID, Name: info.Name, api: t.API}
	if err := ws.Reload(ctx); err != nil {
		return nil, err
	}
	return ws, nil
}

// FindWorkspace returns a snapshot of the first workspace with the given
// name, or nil.
func (t *Tenant) FindWorkspace(ctx context.Context, name string) (*Workspace, error) {
	info, err := t.API.FindWorkspace(ctx, name)
	if err != nil || info == nil {
		return nil, err
	}
	return t.Workspace(ctx, info.ID)
}

// CreateWorkspace creates a workspace and, when copyFrom is set, grants it
// the users of that workspace.
func (t *Tenant) CreateWorkspace(ctx context.Context, name, copyFrom string) (*Workspace, error) {
	info, err := t.API.CreateWorkspace(ctx, name)
	if err != nil {
		return nil, err
	}

	if copyFrom != "" {
		n, err := t.API.CopyWorkspacePermissions(ctx, copyFrom, info.ID)
		if err != nil {
			return nil, fmt.Errorf("created workspace %s but failed to copy permissions: %w", info.ID, err)
		}
		t.logger.Info("copied workspace permissions", "from", copyFrom, "to", info.ID, "users", n)
	}

	return &Workspace{ID: info.ID, Name: info.Name, api: t.API}, nil
}

// DeploymentAids returns the aid dataset and report of the config
// workspace.
func (t *Tenant) DeploymentAids(ctx context.Context) (*powerbi.Dataset, *powerbi.Report, error) {
	if t.ConfigWorkspaceID == "" {
		return nil, nil, ErrConfigWorkspaceNotSet
	}

	dataset, err := t.API.FindDataset(ctx, t.ConfigWorkspaceID, DeploymentAidName)
	if err != nil {
		return nil, nil, err
	}
	report, err := t.API.FindReport(ctx, t.ConfigWorkspaceID, DeploymentAidName)
	if err != nil {
		return nil, nil, err
	}

	if dataset == nil || report == nil {
		return nil, nil, fmt.Errorf("%w: looking for a dataset and a report called %q in workspace %s",
			ErrDeploymentAidMissing, DeploymentAidName, t.ConfigWorkspaceID)
	}
	return dataset, report, nil
}

// AidConnectionString downloads the aid report and returns its Connections
// entry.
func (t *Tenant) AidConnectionString(ctx context.Context, aid *powerbi.Report) ([]byte, error) {
	if t.ConfigWorkspaceID == "" {
		return nil, ErrConfigWorkspaceNotSet
	}

	data, err := t.API.ExportReport(ctx, t.ConfigWorkspaceID, aid.ID)
	if err != nil {
		return nil, err
	}

	conn, err := pbix.ReadConnectionsBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection of %s report: %w", DeploymentAidName, err)
	}
	return conn, nil
}

// Workspace is a snapshot of a workspace's datasets and reports. It is
// never refreshed implicitly; call Reload after changes that matter.
type Workspace struct {
	ID       string
	Name     string
	Datasets []powerbi.Dataset
	Reports  []powerbi.Report

	api API
}

// Reload re-lists the workspace's datasets and reports.
func (w *Workspace) Reload(ctx context.Context) error {
	datasets, err := w.api.ListDatasets(ctx, w.ID)
	if err != nil {
		return err
	}
	reports, err := w.api.ListReports(ctx, w.ID)
	if err != nil {
		return err
	}

	w.Datasets = datasets
	w.Reports = reports
	return nil
}
