package deploy

import (
	"context"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// RefreshHistory reads the most recent refresh of a dataset.
type RefreshHistory interface {
	LatestRefresh(ctx context.Context, groupID, datasetID string) (*powerbi.Refresh, error)
}

// DatasourceAPI lists and updates the datasources of a dataset.
type DatasourceAPI interface {
	ListDatasources(ctx context.Context, groupID, datasetID string) ([]powerbi.Datasource, error)
	UpdateDatasourceCredentials(ctx context.Context, gatewayID, datasourceID string, details powerbi.CredentialDetails) error
}

// API is the subset of the Power BI service a deployment drives.
// *powerbi.Client implements it.
type API interface {
	RefreshHistory
	DatasourceAPI

	GetWorkspace(ctx context.Context, id string) (*powerbi.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]powerbi.Workspace, error)
	FindWorkspace(ctx context.Context, name string) (*powerbi.Workspace, error)
	CreateWorkspace(ctx context.Context, name string) (*powerbi.Workspace, error)
	CopyWorkspacePermissions(ctx context.Context, fromGroupID, toGroupID string) (int, error)

	ListDatasets(ctx context.Context, groupID string) ([]powerbi.Dataset, error)
	FindDataset(ctx context.Context, groupID, name string) (*powerbi.Dataset, error)
	TriggerRefresh(ctx context.Context, groupID, datasetID string) error
	ListParameters(ctx context.Context, groupID, datasetID string) ([]powerbi.Parameter, error)
	UpdateParameters(ctx context.Context, groupID, datasetID string, updates []powerbi.ParameterUpdate) error
	TakeOver(ctx context.Context, groupID, datasetID string) error
	DeleteDataset(ctx context.Context, groupID, datasetID string) error

	ListReports(ctx context.Context, groupID string) ([]powerbi.Report, error)
	FindReport(ctx context.Context, groupID, name string) (*powerbi.Report, error)
	RebindReport(ctx context.Context, groupID, reportID, datasetID string) error
	ExportReport(ctx context.Context, groupID, reportID string) ([]byte, error)
	DeleteReport(ctx context.Context, groupID, reportID string) error

	Publish(ctx context.Context, groupID string, req powerbi.PublishRequest) (*powerbi.PublishResult, error)
}

var _ API = (*powerbi.Client)(nil)
