package deploy_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/pbi/pkg/deploy"
	"github.com/hashicorp-forge/pbi/pkg/pbix"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
	"github.com/hashicorp-forge/pbi/pkg/powerbi/powerbitest"
)

type fixture struct {
	t        *testing.T
	srv      *powerbitest.Server
	fs       afero.Fs
	tenant   *deploy.Tenant
	deployer *deploy.Deployer
	target   powerbi.Workspace
	aid      powerbi.Dataset
	sleeps   int

	// onSleep runs on every monitor wait.
	onSleep func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{t: t, srv: powerbitest.NewServer(t), fs: afero.NewMemMapFs()}

	config := f.srv.AddWorkspace("Config")
	f.aid = f.srv.AddDataset(config.ID, powerbi.Dataset{Name: deploy.DeploymentAidName})
	f.srv.AddReport(config.ID, powerbi.Report{Name: deploy.DeploymentAidName, DatasetID: f.aid.ID},
		powerbitest.PBIX(t, map[string]string{"Connections": powerbitest.LiveConnection(f.aid.ID)}))
	f.target = f.srv.AddWorkspace("Sales")

	tenant, err := deploy.NewTenant(deploy.TenantConfig{
		API:               f.srv.PowerBI(t),
		ConfigWorkspaceID: config.ID,
		Logger:            hclog.NewNullLogger(),
	})
	require.NoError(t, err)
	f.tenant = tenant

	deployer, err := deploy.NewDeployer(deploy.DeployerConfig{
		Tenant: tenant,
		Monitor: &deploy.RefreshMonitor{
			API: tenant.API,
			Sleep: func(context.Context, time.Duration) error {
				f.sleeps++
				if f.onSleep != nil {
					f.onSleep()
				}
				if f.sleeps > 50 {
					return errors.New("refresh never finished")
				}
				return nil
			},
		},
		FS:     f.fs,
		Logger: hclog.NewNullLogger(),
	})
	require.NoError(t, err)
	f.deployer = deployer

	f.writeModel("Model.pbix")
	f.writeReport("R1.pbix")
	f.writeReport("R2.pbix")
	return f
}

func (f *fixture) writeModel(path string) {
	f.t.Helper()
	data := powerbitest.PBIX(f.t, map[string]string{"DataModel": "model", "Version": "1"})
	require.NoError(f.t, afero.WriteFile(f.fs, path, data, 0o644))
}

func (f *fixture) writeReport(path string) {
	f.t.Helper()
	data := powerbitest.PBIX(f.t, map[string]string{
		"Connections":      powerbitest.LiveConnection("dataset-used-in-development"),
		"SecurityBindings": "bindings",
		"Report/Layout":    `{"sections":[]}`,
	})
	require.NoError(f.t, afero.WriteFile(f.fs, path, data, 0o644))
}

func (f *fixture) snapshot() *deploy.Workspace {
	f.t.Helper()
	ws, err := f.tenant.Workspace(context.Background(), f.target.ID)
	require.NoError(f.t, err)
	return ws
}

// existingModel adds a dataset "Model" whose last refresh completed and a
// report "R1" bound to it.
func (f *fixture) existingModel() (powerbi.Dataset, powerbi.Report) {
	ds := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "Model"})
	f.srv.SetRefreshHistory(f.target.ID, ds.ID, powerbi.Refresh{
		Status:    powerbi.RefreshStatusCompleted,
		StartTime: "2024-01-01T09:00:00Z",
		EndTime:   "2024-01-01T09:03:00Z",
	})
	r := f.srv.AddReport(f.target.ID, powerbi.Report{Name: "R1", DatasetID: ds.ID}, nil)
	return ds, r
}

func (f *fixture) modelImports() int {
	n := 0
	for _, r := range f.srv.Requests() {
		if r.Method == http.MethodPost && strings.HasSuffix(r.Path, "/imports") &&
			strings.Contains(r.Query, "datasetDisplayName=Model.pbix") {
			n++
		}
	}
	return n
}

func TestDeployNewDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.deployer.Deploy(ctx, f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		ReportFiles: []string{"R1.pbix"},
	})
	require.NoError(t, err)

	assert.True(t, res.Published)
	assert.True(t, res.Refreshed)
	assert.Equal(t, "Model", res.Dataset.Name)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, res.Dataset.ID, res.Reports[0].DatasetID)
	assert.Empty(t, res.DeletedReports)
	assert.Empty(t, res.DeletedDatasets)

	ws := f.snapshot()
	require.Len(t, ws.Datasets, 1)
	require.Len(t, ws.Reports, 1)
	assert.Equal(t, "Model", ws.Datasets[0].Name)
	assert.Equal(t, "R1", ws.Reports[0].Name)
	assert.Equal(t, ws.Datasets[0].ID, ws.Reports[0].DatasetID)

	assert.Equal(t, 1, f.srv.TakeOvers(f.target.ID, res.Dataset.ID))
	assert.Equal(t, 1, f.srv.Count(http.MethodPost, "/datasets/"+res.Dataset.ID+"/refreshes"))
	assert.Equal(t, 1, f.sleeps)

	t.Run("ReportFileRebound", func(t *testing.T) {
		conn, err := pbix.ReadConnectionsFile(f.fs, "R1.pbix")
		require.NoError(t, err)
		assert.Equal(t, powerbitest.LiveConnection(f.aid.ID), string(conn))
	})

	t.Run("RedeployIsIdempotent", func(t *testing.T) {
		res, err := f.deployer.Deploy(ctx, f.snapshot(), deploy.Request{
			DatasetFile: "Model.pbix",
			ReportFiles: []string{"R1.pbix"},
		})
		require.NoError(t, err)

		assert.False(t, res.Published)
		assert.False(t, res.Refreshed)
		assert.Equal(t, 1, f.modelImports())
		assert.Equal(t, 1, f.srv.Count(http.MethodPost, "/datasets/"+res.Dataset.ID+"/refreshes"))

		ws := f.snapshot()
		assert.Len(t, ws.Datasets, 1)
		assert.Len(t, ws.Reports, 1)
	})
}

func TestDeployReusesCompletedDataset(t *testing.T) {
	f := newFixture(t)
	ds, oldReport := f.existingModel()

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		ReportFiles: []string{"R1.pbix"},
	})
	require.NoError(t, err)

	assert.False(t, res.Published)
	assert.False(t, res.Refreshed)
	assert.Equal(t, ds.ID, res.Dataset.ID)
	assert.Equal(t, 0, f.modelImports())
	assert.Equal(t, 0, f.srv.Count(http.MethodPost, "/refreshes"))
	assert.Equal(t, 0, f.srv.TakeOvers(f.target.ID, ds.ID))

	require.Len(t, res.DeletedReports, 1)
	assert.Equal(t, oldReport.ID, res.DeletedReports[0].ID)

	reports := f.srv.Reports(f.target.ID)
	require.Len(t, reports, 1)
	assert.Equal(t, "R1", reports[0].Name)
	assert.NotEqual(t, oldReport.ID, reports[0].ID)
	assert.Equal(t, ds.ID, reports[0].DatasetID)
}

func TestDeployForceRefreshReplacesDataset(t *testing.T) {
	f := newFixture(t)
	old, _ := f.existingModel()

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile:  "Model.pbix",
		ReportFiles:  []string{"R1.pbix"},
		ForceRefresh: true,
	})
	require.NoError(t, err)

	assert.True(t, res.Published)
	assert.NotEqual(t, old.ID, res.Dataset.ID)
	require.Len(t, res.DeletedDatasets, 1)
	assert.Equal(t, old.ID, res.DeletedDatasets[0].ID)

	datasets := f.srv.Datasets(f.target.ID)
	require.Len(t, datasets, 1)
	assert.Equal(t, res.Dataset.ID, datasets[0].ID)
}

func TestDeployConfiguresDataset(t *testing.T) {
	f := newFixture(t)
	ds := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "Model"})
	f.srv.SetParameters(f.target.ID, ds.ID, "Schema", "Server")
	db := f.srv.AddDatasource(f.target.ID, ds.ID, powerbi.Datasource{ConnectionDetails: `{"server":"db.example.com"}`})
	f.srv.AddDatasource(f.target.ID, ds.ID, powerbi.Datasource{ConnectionDetails: `{"server":"other.example.com"}`})

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		Parameters:  map[string]string{"Schema": "dbo", "Undeclared": "x"},
		Credentials: deploy.Credentials{"db.example.com": {Username: "u", Password: "p"}},
	})
	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.True(t, res.Refreshed)

	params := map[string]string{}
	for _, p := range f.srv.Parameters(f.target.ID, ds.ID) {
		params[p.Name] = p.CurrentValue
	}
	assert.Equal(t, map[string]string{"Schema": "dbo", "Server": ""}, params)

	updates := f.srv.CredentialUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, db.ID, updates[0].DatasourceID)
	assert.Equal(t, powerbi.CredentialTypeBasic, updates[0].Details.CredentialType)
	assert.Equal(t, 1, f.srv.TakeOvers(f.target.ID, ds.ID))
}

func TestDeployUndeclaredParametersSkipUpdate(t *testing.T) {
	f := newFixture(t)
	ds := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "Model"})
	f.srv.SetParameters(f.target.ID, ds.ID, "Server")

	_, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		Parameters:  map[string]string{"Undeclared": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.srv.Count(http.MethodPost, "/Default.UpdateParameters"))
}

func TestDeployWaitsOnRunningRefresh(t *testing.T) {
	f := newFixture(t)
	ds := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "Model"})
	f.srv.SetParameters(f.target.ID, ds.ID, "Schema")
	f.srv.AddDatasource(f.target.ID, ds.ID, powerbi.Datasource{ConnectionDetails: `{"server":"db.example.com"}`})
	f.srv.SetRefreshHistory(f.target.ID, ds.ID, powerbi.Refresh{
		Status:    powerbi.RefreshStatusUnknown,
		StartTime: "2024-01-01T09:00:00Z",
	})
	f.onSleep = func() {
		f.srv.SetRefreshHistory(f.target.ID, ds.ID, powerbi.Refresh{
			Status:    powerbi.RefreshStatusCompleted,
			StartTime: "2024-01-01T09:00:00Z",
			EndTime:   "2024-01-01T09:04:00Z",
		})
	}

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		Parameters:  map[string]string{"Schema": "dbo"},
		Credentials: deploy.Credentials{"db.example.com": {Username: "u", Password: "p"}},
	})
	require.NoError(t, err)

	assert.False(t, res.Published)
	assert.False(t, res.Refreshed)
	assert.Equal(t, ds.ID, res.Dataset.ID)
	assert.Equal(t, 1, f.sleeps)
	assert.Equal(t, 0, f.srv.TakeOvers(f.target.ID, ds.ID))
	assert.Equal(t, 0, f.srv.Count(http.MethodPost, "/refreshes"))
	assert.Empty(t, f.srv.CredentialUpdates())
	assert.Equal(t, "", f.srv.Parameters(f.target.ID, ds.ID)[0].CurrentValue)
}

func TestDeployRefreshFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.srv.FailRefresh["Model"] = `{"errorCode":"ModelRefreshFailed_CredentialsNotSpecified"}`

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		ReportFiles: []string{"R1.pbix"},
	})
	require.Error(t, err)

	var refreshErr *deploy.RefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, "Model", refreshErr.Dataset)
	assert.Equal(t, deploy.RefreshFailed, refreshErr.State.Status)
	assert.Contains(t, err.Error(), "CredentialsNotSpecified")

	// The dataset stays for inspection; no report was published.
	assert.True(t, res.Published)
	assert.Len(t, f.srv.Datasets(f.target.ID), 1)
	assert.Empty(t, f.srv.Reports(f.target.ID))
}

func TestDeployHookFailureIsIsolated(t *testing.T) {
	f := newFixture(t)

	var seen []string
	hook := deploy.ReportHookFunc(func(_ context.Context, r powerbi.Report, vars map[string]string) error {
		seen = append(seen, r.Name+"@"+vars["env"])
		if r.Name == "R1" {
			return fmt.Errorf("portal unavailable")
		}
		return nil
	})

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile:       "Model.pbix",
		ReportFiles:       []string{"R1.pbix", "R2.pbix"},
		OnReportPublished: hook,
		Vars:              map[string]string{"env": "prod"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Reports, 2)
	assert.Equal(t, []string{"R1@prod", "R2@prod"}, seen)
}

func TestDeployOverwrite(t *testing.T) {
	f := newFixture(t)
	ds, existing := f.existingModel()

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		ReportFiles: []string{"R1.pbix"},
		Overwrite:   true,
	})
	require.NoError(t, err)

	// Overwrite reconfigures even a completed dataset.
	assert.False(t, res.Published)
	assert.True(t, res.Refreshed)
	assert.Empty(t, res.DeletedReports)

	// The matching report was parked on the aid before the publish
	// replaced it in place.
	var rebinds []string
	for _, r := range f.srv.Requests() {
		if strings.HasSuffix(r.Path, "/reports/"+existing.ID+"/Rebind") {
			rebinds = append(rebinds, string(r.Body))
		}
	}
	require.Len(t, rebinds, 2)
	assert.Contains(t, rebinds[0], f.aid.ID)
	assert.Contains(t, rebinds[1], ds.ID)

	reports := f.srv.Reports(f.target.ID)
	require.Len(t, reports, 1)
	assert.Equal(t, existing.ID, reports[0].ID)
	assert.Equal(t, ds.ID, reports[0].DatasetID)
}

func TestDeployNamingStrategies(t *testing.T) {
	f := newFixture(t)
	ds := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "sales -- model"})
	f.srv.SetRefreshHistory(f.target.ID, ds.ID, powerbi.Refresh{Status: powerbi.RefreshStatusCompleted})

	res, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{
		DatasetFile: "Model.pbix",
		ReportFiles: []string{"R1.pbix"},
		Namer:       deploy.PrefixedFileStem{Prefix: "Sales"},
		Matcher:     deploy.CaseInsensitiveName{},
	})
	require.NoError(t, err)
	assert.Equal(t, ds.ID, res.Dataset.ID)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "Sales -- R1", res.Reports[0].Name)
}

func TestDeployAidMissing(t *testing.T) {
	t.Run("NoAid", func(t *testing.T) {
		f := newFixture(t)
		f.tenant.SetConfigWorkspace(f.target.ID)

		_, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{DatasetFile: "Model.pbix"})
		require.Error(t, err)
		assert.ErrorIs(t, err, deploy.ErrDeploymentAidMissing)
		assert.Contains(t, err.Error(), deploy.DeploymentAidName)
		assert.Empty(t, f.srv.Datasets(f.target.ID))
	})

	t.Run("NoConfigWorkspace", func(t *testing.T) {
		f := newFixture(t)
		f.tenant.SetConfigWorkspace("")

		_, err := f.deployer.Deploy(context.Background(), f.snapshot(), deploy.Request{DatasetFile: "Model.pbix"})
		assert.ErrorIs(t, err, deploy.ErrConfigWorkspaceNotSet)
	})
}

func TestRefreshAll(t *testing.T) {
	f := newFixture(t)
	a := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "A"})
	b := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "B"})
	aid := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "Deployment Aid Copy"})
	f.srv.FailRefresh["B"] = `{"errorCode":"Timeout"}`

	err := f.deployer.RefreshAll(context.Background(), f.snapshot(), nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"B"`)
	assert.NotContains(t, err.Error(), `"A"`)

	assert.Equal(t, 1, f.srv.Count(http.MethodPost, "/datasets/"+a.ID+"/refreshes"))
	assert.Equal(t, 1, f.srv.Count(http.MethodPost, "/datasets/"+b.ID+"/refreshes"))
	assert.Equal(t, 0, f.srv.Count(http.MethodPost, "/datasets/"+aid.ID+"/refreshes"))
	assert.Equal(t, 1, f.srv.TakeOvers(f.target.ID, a.ID))
}

func TestRefreshAllSkipsRunningRefresh(t *testing.T) {
	f := newFixture(t)
	running := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "Running"})
	f.srv.SetRefreshHistory(f.target.ID, running.ID, powerbi.Refresh{Status: powerbi.RefreshStatusUnknown})
	idle := f.srv.AddDataset(f.target.ID, powerbi.Dataset{Name: "Idle"})

	err := f.deployer.RefreshAll(context.Background(), f.snapshot(), deploy.Credentials{}, false)
	require.NoError(t, err)

	assert.Equal(t, 0, f.srv.Count(http.MethodPost, "/datasets/"+running.ID+"/refreshes"))
	assert.Equal(t, 0, f.srv.TakeOvers(f.target.ID, running.ID))
	assert.Equal(t, 1, f.srv.Count(http.MethodPost, "/datasets/"+idle.ID+"/refreshes"))
}
