package deploy

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pbi/pkg/pbix"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// DeployerConfig configures a Deployer.
type DeployerConfig struct {
	// Tenant resolves the deployment aids. Required.
	Tenant *Tenant

	// Monitor (default: polls the tenant's API every 60s).
	Monitor *RefreshMonitor

	// Reconciler (default: uses the tenant's API).
	Reconciler *CredentialReconciler

	// FS holds the dataset and report files (default: the OS filesystem).
	FS afero.Fs

	// Logger (optional).
	Logger hclog.Logger
}

// Deployer publishes datasets and reports into workspaces.
type Deployer struct {
	tenant     *Tenant
	api        API
	monitor    *RefreshMonitor
	reconciler *CredentialReconciler
	fs         afero.Fs
	logger     hclog.Logger
}

// NewDeployer creates a Deployer.
func NewDeployer(cfg DeployerConfig) (*Deployer, error) {
	if cfg.Tenant == nil {
		return nil, fmt.Errorf("tenant is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	logger := cfg.Logger.Named("deploy")

	if cfg.Monitor == nil {
		cfg.Monitor = &RefreshMonitor{API: cfg.Tenant.API, Logger: logger.Named("refresh")}
	}
	if cfg.Reconciler == nil {
		cfg.Reconciler = &CredentialReconciler{API: cfg.Tenant.API, Logger: logger.Named("credentials")}
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}

	return &Deployer{
		tenant:     cfg.Tenant,
		api:        cfg.Tenant.API,
		monitor:    cfg.Monitor,
		reconciler: cfg.Reconciler,
		fs:         cfg.FS,
		logger:     logger,
	}, nil
}

// Request describes one deployment: a dataset file and the report files
// built on it.
type Request struct {
	DatasetFile string
	ReportFiles []string

	// Parameters are applied to the dataset; names it does not declare are
	// ignored.
	Parameters map[string]string

	// Credentials are pushed to matching datasources before refreshing.
	Credentials Credentials

	// ForceRefresh publishes the dataset even if one with its name exists.
	ForceRefresh bool

	// Overwrite replaces existing items in place instead of publishing
	// alongside and deleting them.
	Overwrite bool

	// Namer (default: FileStem).
	Namer NameBuilder

	// Matcher (default: ExactName).
	Matcher NameComparator

	// OnReportPublished (optional).
	OnReportPublished ReportHook

	// Vars are passed through to Namer and OnReportPublished.
	Vars map[string]string
}

// Result describes what a deployment did.
type Result struct {
	// Dataset the reports are bound to.
	Dataset powerbi.Dataset

	// Reports published, bound to Dataset.
	Reports []powerbi.Report

	// Published is true when the dataset file was uploaded.
	Published bool

	// Refreshed is true when a refresh was triggered.
	Refreshed bool

	DeletedReports  []powerbi.Report
	DeletedDatasets []powerbi.Dataset
}

// Deploy publishes req's dataset unless a current one already exists,
// configures and refreshes it, publishes every report bound to it, and
// deletes the datasets and reports they supersede.
//
// Any failure before the reports are published aborts the deployment and
// nothing is rolled back. Report hook failures are logged only. Cleanup
// continues past failed deletions and returns them together.
func (d *Deployer) Deploy(ctx context.Context, ws *Workspace, req Request) (*Result, error) {
	namer := req.Namer
	if namer == nil {
		namer = FileStem{}
	}
	matcher := req.Matcher
	if matcher == nil {
		matcher = ExactName{}
	}
	logger := d.logger.With("workspace", ws.Name)

	aidDataset, aidReport, err := d.tenant.DeploymentAids(ctx)
	if err != nil {
		return nil, err
	}
	connections, err := d.tenant.AidConnectionString(ctx, aidReport)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	// Dataset: publish or reuse.
	datasetName := namer.BuildName(req.DatasetFile, req.Vars)
	var stale []powerbi.Dataset
	for _, ds := range ws.Datasets {
		if matcher.SameName(ds.Name, datasetName, req.Overwrite) {
			stale = append(stale, ds)
		}
	}

	var dataset powerbi.Dataset
	if len(stale) == 0 || req.ForceRefresh {
		logger.Info("publishing dataset", "file", req.DatasetFile, "name", datasetName)

		published, err := d.publish(ctx, ws.ID, req.DatasetFile, datasetName, req.Overwrite, true)
		if err != nil {
			return nil, err
		}
		if len(published.Datasets) == 0 {
			return nil, fmt.Errorf("import of %s produced no dataset", req.DatasetFile)
		}
		dataset = published.Datasets[len(published.Datasets)-1]
		result.Published = true
	} else {
		dataset = stale[len(stale)-1]
		logger.Info("using existing dataset", "dataset", dataset.Name, "id", dataset.ID)
	}
	stale = withoutDataset(stale, dataset.ID)
	result.Dataset = dataset

	// Configure and refresh unless the dataset is current.
	refreshed, err := d.prepareDataset(ctx, ws.ID, dataset, req)
	if err != nil {
		return result, err
	}
	result.Refreshed = refreshed

	// Reports.
	var cleanup *multierror.Error
	for _, file := range req.ReportFiles {
		reportName := namer.BuildName(file, req.Vars)

		var matches []powerbi.Report
		for _, r := range ws.Reports {
			if matcher.SameName(r.Name, reportName, req.Overwrite) {
				matches = append(matches, r)
			}
		}

		if req.Overwrite {
			// Keep the reports being replaced off the dataset they may lose.
			for _, r := range matches {
				if err := d.api.RebindReport(ctx, ws.ID, r.ID, aidDataset.ID); err != nil {
					return result, err
				}
			}
		}

		logger.Info("publishing report", "file", file, "name", reportName)
		if err := pbix.Rebind(d.fs, file, connections); err != nil {
			return result, err
		}
		published, err := d.publish(ctx, ws.ID, file, reportName, req.Overwrite, false)
		if err != nil {
			return result, err
		}

		for _, r := range published.Reports {
			if err := d.api.RebindReport(ctx, ws.ID, r.ID, dataset.ID); err != nil {
				return result, err
			}
			r.DatasetID = dataset.ID
			result.Reports = append(result.Reports, r)

			if req.OnReportPublished != nil {
				if err := req.OnReportPublished.ReportPublished(ctx, r, req.Vars); err != nil {
					logger.Warn("post-publish hook failed", "report", r.Name, "error", err)
				}
			}
		}

		if !req.Overwrite {
			for _, old := range matches {
				if containsReport(published.Reports, old.ID) {
					continue
				}
				logger.Info("deleting old report", "report", old.Name, "id", old.ID)
				if err := d.api.DeleteReport(ctx, ws.ID, old.ID); err != nil {
					cleanup = multierror.Append(cleanup, err)
					continue
				}
				result.DeletedReports = append(result.DeletedReports, old)
			}
		}
	}

	if !req.Overwrite {
		for _, old := range stale {
			logger.Info("deleting old dataset", "dataset", old.Name, "id", old.ID)
			if err := d.api.DeleteDataset(ctx, ws.ID, old.ID); err != nil {
				cleanup = multierror.Append(cleanup, err)
				continue
			}
			result.DeletedDatasets = append(result.DeletedDatasets, old)
		}
	}

	return result, cleanup.ErrorOrNil()
}

// prepareDataset brings the dataset to a completed refresh. A dataset that
// already completed is left alone unless req.Overwrite is set; one that is
// refreshing is waited on without reconfiguring it.
func (d *Deployer) prepareDataset(ctx context.Context, groupID string, dataset powerbi.Dataset, req Request) (bool, error) {
	logger := d.logger.With("dataset", dataset.Name)

	state, err := d.monitor.State(ctx, groupID, dataset.ID, false)
	if err != nil {
		return false, err
	}
	if state.IsCompleted() && !req.Overwrite {
		logger.Info("existing dataset valid")
		return false, nil
	}

	triggered := false
	if state.Status != RefreshInProgress {
		if err := d.configure(ctx, groupID, dataset, req); err != nil {
			return false, err
		}

		logger.Info("triggering refresh")
		if err := d.api.TriggerRefresh(ctx, groupID, dataset.ID); err != nil {
			return false, err
		}
		triggered = true
	}

	state, err = d.monitor.State(ctx, groupID, dataset.ID, true)
	if err != nil {
		return triggered, err
	}
	if !state.IsCompleted() {
		return triggered, &RefreshError{Dataset: dataset.Name, State: state}
	}

	logger.Info("dataset refreshed", "duration", state.Duration)
	return triggered, nil
}

// configure claims the dataset and applies parameters and credentials.
func (d *Deployer) configure(ctx context.Context, groupID string, dataset powerbi.Dataset, req Request) error {
	logger := d.logger.With("dataset", dataset.Name)

	if err := d.api.TakeOver(ctx, groupID, dataset.ID); err != nil {
		return err
	}

	if len(req.Parameters) > 0 {
		declared, err := d.api.ListParameters(ctx, groupID, dataset.ID)
		if err != nil {
			return err
		}

		var updates []powerbi.ParameterUpdate
		for _, p := range declared {
			if v, ok := req.Parameters[p.Name]; ok {
				updates = append(updates, powerbi.ParameterUpdate{Name: p.Name, NewValue: v})
			}
		}
		if len(updates) > 0 {
			logger.Info("updating parameters", "count", len(updates))
			if err := d.api.UpdateParameters(ctx, groupID, dataset.ID, updates); err != nil {
				return err
			}
		}
	}

	if len(req.Credentials) > 0 {
		logger.Info("authenticating datasources")
		if _, err := d.reconciler.Reconcile(ctx, groupID, dataset.ID, req.Credentials); err != nil {
			return err
		}
	}

	return nil
}

func (d *Deployer) publish(ctx context.Context, groupID, file, name string, overwrite, skipReport bool) (*powerbi.PublishResult, error) {
	f, err := d.fs.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	conflict := powerbi.NameConflictIgnore
	if overwrite {
		conflict = powerbi.NameConflictCreateOrOverwrite
	}

	return d.api.Publish(ctx, groupID, powerbi.PublishRequest{
		Name:         name,
		FileName:     filepath.Base(file),
		Content:      f,
		NameConflict: conflict,
		SkipReport:   skipReport,
	})
}

func withoutDataset(datasets []powerbi.Dataset, id string) []powerbi.Dataset {
	out := datasets[:0:0]
	for _, ds := range datasets {
		if ds.ID != id {
			out = append(out, ds)
		}
	}
	return out
}

func containsReport(reports []powerbi.Report, id string) bool {
	for _, r := range reports {
		if r.ID == id {
			return true
		}
	}
	return false
}
