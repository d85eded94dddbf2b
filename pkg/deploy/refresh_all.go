package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// RefreshAll triggers a refresh of every dataset in the snapshot except the
// deployment aids, re-authenticating their datasources with creds first.
// Datasets already refreshing are left alone. With wait set it then waits
// for each dataset in turn.
//
// A failure affects only its dataset; all failures are returned together
// and nil means every dataset refreshed.
func (d *Deployer) RefreshAll(ctx context.Context, ws *Workspace, creds Credentials, wait bool) error {
	var datasets []powerbi.Dataset
	for _, ds := range ws.Datasets {
		if !strings.Contains(ds.Name, DeploymentAidName) {
			datasets = append(datasets, ds)
		}
	}

	var result *multierror.Error
	for _, ds := range datasets {
		if err := d.triggerRefresh(ctx, ws.ID, ds, creds); err != nil {
			d.logger.Error("triggering refresh failed", "dataset", ds.Name, "error", err)
			result = multierror.Append(result, fmt.Errorf("failed to trigger refresh of %q: %w", ds.Name, err))
		}
	}

	if !wait {
		return result.ErrorOrNil()
	}

	d.logger.Info("waiting for datasets to finish refreshing", "count", len(datasets))
	for _, ds := range datasets {
		state, err := d.monitor.State(ctx, ws.ID, ds.ID, true)
		if err == nil && !state.IsCompleted() {
			err = &RefreshError{Dataset: ds.Name, State: state}
		}
		if err != nil {
			d.logger.Error("refresh failed", "dataset", ds.Name, "error", err)
			result = multierror.Append(result, err)
			continue
		}
		d.logger.Info("refresh complete", "dataset", ds.Name, "duration", state.Duration)
	}

	return result.ErrorOrNil()
}

func (d *Deployer) triggerRefresh(ctx context.Context, groupID string, ds powerbi.Dataset, creds Credentials) error {
	state, err := d.monitor.State(ctx, groupID, ds.ID, false)
	if err != nil {
		return err
	}
	if state.Status == RefreshInProgress {
		d.logger.Info("dataset is already refreshing", "dataset", ds.Name)
		return nil
	}

	d.logger.Info("reconfiguring dataset", "dataset", ds.Name)
	if err := d.api.TakeOver(ctx, groupID, ds.ID); err != nil {
		return err
	}
	if len(creds) > 0 {
		if _, err := d.reconciler.Reconcile(ctx, groupID, ds.ID, creds); err != nil {
			return err
		}
	}
	return d.api.TriggerRefresh(ctx, groupID, ds.ID)
}
