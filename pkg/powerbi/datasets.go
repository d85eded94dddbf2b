package powerbi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp-forge/pbi/pkg/rest"
)

// ListDatasets returns the datasets of a workspace.
func (c *Client) ListDatasets(ctx context.Context, groupID string) ([]Dataset, error) {
	var list valueList[Dataset]
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/datasets"), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list datasets of workspace %s: %w", groupID, err)
	}
	return list.Value, nil
}

// GetDataset returns a dataset by ID.
func (c *Client) GetDataset(ctx context.Context, groupID, datasetID string) (*Dataset, error) {
	var ds Dataset
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/datasets/%s", datasetID), nil, &ds); err != nil {
		return nil, fmt.Errorf("failed to get dataset %s: %w", datasetID, err)
	}
	return &ds, nil
}

// FindDataset returns the first dataset with the given name in the order
// the service lists them, or nil.
func (c *Client) FindDataset(ctx context.Context, groupID, name string) (*Dataset, error) {
	datasets, err := c.ListDatasets(ctx, groupID)
	if err != nil {
		return nil, err
	}

	for _, d := range datasets {
		if d.Name == name {
			return &d, nil
		}
	}
	return nil, nil
}

// LatestRefresh returns the most recent refresh of a dataset, or nil if the
// history is empty.
func (c *Client) LatestRefresh(ctx context.Context, groupID, datasetID string) (*Refresh, error) {
	var list valueList[Refresh]
	err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/datasets/%s/refreshes", datasetID), nil, &list,
		rest.Query(url.Values{"$top": {"1"}}))
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh history of dataset %s: %w", datasetID, err)
	}

	if len(list.Value) == 0 {
		return nil, nil
	}
	return &list.Value[0], nil
}

// TriggerRefresh queues an asynchronous refresh of a dataset.
func (c *Client) TriggerRefresh(ctx context.Context, groupID, datasetID string) error {
	if err := c.rest.Do(ctx, http.MethodPost, groupPath(groupID, "/datasets/%s/refreshes", datasetID), nil, nil); err != nil {
		return fmt.Errorf("failed to trigger refresh of dataset %s: %w", datasetID, err)
	}
	return nil
}

// ListParameters returns the parameters declared by a dataset.
func (c *Client) ListParameters(ctx context.Context, groupID, datasetID string) ([]Parameter, error) {
	var list valueList[Parameter]
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/datasets/%s/parameters", datasetID), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list parameters of dataset %s: %w", datasetID, err)
	}
	return list.Value, nil
}

// UpdateParameters sets parameter values. Every name must be declared by
// the dataset.
func (c *Client) UpdateParameters(ctx context.Context, groupID, datasetID string, updates []ParameterUpdate) error {
	body := struct {
		UpdateDetails []ParameterUpdate `json:"updateDetails"`
	}{UpdateDetails: updates}

	if err := c.rest.Do(ctx, http.MethodPost, groupPath(groupID, "/datasets/%s/Default.UpdateParameters", datasetID), body, nil); err != nil {
		return fmt.Errorf("failed to update parameters of dataset %s: %w", datasetID, err)
	}
	return nil
}

// TakeOver transfers ownership of a dataset to the calling principal.
// Parameter, credential and refresh operations fail for non-owners.
func (c *Client) TakeOver(ctx context.Context, groupID, datasetID string) error {
	if err := c.rest.Do(ctx, http.MethodPost, groupPath(groupID, "/datasets/%s/Default.TakeOver", datasetID), nil, nil); err != nil {
		return fmt.Errorf("failed to take over dataset %s: %w", datasetID, err)
	}
	return nil
}

// DeleteDataset deletes a dataset. A dataset that no longer exists is not an
// error.
func (c *Client) DeleteDataset(ctx context.Context, groupID, datasetID string) error {
	err := c.rest.Do(ctx, http.MethodDelete, groupPath(groupID, "/datasets/%s", datasetID), nil, nil,
		rest.Allow(http.StatusNotFound))
	if err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", datasetID, err)
	}
	return nil
}
