package powerbi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp-forge/pbi/pkg/rest"
)

// ListReports returns the reports of a workspace.
func (c *Client) ListReports(ctx context.Context, groupID string) ([]Report, error) {
	var list valueList[Report]
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/reports"), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list reports of workspace %s: %w", groupID, err)
	}
	return list.Value, nil
}

// GetReport returns a report by ID.
func (c *Client) GetReport(ctx context.Context, groupID, reportID string) (*Report, error) {
	var r Report
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/reports/%s", reportID), nil, &r); err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", reportID, err)
	}
	return &r, nil
}

// FindReport returns the first report with the given name in the order the
// service lists them, or nil.
func (c *Client) FindReport(ctx context.Context, groupID, name string) (*Report, error) {
	reports, err := c.ListReports(ctx, groupID)
	if err != nil {
		return nil, err
	}

	for _, r := range reports {
		if r.Name == name {
			return &r, nil
		}
	}
	return nil, nil
}

// RebindReport points a report at another dataset.
func (c *Client) RebindReport(ctx context.Context, groupID, reportID, datasetID string) error {
	body := map[string]string{"datasetId": datasetID}
	if err := c.rest.Do(ctx, http.MethodPost, groupPath(groupID, "/reports/%s/Rebind", reportID), body, nil); err != nil {
		return fmt.Errorf("failed to rebind report %s to dataset %s: %w", reportID, datasetID, err)
	}
	return nil
}

// CloneReport copies a report. The clone has a new ID.
func (c *Client) CloneReport(ctx context.Context, groupID, reportID, name string) (*Report, error) {
	var r Report
	body := map[string]string{"name": name}
	if err := c.rest.Do(ctx, http.MethodPost, groupPath(groupID, "/reports/%s/Clone", reportID), body, &r); err != nil {
		return nil, fmt.Errorf("failed to clone report %s: %w", reportID, err)
	}
	return &r, nil
}

// RenameReport clones the report under a new name and deletes the original.
// The returned report has a different ID.
func (c *Client) RenameReport(ctx context.Context, groupID, reportID, name string) (*Report, error) {
	clone, err := c.CloneReport(ctx, groupID, reportID, name)
	if err != nil {
		return nil, err
	}

	if err := c.DeleteReport(ctx, groupID, reportID); err != nil {
		return nil, err
	}
	return clone, nil
}

// ExportReport downloads the report's PBIX file.
func (c *Client) ExportReport(ctx context.Context, groupID, reportID string) ([]byte, error) {
	data, err := c.rest.Download(ctx, groupPath(groupID, "/reports/%s/Export", reportID))
	if err != nil {
		return nil, fmt.Errorf("failed to export report %s: %w", reportID, err)
	}
	return data, nil
}

// DeleteReport deletes a report. A report that no longer exists is not an
// error.
func (c *Client) DeleteReport(ctx context.Context, groupID, reportID string) error {
	err := c.rest.Do(ctx, http.MethodDelete, groupPath(groupID, "/reports/%s", reportID), nil, nil,
		rest.Allow(http.StatusNotFound))
	if err != nil {
		return fmt.Errorf("failed to delete report %s: %w", reportID, err)
	}
	return nil
}
