package powerbi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp-forge/pbi/pkg/rest"
)

// ListWorkspaces returns every workspace the principal has access to.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var list valueList[Workspace]
	if err := c.rest.Do(ctx, http.MethodGet, "/groups", nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return list.Value, nil
}

// GetWorkspace returns the workspace with the given ID.
func (c *Client) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	q := url.Values{"$filter": {fmt.Sprintf("contains(id,'%s')", id)}}

	var list valueList[Workspace]
	if err := c.rest.Do(ctx, http.MethodGet, "/groups", nil, &list, rest.Query(q)); err != nil {
		return nil, fmt.Errorf("failed to get workspace %s: %w", id, err)
	}

	for _, w := range list.Value {
		if w.ID == id {
			return &w, nil
		}
	}
	if len(list.Value) > 0 {
		return &list.Value[0], nil
	}

	return nil, fmt.Errorf("workspace %s not found", id)
}

// FindWorkspace returns the first workspace with the given name, or nil.
func (c *Client) FindWorkspace(ctx context.Context, name string) (*Workspace, error) {
	workspaces, err := c.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}

	for _, w := range workspaces {
		if w.Name == name {
			return &w, nil
		}
	}
	return nil, nil
}

// CreateWorkspace creates a new workspace.
func (c *Client) CreateWorkspace(ctx context.Context, name string) (*Workspace, error) {
	var w Workspace
	if err := c.rest.Do(ctx, http.MethodPost, "/groups", map[string]string{"name": name}, &w); err != nil {
		return nil, fmt.Errorf("failed to create workspace %q: %w", name, err)
	}

	c.logger.Info("created workspace", "workspace", w.Name, "id", w.ID)
	return &w, nil
}
