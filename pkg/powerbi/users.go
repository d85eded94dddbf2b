package powerbi

import (
	"context"
	"fmt"
	"net/http"
)

// ListWorkspaceUsers returns the users and service principals with access to
// a workspace.
func (c *Client) ListWorkspaceUsers(ctx context.Context, groupID string) ([]WorkspaceUser, error) {
	var list valueList[WorkspaceUser]
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/users"), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list users of workspace %s: %w", groupID, err)
	}
	return list.Value, nil
}

// GrantWorkspaceUser grants access to a workspace, updating the access right
// when the identifier already has access.
func (c *Client) GrantWorkspaceUser(ctx context.Context, groupID string, user WorkspaceUser) error {
	existing, err := c.ListWorkspaceUsers(ctx, groupID)
	if err != nil {
		return err
	}

	method := http.MethodPost
	for _, u := range existing {
		if u.Identifier == user.Identifier {
			method = http.MethodPut
			break
		}
	}

	if err := c.rest.Do(ctx, method, groupPath(groupID, "/users"), user, nil); err != nil {
		return fmt.Errorf("failed to grant %s access to workspace %s: %w", user.Identifier, groupID, err)
	}

	c.logger.Debug("granted workspace access",
		"workspace", groupID,
		"identifier", user.Identifier,
		"right", user.GroupUserAccessRight,
		"method", method,
	)
	return nil
}

// CopyWorkspacePermissions grants every user of one workspace the same
// access to another. It returns how many users were granted.
func (c *Client) CopyWorkspacePermissions(ctx context.Context, fromGroupID, toGroupID string) (int, error) {
	users, err := c.ListWorkspaceUsers(ctx, fromGroupID)
	if err != nil {
		return 0, err
	}

	for i, u := range users {
		if err := c.GrantWorkspaceUser(ctx, toGroupID, u); err != nil {
			return i, err
		}
	}
	return len(users), nil
}
