package workspace

import (
	"errors"
	"flag"
	"fmt"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

type UsersCommand struct {
	*base.Command

	flagWorkspace string
}

func (c *UsersCommand) Synopsis() string {
	return "List who has access to a workspace"
}

func (c *UsersCommand) Help() string {
	return `Usage: pbi workspace users [options]

  List the users, groups and apps with access to a workspace.` + c.Flags().Help()
}

func (c *UsersCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("workspace users", flag.ContinueOnError))
	c.ConfigFlags(f)

	f.StringVar(
		&c.flagWorkspace, "workspace", "",
		"ID of the workspace (default: workspace_id)",
	)

	return f
}

func (c *UsersCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.UI.Output(c.Help())
			return 0
		}
		return c.Fail("error parsing flags: %v", err)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return c.Fail("error loading configuration: %v", err)
	}
	workspaceID := c.flagWorkspace
	if workspaceID == "" {
		workspaceID = cfg.WorkspaceID
	}
	if workspaceID == "" {
		return c.Fail("a workspace is required (-workspace or workspace_id)")
	}

	clients, err := c.Clients(cfg)
	if err != nil {
		return c.Fail("%v", err)
	}

	users, err := clients.PowerBI.ListWorkspaceUsers(c.Context, workspaceID)
	if err != nil {
		return c.Fail("error listing users: %v", err)
	}
	for _, u := range users {
		c.UI.Output(fmt.Sprintf("%s\t%s\t%s", u.Identifier, u.PrincipalType, u.GroupUserAccessRight))
	}
	return 0
}

type GrantCommand struct {
	*base.Command

	flagWorkspace string
	flagUser      string
	flagAccess    string
	flagType      string
}

func (c *GrantCommand) Synopsis() string {
	return "Grant a user access to a workspace"
}

func (c *GrantCommand) Help() string {
	return `Usage: pbi workspace grant -user ID [options]

  Grant a user, group or app access to a workspace. An existing grant is
  updated to the given access right.` + c.Flags().Help()
}

func (c *GrantCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("workspace grant", flag.ContinueOnError))
	c.ConfigFlags(f)

	f.StringVar(
		&c.flagWorkspace, "workspace", "",
		"ID of the workspace (default: workspace_id)",
	)
	f.StringVar(
		&c.flagUser, "user", "",
		"(Required) Email address or object ID of the principal",
	)
	f.StringVar(
		&c.flagAccess, "access", "Viewer",
		"Access right: Admin, Member, Contributor or Viewer",
	)
	f.StringVar(
		&c.flagType, "type", "User",
		"Principal type: User, Group or App",
	)

	return f
}

func (c *GrantCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.UI.Output(c.Help())
			return 0
		}
		return c.Fail("error parsing flags: %v", err)
	}
	if c.flagUser == "" {
		return c.Fail("-user is required")
	}
	switch c.flagAccess {
	case "Admin", "Member", "Contributor", "Viewer":
	default:
		return c.Fail("invalid access right %q", c.flagAccess)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return c.Fail("error loading configuration: %v", err)
	}
	workspaceID := c.flagWorkspace
	if workspaceID == "" {
		workspaceID = cfg.WorkspaceID
	}
	if workspaceID == "" {
		return c.Fail("a workspace is required (-workspace or workspace_id)")
	}

	clients, err := c.Clients(cfg)
	if err != nil {
		return c.Fail("%v", err)
	}

	err = clients.PowerBI.GrantWorkspaceUser(c.Context, workspaceID, powerbi.WorkspaceUser{
		Identifier:           c.flagUser,
		GroupUserAccessRight: c.flagAccess,
		PrincipalType:        c.flagType,
	})
	if err != nil {
		return c.Fail("error granting access: %v", err)
	}
	c.UI.Info(fmt.Sprintf("Granted %s %s access", c.flagUser, c.flagAccess))
	return 0
}
