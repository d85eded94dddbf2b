package refresh

import (
	"errors"
	"flag"
	"fmt"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
)

type Command struct {
	*base.Command

	flagWorkspace string
	flagNoWait    bool
}

func (c *Command) Synopsis() string {
	return "Refresh every dataset of a workspace"
}

func (c *Command) Help() string {
	return `Usage: pbi refresh [options]

  Re-authenticate the datasources of every dataset in a workspace with the
  configured credentials and refresh it. Deployment aids are skipped, as
  are datasets that are already refreshing.

  By default the command waits for every refresh to finish and fails if
  any of them did not complete.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("refresh", flag.ContinueOnError))
	c.ConfigFlags(f)

	f.StringVar(
		&c.flagWorkspace, "workspace", "",
		"ID of the workspace to refresh (default: workspace_id)",
	)
	f.BoolVar(
		&c.flagNoWait, "no-wait", false,
		"Return once the refreshes are triggered",
	)

	return f
}

func (c *Command) Run(args []string) int {
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
	creds, err := c.Credentials(cfg)
	if err != nil {
		return c.Fail("%v", err)
	}

	ws, err := clients.Tenant.Workspace(c.Context, workspaceID)
	if err != nil {
		return c.Fail("error loading workspace: %v", err)
	}

	c.UI.Info(fmt.Sprintf("Refreshing datasets of workspace %q", ws.Name))
	if err := clients.Deployer.RefreshAll(c.Context, ws, creds, !c.flagNoWait); err != nil {
		return c.Fail("error refreshing datasets: %v", err)
	}

	if c.flagNoWait {
		c.UI.Output("Refreshes triggered")
	} else {
		c.UI.Output("All datasets refreshed")
	}
	return 0
}
