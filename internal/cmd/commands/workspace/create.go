package workspace

import (
	"errors"
	"flag"
	"fmt"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
)

type CreateCommand struct {
	*base.Command

	flagName     string
	flagCopyFrom string
}

func (c *CreateCommand) Synopsis() string {
	return "Create a workspace"
}

func (c *CreateCommand) Help() string {
	return `Usage: pbi workspace create -name NAME [options]

  Create a workspace, optionally granting it the users of an existing
  workspace. If a workspace with the name already exists nothing is
  created and its ID is printed.` + c.Flags().Help()
}

func (c *CreateCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("workspace create", flag.ContinueOnError))
	c.ConfigFlags(f)

	f.StringVar(
		&c.flagName, "name", "",
		"(Required) Name of the workspace",
	)
	f.StringVar(
		&c.flagCopyFrom, "copy-permissions-from", "",
		"ID of a workspace whose users are granted access to the new one",
	)

	return f
}

func (c *CreateCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.UI.Output(c.Help())
			return 0
		}
		return c.Fail("error parsing flags: %v", err)
	}
	if c.flagName == "" {
		return c.Fail("-name is required")
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return c.Fail("error loading configuration: %v", err)
	}
	clients, err := c.Clients(cfg)
	if err != nil {
		return c.Fail("%v", err)
	}

	existing, err := clients.Tenant.FindWorkspace(c.Context, c.flagName)
	if err != nil {
		return c.Fail("error looking up workspace: %v", err)
	}
	if existing != nil {
		c.UI.Warn(fmt.Sprintf("Workspace %q already exists", c.flagName))
		c.UI.Output(existing.ID)
		return 0
	}

	ws, err := clients.Tenant.CreateWorkspace(c.Context, c.flagName, c.flagCopyFrom)
	if err != nil {
		return c.Fail("error creating workspace: %v", err)
	}
	c.UI.Info(fmt.Sprintf("Created workspace %q", ws.Name))
	c.UI.Output(ws.ID)
	return 0
}
