package workspace

import (
	"errors"
	"flag"
	"fmt"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
)

type ListCommand struct {
	*base.Command
}

func (c *ListCommand) Synopsis() string {
	return "List the workspaces the service principal can access"
}

func (c *ListCommand) Help() string {
	return `Usage: pbi workspace list [options]

  List the ID and name of every workspace visible to the service
  principal.` + c.Flags().Help()
}

func (c *ListCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("workspace list", flag.ContinueOnError))
	c.ConfigFlags(f)
	return f
}

func (c *ListCommand) Run(args []string) int {
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
	clients, err := c.Clients(cfg)
	if err != nil {
		return c.Fail("%v", err)
	}

	workspaces, err := clients.PowerBI.ListWorkspaces(c.Context)
	if err != nil {
		return c.Fail("error listing workspaces: %v", err)
	}
	for _, ws := range workspaces {
		c.UI.Output(fmt.Sprintf("%s\t%s", ws.ID, ws.Name))
	}
	return 0
}
