package workspace

import (
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Manage Power BI workspaces"
}

func (c *Command) Help() string {
	return `Usage: pbi workspace <subcommand> [options] [args]

  This command groups subcommands for listing and creating workspaces and
  for managing who has access to them.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}
