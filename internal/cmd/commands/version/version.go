package version

import (
	"github.com/hashicorp-forge/pbi/internal/cmd/base"
	"github.com/hashicorp-forge/pbi/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version of pbi"
}

func (c *Command) Help() string {
	return `Usage: pbi version

  Print the version of pbi.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output("pbi " + version.Version)
	return 0
}
