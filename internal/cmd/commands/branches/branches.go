package branches

import (
	"errors"
	"flag"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
	"github.com/hashicorp-forge/pbi/pkg/gitchange"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "List the remote branches of the repository holding the reports"
}

func (c *Command) Help() string {
	return `Usage: pbi branches [path]

  List the branches of the origin remote of the git repository enclosing
  path (default: the current directory). Useful for deploying one prefixed copy
  of the reports per open branch.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	return base.NewFlagSet(flag.NewFlagSet("branches", flag.ContinueOnError))
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

	path := "."
	if f.NArg() > 0 {
		path = f.Arg(0)
	}

	branches, err := gitchange.RemoteBranches(path)
	if err != nil {
		return c.Fail("error listing branches: %v", err)
	}
	for _, b := range branches {
		c.UI.Output(b)
	}
	return 0
}
