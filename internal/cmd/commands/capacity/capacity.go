package capacity

import (
	"errors"
	"flag"
	"fmt"

	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
	"github.com/hashicorp-forge/pbi/pkg/capacity"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Manage the Power BI Embedded capacity"
}

func (c *Command) Help() string {
	return `Usage: pbi capacity <subcommand> [options]

  This command groups subcommands for the capacity named in the capacity
  block of the configuration file.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}

type SKUsCommand struct {
	*base.Command
}

func (c *SKUsCommand) Synopsis() string {
	return "List the SKUs the capacity can be scaled to"
}

func (c *SKUsCommand) Help() string {
	return `Usage: pbi capacity skus [options]

  List the SKUs the capacity can be scaled to.` + c.Flags().Help()
}

func (c *SKUsCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("capacity skus", flag.ContinueOnError))
	c.ConfigFlags(f)
	return f
}

func (c *SKUsCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.UI.Output(c.Help())
			return 0
		}
		return c.Fail("error parsing flags: %v", err)
	}

	client, code := capacityClient(c.Command)
	if client == nil {
		return code
	}

	skus, err := client.SKUs(c.Context)
	if err != nil {
		return c.Fail("%v", err)
	}
	for _, name := range capacity.SortedNames(skus) {
		sku := skus[name]
		c.UI.Output(fmt.Sprintf("%s\t%s", sku.Name, sku.Tier))
	}
	return 0
}

type ScaleCommand struct {
	*base.Command

	flagSKU string
}

func (c *ScaleCommand) Synopsis() string {
	return "Scale the capacity to another SKU"
}

func (c *ScaleCommand) Help() string {
	return `Usage: pbi capacity scale -sku NAME [options]

  Scale the capacity to the named SKU, for example A1 or A4. The SKU must
  be one listed by "pbi capacity skus".` + c.Flags().Help()
}

func (c *ScaleCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("capacity scale", flag.ContinueOnError))
	c.ConfigFlags(f)

	f.StringVar(
		&c.flagSKU, "sku", "",
		"(Required) Name of the SKU",
	)

	return f
}

func (c *ScaleCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.UI.Output(c.Help())
			return 0
		}
		return c.Fail("error parsing flags: %v", err)
	}
	if c.flagSKU == "" {
		return c.Fail("-sku is required")
	}

	client, code := capacityClient(c.Command)
	if client == nil {
		return code
	}

	if err := client.ChangeSKU(c.Context, c.flagSKU); err != nil {
		return c.Fail("%v", err)
	}
	c.UI.Info(fmt.Sprintf("Capacity scaled to %s", c.flagSKU))
	return 0
}

func capacityClient(c *base.Command) (*capacity.Client, int) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, c.Fail("error loading configuration: %v", err)
	}
	client, err := c.Capacity(cfg)
	if err != nil {
		return nil, c.Fail("error creating capacity client: %v", err)
	}
	return client, 0
}
