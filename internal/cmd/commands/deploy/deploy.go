package deploy

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/pkg/browser"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
	"github.com/hashicorp-forge/pbi/pkg/deploy"
	"github.com/hashicorp-forge/pbi/pkg/gitchange"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

type Command struct {
	*base.Command

	// OpenURL opens a published report when -open is set.
	OpenURL func(url string) error

	// FileModified reports whether a file changed in the latest commit.
	FileModified func(path string) (bool, error)

	flagWorkspace       string
	flagForceRefresh    bool
	flagOverwrite       bool
	flagPrefix          string
	flagSeparator       string
	flagCaseInsensitive bool
	flagChangedOnly     bool
	flagOpen            bool
	flagParams          base.KeyValueFlag
}

func (c *Command) Synopsis() string {
	return "Publish a dataset and its reports to a workspace"
}

func (c *Command) Help() string {
	return `Usage: pbi deploy [options] [dataset.pbix [report.pbix ...]]

  Publish a dataset to a workspace, refresh it, and publish the reports
  built on it, replacing earlier versions of the same names.

  Files given as arguments replace the dataset and reports of the deploy
  block of the configuration file.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("deploy", flag.ContinueOnError))
	c.ConfigFlags(f)

	if c.flagParams == nil {
		c.flagParams = base.KeyValueFlag{}
	}

	f.StringVar(
		&c.flagWorkspace, "workspace", "",
		"ID of the workspace to deploy to (default: workspace_id)",
	)
	f.BoolVar(
		&c.flagForceRefresh, "force-refresh", false,
		"Publish and refresh the dataset even if a refreshed copy exists",
	)
	f.BoolVar(
		&c.flagOverwrite, "overwrite", false,
		"Overwrite existing items in place instead of replacing them",
	)
	f.StringVar(
		&c.flagPrefix, "prefix", "",
		"Prefix for the names of published items",
	)
	f.StringVar(
		&c.flagSeparator, "separator", "",
		`Separator between the prefix and the file name (default: " -- ")`,
	)
	f.BoolVar(
		&c.flagCaseInsensitive, "case-insensitive", false,
		"Match existing items by name regardless of case",
	)
	f.BoolVar(
		&c.flagChangedOnly, "changed-only", false,
		"Skip the deployment unless a file changed in the latest git commit",
	)
	f.BoolVar(
		&c.flagOpen, "open", false,
		"Open each published report in the browser",
	)
	f.Var(
		c.flagParams, "param",
		"Dataset parameter as name=value (repeatable)",
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
	dc := cfg.Deploy

	datasetFile, reportFiles := dc.Dataset, dc.Reports
	if f.NArg() > 0 {
		datasetFile, reportFiles = f.Arg(0), f.Args()[1:]
	}
	if datasetFile == "" {
		return c.Fail("a dataset file is required (argument or deploy.dataset)")
	}

	workspaceID := c.flagWorkspace
	if workspaceID == "" {
		workspaceID = cfg.WorkspaceID
	}
	if workspaceID == "" {
		return c.Fail("a workspace is required (-workspace or workspace_id)")
	}

	if c.flagChangedOnly || dc.ChangedOnly {
		changed, err := c.anyModified(append([]string{datasetFile}, reportFiles...))
		if err != nil {
			return c.Fail("error checking git history: %v", err)
		}
		if !changed {
			c.UI.Info("No file changed in the latest commit, skipping deployment")
			return 0
		}
	}

	clients, err := c.Clients(cfg)
	if err != nil {
		return c.Fail("%v", err)
	}
	creds, err := c.Credentials(cfg)
	if err != nil {
		return c.Fail("%v", err)
	}
	notifier, err := c.Notifier(cfg)
	if err != nil {
		return c.Fail("error creating notifier: %v", err)
	}

	params := make(map[string]string, len(dc.Parameters)+len(c.flagParams))
	for k, v := range dc.Parameters {
		params[k] = v
	}
	for k, v := range c.flagParams {
		params[k] = v
	}

	prefix := c.flagPrefix
	if prefix == "" {
		prefix = dc.NamePrefix
	}
	separator := c.flagSeparator
	if separator == "" {
		separator = dc.NameSeparator
	}

	req := deploy.Request{
		DatasetFile:  datasetFile,
		ReportFiles:  reportFiles,
		Parameters:   params,
		Credentials:  creds,
		ForceRefresh: c.flagForceRefresh || dc.ForceRefresh,
		Overwrite:    c.flagOverwrite || dc.OverwriteReports,
		Namer:        deploy.PrefixedFileStem{Prefix: prefix, Separator: separator},
		Vars:         map[string]string{"prefix": prefix},
	}
	if c.flagCaseInsensitive || dc.CaseInsensitive {
		req.Matcher = deploy.CaseInsensitiveName{}
	}
	var hooks []deploy.ReportHook
	if c.flagOpen {
		hooks = append(hooks, c.openReport())
	}
	if notifier != nil && cfg.Notify.Reports {
		hooks = append(hooks, notifier.ReportHook())
	}
	if len(hooks) > 0 {
		req.OnReportPublished = deploy.Hooks(hooks...)
	}

	ctx := c.Context
	ws, err := clients.Tenant.Workspace(ctx, workspaceID)
	if err != nil {
		return c.Fail("error loading workspace: %v", err)
	}

	c.UI.Info(fmt.Sprintf("Deploying %s to workspace %q", datasetFile, ws.Name))
	result, err := clients.Deployer.Deploy(ctx, ws, req)
	if result != nil {
		c.report(result)
	}
	if notifier != nil {
		if nerr := notifier.Deployment(ctx, ws.Name, result, err); nerr != nil {
			c.UI.Warn(fmt.Sprintf("Could not send deployment notification: %v", nerr))
		}
	}
	if err != nil {
		return c.Fail("error deploying: %v", err)
	}

	return 0
}

func (c *Command) anyModified(files []string) (bool, error) {
	modified := c.FileModified
	if modified == nil {
		modified = gitchange.FileModified
	}
	for _, file := range files {
		ok, err := modified(file)
		if err != nil {
			return false, err
		}
		if ok {
			c.Log.Debug("file changed in latest commit", "file", file)
			return true, nil
		}
	}
	return false, nil
}

func (c *Command) openReport() deploy.ReportHook {
	open := c.OpenURL
	if open == nil {
		open = browser.OpenURL
	}
	return deploy.ReportHookFunc(func(_ context.Context, r powerbi.Report, _ map[string]string) error {
		if r.WebURL == "" {
			return fmt.Errorf("report %q has no web URL", r.Name)
		}
		return open(r.WebURL)
	})
}

func (c *Command) report(result *deploy.Result) {
	action := "Reused"
	if result.Published {
		action = "Published"
	}
	c.UI.Output(fmt.Sprintf("%s dataset %q (%s)", action, result.Dataset.Name, result.Dataset.ID))
	if result.Refreshed {
		c.UI.Output("Dataset refreshed")
	}
	for _, r := range result.Reports {
		c.UI.Output(fmt.Sprintf("Published report %q (%s)", r.Name, r.ID))
	}
	for _, r := range result.DeletedReports {
		c.UI.Output(fmt.Sprintf("Deleted report %q (%s)", r.Name, r.ID))
	}
	for _, d := range result.DeletedDatasets {
		c.UI.Output(fmt.Sprintf("Deleted dataset %q (%s)", d.Name, d.ID))
	}
}
