package cmd

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
	"github.com/hashicorp-forge/pbi/internal/cmd/commands/branches"
	"github.com/hashicorp-forge/pbi/internal/cmd/commands/capacity"
	"github.com/hashicorp-forge/pbi/internal/cmd/commands/deploy"
	"github.com/hashicorp-forge/pbi/internal/cmd/commands/refresh"
	"github.com/hashicorp-forge/pbi/internal/cmd/commands/version"
	"github.com/hashicorp-forge/pbi/internal/cmd/commands/workspace"
)

// Commands is the mapping of all available pbi commands.
var Commands map[string]cli.CommandFactory

func initCommands(ctx context.Context, log hclog.Logger, ui cli.Ui) {
	b := base.New(ctx, log, ui)

	Commands = map[string]cli.CommandFactory{
		"branches": func() (cli.Command, error) {
			return &branches.Command{Command: b}, nil
		},
		"capacity": func() (cli.Command, error) {
			return &capacity.Command{Command: b}, nil
		},
		"capacity scale": func() (cli.Command, error) {
			return &capacity.ScaleCommand{Command: b}, nil
		},
		"capacity skus": func() (cli.Command, error) {
			return &capacity.SKUsCommand{Command: b}, nil
		},
		"deploy": func() (cli.Command, error) {
			return &deploy.Command{Command: b}, nil
		},
		"refresh": func() (cli.Command, error) {
			return &refresh.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
		"workspace": func() (cli.Command, error) {
			return &workspace.Command{Command: b}, nil
		},
		"workspace create": func() (cli.Command, error) {
			return &workspace.CreateCommand{Command: b}, nil
		},
		"workspace grant": func() (cli.Command, error) {
			return &workspace.GrantCommand{Command: b}, nil
		},
		"workspace list": func() (cli.Command, error) {
			return &workspace.ListCommand{Command: b}, nil
		},
		"workspace users": func() (cli.Command, error) {
			return &workspace.UsersCommand{Command: b}, nil
		},
	}
}
