// Package cmdtest runs pbi commands against a fake Power BI service.
package cmdtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pbi/internal/cmd/base"
	"github.com/hashicorp-forge/pbi/pkg/deploy"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
	"github.com/hashicorp-forge/pbi/pkg/powerbi/powerbitest"
)

// ClientID is the service principal written to the configuration file.
const ClientID = "00000000-0000-0000-0000-0000000c11e7"

// Env is a fake service with a config workspace holding the deployment
// aids, a target workspace and a configuration file pointing at both.
type Env struct {
	Server *powerbitest.Server
	UI     *cli.MockUi
	FS     afero.Fs

	ConfigWorkspace powerbi.Workspace
	Target          powerbi.Workspace
	Aid             powerbi.Dataset

	// ConfigPath is the configuration file passed with -config.
	ConfigPath string

	t testing.TB
}

// New creates an Env. extra is appended to the configuration file.
func New(t testing.TB, extra string) *Env {
	t.Helper()

	srv := powerbitest.NewServer(t)
	e := &Env{
		Server: srv,
		UI:     cli.NewMockUi(),
		FS:     afero.NewMemMapFs(),
		t:      t,
	}

	e.ConfigWorkspace = srv.AddWorkspace("Config")
	e.Aid = srv.AddDataset(e.ConfigWorkspace.ID, powerbi.Dataset{Name: deploy.DeploymentAidName})
	srv.AddReport(e.ConfigWorkspace.ID,
		powerbi.Report{Name: deploy.DeploymentAidName, DatasetID: e.Aid.ID},
		powerbitest.PBIX(t, map[string]string{"Connections": powerbitest.LiveConnection(e.Aid.ID)}))
	e.Target = srv.AddWorkspace("Sales")

	e.ConfigPath = filepath.Join(t.TempDir(), "pbi.hcl")
	src := fmt.Sprintf(`
tenant_id           = %q
client_id           = %q
client_secret       = "secret"
workspace_id        = %q
config_workspace_id = %q

api {
  base_url    = %q
  login_url   = %q
  max_retries = 0
}

refresh {
  poll_interval = "1ms"
}

import {
  poll_interval = "1ms"
}
%s
`, powerbitest.TenantID, ClientID, e.Target.ID, e.ConfigWorkspace.ID,
		srv.APIURL(), srv.LoginURL(), extra)
	if err := os.WriteFile(e.ConfigPath, []byte(src), 0o600); err != nil {
		t.Fatalf("cmdtest: write config: %v", err)
	}

	return e
}

// Base returns the command base every command under test embeds.
func (e *Env) Base() *base.Command {
	b := base.New(context.Background(), hclog.NewNullLogger(), e.UI)
	b.FS = e.FS
	b.RetryDelay = time.Millisecond
	return b
}

// Args prepends -config to args.
func (e *Env) Args(args ...string) []string {
	return append([]string{"-config", e.ConfigPath}, args...)
}

// WriteModel writes a dataset PBIX file.
func (e *Env) WriteModel(path string) {
	e.t.Helper()
	data := powerbitest.PBIX(e.t, map[string]string{"DataModel": "model"})
	if err := afero.WriteFile(e.FS, path, data, 0o644); err != nil {
		e.t.Fatalf("cmdtest: write %s: %v", path, err)
	}
}

// WriteReport writes a thin report PBIX file bound to a development
// dataset.
func (e *Env) WriteReport(path string) {
	e.t.Helper()
	data := powerbitest.PBIX(e.t, map[string]string{
		"Connections":   powerbitest.LiveConnection("dataset-used-in-development"),
		"Report/Layout": `{"sections":[]}`,
	})
	if err := afero.WriteFile(e.FS, path, data, 0o644); err != nil {
		e.t.Fatalf("cmdtest: write %s: %v", path, err)
	}
}

// Output returns what the command wrote to standard output.
func (e *Env) Output() string {
	return e.UI.OutputWriter.String()
}

// Errors returns what the command wrote to standard error.
func (e *Env) Errors() string {
	return e.UI.ErrorWriter.String()
}
