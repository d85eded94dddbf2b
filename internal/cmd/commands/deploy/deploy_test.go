package deploy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/pbi/internal/cmd/cmdtest"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

func newCommand(e *cmdtest.Env) *Command {
	return &Command{Command: e.Base()}
}

func TestDeployArguments(t *testing.T) {
	e := cmdtest.New(t, "")
	e.WriteModel("Model.pbix")
	e.WriteReport("R1.pbix")

	code := newCommand(e).Run(e.Args("-prefix", "dev", "Model.pbix", "R1.pbix"))
	require.Equal(t, 0, code, e.Errors())

	datasets := e.Server.Datasets(e.Target.ID)
	require.Len(t, datasets, 1)
	assert.Equal(t, "dev -- Model", datasets[0].Name)

	reports := e.Server.Reports(e.Target.ID)
	require.Len(t, reports, 1)
	assert.Equal(t, "dev -- R1", reports[0].Name)
	assert.Equal(t, datasets[0].ID, reports[0].DatasetID)

	out := e.Output()
	assert.Contains(t, out, `Published dataset "dev -- Model"`)
	assert.Contains(t, out, "Dataset refreshed")
	assert.Contains(t, out, `Published report "dev -- R1"`)
}

func TestDeployFromConfigBlock(t *testing.T) {
	e := cmdtest.New(t, `
deploy {
  dataset        = "Model.pbix"
  reports        = ["R1.pbix"]
  parameters     = { schema = "dbo" }
  name_prefix    = "cfg"
  name_separator = "_"
}
`)
	e.WriteModel("Model.pbix")
	e.WriteReport("R1.pbix")

	code := newCommand(e).Run(e.Args("-param", "region=eu"))
	require.Equal(t, 0, code, e.Errors())

	var names []string
	for _, ds := range e.Server.Datasets(e.Target.ID) {
		names = append(names, ds.Name)
	}
	assert.Equal(t, []string{"cfg_Model"}, names)
	require.Len(t, e.Server.Reports(e.Target.ID), 1)
	assert.Equal(t, "cfg_R1", e.Server.Reports(e.Target.ID)[0].Name)
}

func TestDeployReusesRefreshedDataset(t *testing.T) {
	e := cmdtest.New(t, "")
	e.WriteModel("Model.pbix")

	ds := e.Server.AddDataset(e.Target.ID, powerbi.Dataset{Name: "Model"})
	e.Server.SetRefreshHistory(e.Target.ID, ds.ID, powerbi.Refresh{Status: powerbi.RefreshStatusCompleted})

	code := newCommand(e).Run(e.Args("Model.pbix"))
	require.Equal(t, 0, code, e.Errors())

	assert.Contains(t, e.Output(), `Reused dataset "Model"`)
	assert.Equal(t, 0, e.Server.Count(http.MethodPost, "/imports"))
}

func TestDeployOpenReports(t *testing.T) {
	e := cmdtest.New(t, "")
	e.WriteModel("Model.pbix")
	e.WriteReport("R1.pbix")

	var opened []string
	c := newCommand(e)
	c.OpenURL = func(url string) error {
		opened = append(opened, url)
		return nil
	}

	code := c.Run(e.Args("-open", "Model.pbix", "R1.pbix"))
	require.Equal(t, 0, code, e.Errors())

	reports := e.Server.Reports(e.Target.ID)
	require.Len(t, reports, 1)
	assert.Equal(t, []string{reports[0].WebURL}, opened)
}

func TestDeployNotifies(t *testing.T) {
	var mu sync.Mutex
	var titles []string
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		mu.Unlock()
	}))
	t.Cleanup(ntfy.Close)

	e := cmdtest.New(t, fmt.Sprintf(`
notify {
  server_url = %q
  topic      = "deploys"
  reports    = true
}
`, ntfy.URL))
	e.WriteModel("Model.pbix")
	e.WriteReport("R1.pbix")

	code := newCommand(e).Run(e.Args("Model.pbix", "R1.pbix"))
	require.Equal(t, 0, code, e.Errors())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Power BI report published", "Power BI deployment to Sales"}, titles)
}

func TestDeployChangedOnly(t *testing.T) {
	e := cmdtest.New(t, "")
	e.WriteModel("Model.pbix")
	e.WriteReport("R1.pbix")

	t.Run("Unchanged", func(t *testing.T) {
		var checked []string
		c := newCommand(e)
		c.FileModified = func(path string) (bool, error) {
			checked = append(checked, path)
			return false, nil
		}

		code := c.Run(e.Args("-changed-only", "Model.pbix", "R1.pbix"))
		require.Equal(t, 0, code, e.Errors())

		assert.Equal(t, []string{"Model.pbix", "R1.pbix"}, checked)
		assert.Contains(t, e.Output(), "skipping deployment")
		assert.Equal(t, 0, e.Server.Count(http.MethodPost, "/imports"))
	})

	t.Run("ReportChanged", func(t *testing.T) {
		c := newCommand(e)
		c.FileModified = func(path string) (bool, error) {
			return path == "R1.pbix", nil
		}

		code := c.Run(e.Args("-changed-only", "Model.pbix", "R1.pbix"))
		require.Equal(t, 0, code, e.Errors())
		assert.Len(t, e.Server.Reports(e.Target.ID), 1)
	})
}

func TestDeployErrors(t *testing.T) {
	t.Run("NoDataset", func(t *testing.T) {
		e := cmdtest.New(t, "")
		assert.Equal(t, 1, newCommand(e).Run(e.Args()))
		assert.Contains(t, e.Errors(), "a dataset file is required")
	})

	t.Run("MissingConfig", func(t *testing.T) {
		e := cmdtest.New(t, "")
		assert.Equal(t, 1, newCommand(e).Run([]string{"-config", e.ConfigPath + ".missing", "Model.pbix"}))
		assert.Contains(t, e.Errors(), "error loading configuration")
	})

	t.Run("BadParam", func(t *testing.T) {
		e := cmdtest.New(t, "")
		assert.Equal(t, 1, newCommand(e).Run(e.Args("-param", "novalue", "Model.pbix")))
		assert.Contains(t, e.Errors(), "expected key=value")
	})

	t.Run("MissingFile", func(t *testing.T) {
		e := cmdtest.New(t, "")
		assert.Equal(t, 1, newCommand(e).Run(e.Args("Model.pbix")))
		assert.Contains(t, e.Errors(), "error deploying")
	})

	t.Run("UnknownWorkspace", func(t *testing.T) {
		e := cmdtest.New(t, "")
		e.WriteModel("Model.pbix")
		code := newCommand(e).Run(e.Args("-workspace", "00000000-0000-0000-0000-000000000000", "Model.pbix"))
		assert.Equal(t, 1, code)
		assert.Contains(t, e.Errors(), "error loading workspace")
	})
}
