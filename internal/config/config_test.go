package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantID    = "00000000-0000-0000-0000-000000000001"
	clientID    = "00000000-0000-0000-0000-000000000002"
	workspaceID = "00000000-0000-0000-0000-000000000003"
)

const minimal = `
tenant_id     = "` + tenantID + `"
client_id     = "` + clientID + `"
client_secret = "secret"
`

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse("pbi.hcl", []byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultLoginURL, cfg.API.LoginURL)
	assert.Equal(t, time.Minute, cfg.API.TimeoutDuration())
	require.NotNil(t, cfg.API.MaxRetries)
	assert.Equal(t, DefaultMaxRetries, *cfg.API.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Refresh.PollIntervalDuration())
	assert.Equal(t, DefaultRefreshRetries, cfg.Refresh.Retries)
	assert.Equal(t, 10*time.Second, cfg.Import.PollIntervalDuration())
	assert.Equal(t, DefaultNameSeparator, cfg.Deploy.NameSeparator)
	assert.Nil(t, cfg.Capacity)
	assert.Empty(t, cfg.Credentials)
}

func TestParseFull(t *testing.T) {
	t.Setenv("PBI_TEST_SECRET", "from-env")
	t.Setenv("PBI_TEST_DB_PASSWORD", "hunter2")

	src := `
tenant_id           = "` + tenantID + `"
client_id           = "` + clientID + `"
client_secret       = env("PBI_TEST_SECRET")
workspace_id        = "` + workspaceID + `"
config_workspace_id = "` + workspaceID + `"

api {
  base_url    = "http://localhost:8080/v1.0/myorg"
  timeout     = "5s"
  max_retries = 0
}

refresh {
  poll_interval = "2m"
  retries       = -1
}

credential "db.example.com" {
  username = "reader"
  password = env("PBI_TEST_DB_PASSWORD")
}

credential "api.example.com" {
  oauth {
    tenant_id     = "` + tenantID + `"
    client_id     = "` + clientID + `"
    client_secret = env("PBI_TEST_SECRET")
    scope         = "https://api.example.com/.default"
  }
}

deploy {
  dataset           = "Model.pbix"
  reports           = ["R1.pbix", "R2.pbix"]
  parameters        = { schema = "dbo" }
  overwrite_reports = true
  name_prefix       = "dev"
  case_insensitive  = true
}

capacity {
  subscription_id = "` + tenantID + `"
  resource_group  = "analytics"
  name            = "pbiembedded"
}

notify {
  topic   = "pbi-deploys"
  reports = true
}
`
	cfg, err := Parse("pbi.hcl", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ClientSecret)
	assert.Equal(t, workspaceID, cfg.WorkspaceID)
	assert.Equal(t, "http://localhost:8080/v1.0/myorg", cfg.API.BaseURL)
	assert.Equal(t, DefaultLoginURL, cfg.API.LoginURL)
	assert.Equal(t, 5*time.Second, cfg.API.TimeoutDuration())
	require.NotNil(t, cfg.API.MaxRetries)
	assert.Equal(t, 0, *cfg.API.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Refresh.PollIntervalDuration())
	assert.Equal(t, -1, cfg.Refresh.Retries)

	require.Len(t, cfg.Credentials, 2)
	assert.Equal(t, "db.example.com", cfg.Credentials[0].Endpoint)
	assert.Equal(t, "hunter2", cfg.Credentials[0].Password)
	require.NotNil(t, cfg.Credentials[1].OAuth)
	assert.Equal(t, "from-env", cfg.Credentials[1].OAuth.ClientSecret)

	assert.Equal(t, "Model.pbix", cfg.Deploy.Dataset)
	assert.Equal(t, []string{"R1.pbix", "R2.pbix"}, cfg.Deploy.Reports)
	assert.Equal(t, map[string]string{"schema": "dbo"}, cfg.Deploy.Parameters)
	assert.True(t, cfg.Deploy.OverwriteReports)
	assert.True(t, cfg.Deploy.CaseInsensitive)
	assert.Equal(t, "dev", cfg.Deploy.NamePrefix)

	require.NotNil(t, cfg.Capacity)
	assert.Equal(t, "pbiembedded", cfg.Capacity.Name)

	require.NotNil(t, cfg.Notify)
	assert.Equal(t, "pbi-deploys", cfg.Notify.Topic)
	assert.True(t, cfg.Notify.Reports)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "MissingSecret",
			src:  `tenant_id = "` + tenantID + `"` + "\n" + `client_id = "` + clientID + `"` + "\n" + `client_secret = env("PBI_TEST_UNSET")`,
			want: "ClientSecret",
		},
		{
			name: "TenantNotGUID",
			src:  `tenant_id = "contoso"` + "\n" + `client_id = "` + clientID + `"` + "\n" + `client_secret = "s"`,
			want: "must be a GUID",
		},
		{
			name: "BadTimeout",
			src:  minimal + `api { timeout = "soon" }`,
			want: "Timeout",
		},
		{
			name: "BadBaseURL",
			src:  minimal + `api { base_url = "api.powerbi.com" }`,
			want: "must be an http or https URL",
		},
		{
			name: "CredentialWithoutSecret",
			src:  minimal + `credential "db.example.com" {}`,
			want: `credential "db.example.com"`,
		},
		{
			name: "CredentialWithBoth",
			src: minimal + `credential "db.example.com" {
  username = "u"
  oauth {
    tenant_id     = "` + tenantID + `"
    client_id     = "` + clientID + `"
    client_secret = "s"
    scope         = "x"
  }
}`,
			want: "not both",
		},
		{
			name: "IncompleteCapacity",
			src: minimal + `capacity {
  subscription_id = "` + tenantID + `"
  resource_group  = ""
  name            = "cap"
}`,
			want: "ResourceGroup",
		},
		{
			name: "NotifyBadServer",
			src:  minimal + `notify {
  server_url = "ntfy"
  topic      = "t"
}`,
			want: "ServerURL",
		},
		{
			name: "Syntax",
			src:  minimal + `deploy {`,
			want: "failed to parse",
		},
		{
			name: "UnknownAttribute",
			src:  minimal + `colour = "blue"`,
			want: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("PBI_TEST_UNSET")
			_, err := Parse("pbi.hcl", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pbi.hcl")
		require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, tenantID, cfg.TenantID)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := Load("")
		require.Error(t, err)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultNameSeparator, cfg.Deploy.NameSeparator)
	assert.Error(t, cfg.Validate())
}
