// Package base holds what every pbi command shares: the UI, the logger, the
// flag set and the construction of API clients from configuration.
package base

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pbi/internal/config"
)

// ConfigEnvVar names the configuration file when -config is not given.
const ConfigEnvVar = "PBI_CONFIG"

// Command is embedded by every command.
type Command struct {
	Log hclog.Logger
	UI  cli.Ui

	// Context is cancelled when the process is asked to stop.
	Context context.Context

	// FS is where PBIX files are read and rewritten.
	FS afero.Fs

	// RetryDelay is the initial backoff of retried API requests.
	RetryDelay time.Duration

	flagConfig string
}

// New creates a Command.
func New(ctx context.Context, log hclog.Logger, ui cli.Ui) *Command {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Command{
		Log:     log,
		UI:      ui,
		Context: ctx,
		FS:      afero.NewOsFs(),

		RetryDelay: time.Second,
	}
}

// ConfigFlags registers the -config flag on f.
func (c *Command) ConfigFlags(f *FlagSet) {
	f.StringVar(
		&c.flagConfig, "config", "",
		"["+ConfigEnvVar+"] Path to the HCL configuration file (default: pbi.hcl)",
	)
}

// ConfigPath returns the configuration file named by -config, then
// PBI_CONFIG, then the default file name.
func (c *Command) ConfigPath() string {
	if c.flagConfig != "" {
		return c.flagConfig
	}
	if val, ok := os.LookupEnv(ConfigEnvVar); ok && val != "" {
		return val
	}
	return config.DefaultFile
}

// Fail reports err on the UI and returns the exit code of a failed command.
func (c *Command) Fail(format string, args ...interface{}) int {
	c.UI.Error(fmt.Sprintf(format, args...))
	return 1
}

// FlagSet wraps a flag.FlagSet to render usage in the command's help text.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet wraps f. Output is discarded; parse errors are returned to
// the command.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	f.SetOutput(io.Discard)
	return &FlagSet{FlagSet: f}
}

// Help renders the flags, sorted by name.
func (f *FlagSet) Help() string {
	var flags []*flag.Flag
	f.VisitAll(func(fl *flag.Flag) {
		flags = append(flags, fl)
	})
	if len(flags) == 0 {
		return ""
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })

	var b strings.Builder
	b.WriteString("\n\nOptions:\n")
	for _, fl := range flags {
		fmt.Fprintf(&b, "\n  -%s", fl.Name)
		if fl.DefValue != "" && fl.DefValue != "false" {
			fmt.Fprintf(&b, "=%s", fl.DefValue)
		}
		fmt.Fprintf(&b, "\n      %s\n", fl.Usage)
	}
	return b.String()
}

// KeyValueFlag collects repeated key=value flags.
type KeyValueFlag map[string]string

func (f KeyValueFlag) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + f[k]
	}
	return strings.Join(pairs, ",")
}

func (f KeyValueFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	f[k] = v
	return nil
}
