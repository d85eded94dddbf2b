package cmd

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/pbi/internal/version"
)

// LogLevelEnvVar sets the log level (trace, debug, info, warn, error).
const LogLevelEnvVar = "PBI_LOG_LEVEL"

// Main runs the CLI with the given arguments and returns the exit code.
func Main(args []string) int {
	cliName := filepath.Base(args[0])

	args, level := logLevel(args)
	log := hclog.New(&hclog.LoggerOptions{
		Name:   cliName,
		Level:  level,
		Output: os.Stderr,
	})

	if len(args) == 2 &&
		(args[1] == "-version" ||
			args[1] == "-v") {
		args = []string{cliName, "version"}
	}

	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCommands(ctx, log, ui)

	c := &cli.CLI{
		Name:     cliName,
		Args:     args[1:],
		Version:  version.Version,
		Commands: Commands,
	}

	// Run the CLI
	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	return exitCode
}

// logLevel removes a leading -log-level=LEVEL argument and returns the
// level it or PBI_LOG_LEVEL names. The default is info.
func logLevel(args []string) ([]string, hclog.Level) {
	name := os.Getenv(LogLevelEnvVar)

	if len(args) > 1 {
		if v, ok := strings.CutPrefix(args[1], "-log-level="); ok {
			name = v
			args = append([]string{args[0]}, args[2:]...)
		}
	}

	level := hclog.LevelFromString(name)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return args, level
}
