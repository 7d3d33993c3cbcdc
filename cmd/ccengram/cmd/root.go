// Package cmd implements the ccengram CLI: daemon lifecycle, search,
// memory management, watcher control, and the hook entry point.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ccengram/ccengram/internal/config"
	"github.com/ccengram/ccengram/internal/daemon"
	"github.com/ccengram/ccengram/pkg/version"
)

// Exit codes per the CLI contract.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUnreachable = 2
)

var (
	flagCwd  string
	flagJSON bool
)

var rootCmd = &cobra.Command{
	Use:           "ccengram",
	Short:         "Per-project semantic memory and code search for AI coding assistants",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCwd, "cwd", "", "project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "raw JSON output")

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		if exitErr, ok := err.(*exitCodeError); ok {
			return exitErr.code
		}
		return ExitError
	}
	return ExitOK
}

type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// unreachable wraps a connection failure with exit code 2.
func unreachable(err error) error {
	return &exitCodeError{code: ExitUnreachable, err: fmt.Errorf("daemon unreachable: %w", err)}
}

// newClient builds the daemon client from the standard paths.
func newClient() *daemon.Client {
	dataRoot := config.DataRoot()
	port := config.DefaultPort
	if cfg, err := config.Load(); err == nil {
		port = cfg.Server.Port
	}
	return daemon.NewClient(config.SocketPath(dataRoot), port, 30*time.Second)
}

// cwdParams builds the common params map carrying --cwd.
func cwdParams() map[string]any {
	p := map[string]any{}
	if flagCwd != "" {
		p["cwd"] = flagCwd
	}
	return p
}
