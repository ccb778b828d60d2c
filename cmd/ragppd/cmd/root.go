// Package cmd provides the CLI commands for ragppd.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// Exit codes returned by ragppd subcommands.
const (
	ExitOK                 = 0
	ExitGeneric            = 1
	ExitConfigError        = 2
	ExitSnapshotLoadFailed = 3
	ExitAddressInUse       = 4
)

// exitError pairs an error with the process exit code it should produce.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// ExitCodeFor extracts the process exit code carried by err, defaulting to
// ExitGeneric for an unclassified error.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitGeneric
}

// NewRootCmd creates the root command for the ragppd daemon.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ragppd",
		Short:         "RAG++ retrieval-augmented answer core",
		Long:          "ragppd serves the RAG++ core's Query, Index, and Admin APIs over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config-dir", ".", "directory to look for ragpp.yaml in")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
