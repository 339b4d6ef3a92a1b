// Package cli is OttoEngine's command-line entry point: `serve` runs the
// long-lived engine process, `validate` checks a rules directory offline.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ottoengine",
	Short: "OttoEngine - a home-automation rule engine",
	Long: `OttoEngine watches a home-automation assistant's state and event
stream, evaluates YAML-defined automation rules against it, and issues
service calls back through the same connection.`,
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}
