package cli

import (
	"fmt"

	"github.com/ottoengine/ottoengine/internal/persistence/rulefile"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <rules-dir>",
	Short: "load every rule file in a directory and report parse errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := rulefile.New(args[0])
		rules, errs := repo.List()
		for _, loadErr := range errs {
			fmt.Fprintln(cmd.ErrOrStderr(), loadErr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) loaded, %d error(s)\n", len(rules), len(errs))
		if len(errs) > 0 {
			return fmt.Errorf("validate: %d rule file(s) failed to load", len(errs))
		}
		return nil
	},
}
