// internal/cli/validate.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type validateOutput struct {
	Valid      bool   `json:"valid"`
	Activities int    `json:"activities"`
	Error      string `json:"error,omitempty"`
}

// NewValidateCommand checks the embedded activity registry: unique task types
// and compilable input and output schemas.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate",
		Short:         "Validate the activity registry",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(rootOpts, cmd.OutOrStdout())

			reg, err := rootOpts.loadRegistry()
			if err == nil {
				err = reg.Validate()
			}
			if err != nil {
				if p.isJSON() {
					_ = p.writeJSON(validateOutput{Valid: false, Error: err.Error()})
				}
				return WrapExitError(ExitFailure, "registry validation failed", err)
			}

			if p.isJSON() {
				return p.writeJSON(validateOutput{Valid: true, Activities: len(reg.Activities)})
			}
			fmt.Fprintf(p.out, "Registry validation passed (%d activities).\n", len(reg.Activities))
			return nil
		},
	}
}
