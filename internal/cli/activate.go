// internal/cli/activate.go
package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"entitlement-workers/internal/activation"
	apperrors "entitlement-workers/internal/common/errors"

	"github.com/spf13/cobra"
)

type activateOutput struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	SubjectID int64  `json:"subjectId"`
	ItemID    int64  `json:"itemId"`
	Username  string `json:"username"`
	Secret    string `json:"secret"`
	Host      string `json:"host,omitempty"`
	Tier      string `json:"tier"`
	Degraded  bool   `json:"degraded"`
}

func NewActivateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		email  string
		itemID int64
	)

	cmd := &cobra.Command{
		Use:   "activate <reference>",
		Short: "Activate one payment by its provider reference",
		Long: `Verify a payment with its provider and grant the purchased item to the
account owning the buyer e-mail, creating the account if needed.

--email only fills in when the provider has no buyer e-mail on record.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reference := strings.TrimSpace(args[0])
			if reference == "" {
				return NewExitError(ExitCommandError, "reference must not be blank")
			}
			return withReconciler(cmd.Context(), rootOpts, func(r Reconciler) error {
				result, err := r.ActivateByReference(cmd.Context(), reference, activation.RescueOptions{
					EmailOverride: strings.TrimSpace(email),
					ItemIDHint:    itemID,
					Source:        cliSource,
				})
				if err != nil {
					stdErr := apperrors.AsStandardError(err)
					return NewExitError(ExitFailure, fmt.Sprintf("activation failed [%s]: %s", stdErr.Code, apperrors.UserMessage(err)))
				}
				return printActivation(newPrinter(rootOpts, cmd.OutOrStdout()), reference, result)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "buyer e-mail, used only when the provider has none")
	cmd.Flags().Int64Var(&itemID, "item", 0, "item id for PayPal orders that carry none")

	return cmd
}

func printActivation(p *printer, reference string, result *activation.Result) error {
	status := "activated"
	if !result.Created {
		status = "already active"
	}
	out := activateOutput{
		Reference: reference,
		Status:    status,
		SubjectID: result.SubjectID,
		ItemID:    result.Entitlement.ItemID,
		Username:  result.Credential.Username,
		Secret:    result.Credential.Secret,
		Host:      result.Credential.Host,
		Tier:      string(result.Credential.Tier),
		Degraded:  result.Degraded,
	}
	if p.isJSON() {
		return p.writeJSON(out)
	}

	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Status:\t%s\n", out.Status)
	fmt.Fprintf(tw, "Subject:\t%d\n", out.SubjectID)
	fmt.Fprintf(tw, "Item:\t%d\n", out.ItemID)
	fmt.Fprintf(tw, "Username:\t%s\n", out.Username)
	fmt.Fprintf(tw, "Secret:\t%s\n", out.Secret)
	fmt.Fprintf(tw, "Host:\t%s\n", dash(out.Host))
	fmt.Fprintf(tw, "Tier:\t%s\n", out.Tier)
	tw.Flush()

	if out.Degraded {
		fmt.Fprintln(p.out, "WARNING: placeholder credential issued, storage must be provisioned manually.")
	}
	return nil
}
