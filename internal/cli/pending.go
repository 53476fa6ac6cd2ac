// internal/cli/pending.go
package cli

import (
	"fmt"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/models"

	"github.com/spf13/cobra"
)

type pendingOutput struct {
	Pending []models.PendingPayment `json:"pending"`
	Count   int                     `json:"count"`
}

func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pending",
		Short:         "List provider-confirmed payments nobody completed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReconciler(cmd.Context(), rootOpts, func(r Reconciler) error {
				rows, err := r.ListUnresolvedPending(cmd.Context())
				if err != nil {
					return NewExitError(ExitFailure, "listing pending payments: "+apperrors.UserMessage(err))
				}
				if rows == nil {
					rows = []models.PendingPayment{}
				}
				return printPending(newPrinter(rootOpts, cmd.OutOrStdout()), rows)
			})
		},
	}
}

func printPending(p *printer, rows []models.PendingPayment) error {
	if p.isJSON() {
		return p.writeJSON(pendingOutput{Pending: rows, Count: len(rows)})
	}
	if len(rows) == 0 {
		fmt.Fprintln(p.out, "No unresolved pending payments.")
		return nil
	}

	table := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		table = append(table, []interface{}{
			r.ProviderReference, r.Provider, dash(r.BuyerEmail), r.ItemID,
			r.AmountPaid, r.Currency, r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	p.table("REFERENCE\tPROVIDER\tEMAIL\tITEM\tAMOUNT\tCREATED", table, "%s\t%s\t%s\t%d\t%.2f %s\t%s\n")
	fmt.Fprintf(p.out, "\n%d unresolved\n", len(rows))
	return nil
}
