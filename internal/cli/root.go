// internal/cli/root.go
package cli

import (
	"context"
	"fmt"

	"entitlement-workers/internal/activation"
	"entitlement-workers/internal/models"
	"entitlement-workers/pkg/registry"

	"github.com/spf13/cobra"
)

// Reconciler is the subset of activation.Reconciler the CLI drives.
type Reconciler interface {
	ActivateByReference(ctx context.Context, reference string, opts activation.RescueOptions) (*activation.Result, error)
	BulkRescue(ctx context.Context, references []string, emailOverrides map[string]string) []activation.RescueResult
	ListUnresolvedPending(ctx context.Context) ([]models.PendingPayment, error)
}

// Connector opens a Reconciler and returns a function releasing it.
type Connector func(ctx context.Context) (Reconciler, func(), error)

// RegistryLoader returns the activity registry checked by "validate".
type RegistryLoader func() (*registry.ActivityRegistry, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	connect      Connector
	loadRegistry RegistryLoader
}

var ValidFormats = []string{"text", "json"}

const cliSource = "reconcile-cli"

// NewRootCommand builds the reconcile CLI. Commands that need the database
// call connect lazily, so "validate" works without one.
func NewRootCommand(connect Connector, loadRegistry RegistryLoader) *cobra.Command {
	opts := &RootOptions{connect: connect, loadRegistry: loadRegistry}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair payments that never turned into entitlements",
		Long: `Operator tooling for the entitlement workers.

Activates payments known only by their provider reference, rescues batches
of references and lists provider-confirmed payments nobody completed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewActivateCommand(opts))
	cmd.AddCommand(NewRescueCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withReconciler connects, runs fn and releases the connection.
func withReconciler(ctx context.Context, opts *RootOptions, fn func(Reconciler) error) error {
	r, release, err := opts.connect(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect failed", err)
	}
	defer release()
	return fn(r)
}
