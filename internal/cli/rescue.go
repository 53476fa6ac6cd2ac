// internal/cli/rescue.go
package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"entitlement-workers/internal/activation"

	"github.com/spf13/cobra"
)

type rescueOutput struct {
	Results   []activation.RescueResult `json:"results"`
	Activated int                       `json:"activated"`
	Skipped   int                       `json:"skipped"`
	Failed    int                       `json:"failed"`
}

func NewRescueCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		file      string
		overrides string
	)

	cmd := &cobra.Command{
		Use:   "rescue [reference...]",
		Short: "Activate a batch of references independently",
		Long: `Run activation for every reference given as an argument or read from
--file (one per line, '-' for stdin, '#' starts a comment). One failing
reference never stops the others.

--overrides names a CSV of "reference,email" rows supplying buyer e-mails
the provider does not have.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := collectReferences(file, args, cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "reading references", err)
			}
			if len(refs) == 0 {
				return NewExitError(ExitCommandError, "no references given, pass them as arguments or with --file")
			}
			emailOverrides, err := readOverrides(overrides)
			if err != nil {
				return WrapExitError(ExitCommandError, "reading overrides", err)
			}

			return withReconciler(cmd.Context(), rootOpts, func(r Reconciler) error {
				results := r.BulkRescue(cmd.Context(), refs, emailOverrides)
				activated, skipped, failed := activation.Tally(results)
				if err := printRescue(newPrinter(rootOpts, cmd.OutOrStdout()), rescueOutput{
					Results:   results,
					Activated: activated,
					Skipped:   skipped,
					Failed:    failed,
				}); err != nil {
					return err
				}
				if failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d of %d references failed", failed, len(results)))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one reference per line ('-' for stdin)")
	cmd.Flags().StringVar(&overrides, "overrides", "", "CSV file of reference,email overrides")

	return cmd
}

func printRescue(p *printer, out rescueOutput) error {
	if p.isJSON() {
		return p.writeJSON(out)
	}

	rows := make([][]interface{}, 0, len(out.Results))
	for _, res := range out.Results {
		subject := "-"
		if res.SubjectID > 0 {
			subject = fmt.Sprintf("%d", res.SubjectID)
		}
		rows = append(rows, []interface{}{res.Reference, res.Outcome, subject, dash(res.Username), dash(res.Reason)})
	}
	p.table("REFERENCE\tOUTCOME\tSUBJECT\tUSERNAME\tREASON", rows, "%s\t%s\t%s\t%s\t%s\n")
	fmt.Fprintf(p.out, "\n%d activated, %d already active, %d failed\n", out.Activated, out.Skipped, out.Failed)
	return nil
}

// collectReferences merges references from a file with those given as arguments.
func collectReferences(path string, args []string, stdin io.Reader) ([]string, error) {
	var refs []string
	if path != "" {
		var data []byte
		var err error
		if path == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			refs = append(refs, line)
		}
	}
	for _, arg := range args {
		for _, ref := range strings.Split(arg, ",") {
			if ref = strings.TrimSpace(ref); ref != "" {
				refs = append(refs, ref)
			}
		}
	}
	return refs, nil
}

func readOverrides(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseOverrides(f)
}

// parseOverrides reads "reference,email" rows. A leading header row is skipped.
func parseOverrides(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	overrides := map[string]string{}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ref, email := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if line == 1 && strings.EqualFold(ref, "reference") {
			continue
		}
		if ref == "" || email == "" {
			return nil, fmt.Errorf("line %d: reference and email are both required", line)
		}
		overrides[ref] = email
	}
	return overrides, nil
}
