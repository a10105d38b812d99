package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SweepResult lists items materialized by a sweep.
type SweepResult struct {
	Created []string `json:"created"`
}

// WriteText renders the created ids.
func (r SweepResult) WriteText(w io.Writer) error {
	if len(r.Created) == 0 {
		fmt.Fprintln(w, "Nothing due")
		return nil
	}
	fmt.Fprintf(w, "Created %d items\n", len(r.Created))
	for _, id := range r.Created {
		fmt.Fprintf(w, "  + %s\n", id)
	}
	return nil
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Materialize pending recurrences that are due",
		Long: `Turn every pending recurrence scheduled on or before today into a live item.

"recur serve" runs this on a schedule; use this command for a one-off run
from cron or a shell.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			sess, err := openSession(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail(GetExitCode(err), CodeDatabase, "failed to open session", err)
			}
			defer sess.Close()

			created, err := sess.engine.Sweep(cmd.Context())
			result := SweepResult{Created: created}
			if result.Created == nil {
				result.Created = []string{}
			}
			if err != nil {
				// A partial sweep still reports what it created.
				if outErr := out.Success(result); outErr != nil {
					return outErr
				}
				return WrapExitError(ExitFailure, "sweep incomplete", err)
			}
			return out.Success(result)
		},
	}
}
