package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recur/internal/engine"
	"github.com/roach88/recur/internal/model"
)

// StreakOptions holds flags for the streak command.
type StreakOptions struct {
	*RootOptions
	Recompute bool
}

// StreakResult is a habit's streak as printed by the CLI.
type StreakResult struct {
	ID            string `json:"id"`
	Current       int    `json:"current"`
	Longest       int    `json:"longest"`
	Effective     int    `json:"effective"`
	Intact        bool   `json:"intact"`
	LastCompleted string `json:"last_completed,omitempty"`
}

// WriteText renders the streak on one line, flagging a broken run.
func (r StreakResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s: %d day streak (longest %d)", r.ID, r.Effective, r.Longest)
	if !r.Intact && r.Current > 0 {
		fmt.Fprintf(w, ", broken after %d", r.Current)
	}
	if r.LastCompleted != "" {
		fmt.Fprintf(w, ", last completed %s", r.LastCompleted)
	}
	fmt.Fprintln(w)
	return nil
}

// NewStreakCommand creates the streak command.
func NewStreakCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreakOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "streak <habit-id>",
		Short: "Show a habit's streak as of today",
		Long: `Show a habit's current and longest streak as of today.

The stored streak is updated on every completion. --recompute rebuilds it
from the completion and skip history first and saves the result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreak(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Recompute, "recompute", false, "rebuild the streak from history")

	return cmd
}

func runStreak(opts *StreakOptions, cmd *cobra.Command, id string) error {
	out := opts.formatter(cmd)

	sess, err := openSession(cmd.Context(), opts.RootOptions)
	if err != nil {
		return out.Fail(GetExitCode(err), CodeDatabase, "failed to open session", err)
	}
	defer sess.Close()

	report, err := sess.engine.Streak(cmd.Context(), id, opts.Recompute)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return out.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no habit %q", id), err)
	case engine.IsWrongKind(err):
		return out.Fail(ExitFailure, CodeAction, fmt.Sprintf("%q is not a habit", id), err)
	case err != nil:
		return out.Fail(ExitFailure, CodeDatabase, "failed to read streak", err)
	}

	result := StreakResult{
		ID:        report.ItemID,
		Current:   report.State.Current,
		Longest:   report.State.Longest,
		Effective: report.Effective,
		Intact:    report.Intact,
	}
	if report.State.LastCompleted != nil {
		result.LastCompleted = report.State.LastCompleted.String()
	}
	return out.Success(result)
}
