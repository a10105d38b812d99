package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/recur/internal/actionqueue"
	"github.com/roach88/recur/internal/engine"
)

// kindDelivered is the invoke argument for a delivery mark.
const kindDelivered = "delivered"

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Reason string
}

// InvokeResult reports the outcome of one action.
type InvokeResult struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// WriteText renders the outcome on one line.
func (r InvokeResult) WriteText(w io.Writer) error {
	if r.Error != "" {
		fmt.Fprintf(w, "%s %s: %s (%s)\n", r.Kind, r.ID, r.Outcome, r.Error)
		return nil
	}
	fmt.Fprintf(w, "%s %s: %s\n", r.Kind, r.ID, r.Outcome)
	return nil
}

// lastOutcome records the most recent outcome reported by a queue.
type lastOutcome struct {
	mu      sync.Mutex
	outcome actionqueue.Outcome
}

func (l *lastOutcome) Observe(_ string, o actionqueue.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcome = o
}

func (l *lastOutcome) get() actionqueue.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcome
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <kind> <id>",
		Short: "Apply one notification action to an item",
		Long: `Apply one notification action to an item, as if tapped on a reminder.

Kinds: complete_habit, skip_habit, snooze_habit, complete_task, snooze_task,
and delivered (mark the item's reminder as fired).

An id that no longer exists is dropped, not an error. A kind that does not
match the item fails.

Examples:
  recur invoke complete_task water
  recur invoke skip_habit stretch --reason sick
  recur invoke delivered water`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "skip reason (skip_habit only)")

	return cmd
}

func runInvoke(opts *InvokeOptions, cmd *cobra.Command, kindArg, id string) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	var kind actionqueue.Kind
	if kindArg != kindDelivered {
		k, err := actionqueue.ParseKind(kindArg)
		if err != nil {
			return out.Fail(ExitCommandError, CodeAction, "invalid action", err)
		}
		kind = k
	}
	if opts.Reason != "" && kind != actionqueue.KindSkipHabit {
		return out.Fail(ExitCommandError, CodeAction, "--reason only applies to skip_habit", nil)
	}

	sess, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return out.Fail(GetExitCode(err), CodeDatabase, "failed to open session", err)
	}
	defer sess.Close()

	obs := &lastOutcome{}
	queue := actionqueue.New(engine.SystemClock{}, actionqueue.WithObserver(obs))
	if err := queue.OnServicesReady(ctx, sess.engine); err != nil {
		return out.Fail(ExitFailure, CodeAction, "action queue not ready", err)
	}

	if kind == "" {
		err = queue.MarkDelivered(ctx, id)
	} else {
		err = queue.EnqueueOrApply(ctx, actionqueue.Action{
			Kind:       kind,
			EntityID:   id,
			Reason:     opts.Reason,
			ReceivedAt: engine.SystemClock{}.Now(),
		})
	}

	result := InvokeResult{Kind: kindArg, ID: id, Outcome: string(obs.get())}
	if err != nil {
		result.Error = err.Error()
		if outErr := out.Success(result); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "action failed", err)
	}
	return out.Success(result)
}
