package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recur/internal/model"
	"github.com/roach88/recur/internal/store"
)

// ItemView is the listed form of an item.
type ItemView struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Parent       string `json:"parent,omitempty"`
	Rule         string `json:"rule,omitempty"`
	Due          string `json:"due,omitempty"`
	Occurrence   int    `json:"occurrence"`
	Completed    bool   `json:"completed"`
	SnoozedUntil string `json:"snoozed_until,omitempty"`
	Streak       int    `json:"streak,omitempty"`
}

// ItemsResult lists items.
type ItemsResult struct {
	Items []ItemView `json:"items"`
}

// WriteText renders one item per line.
func (r ItemsResult) WriteText(w io.Writer) error {
	if len(r.Items) == 0 {
		fmt.Fprintln(w, "No items")
		return nil
	}
	for _, it := range r.Items {
		mark := " "
		if it.Completed {
			mark = "x"
		}
		fmt.Fprintf(w, "[%s] %-6s %s  %s", mark, it.Kind, it.ID, it.Title)
		if it.Due != "" {
			fmt.Fprintf(w, "  due %s", it.Due)
		}
		if it.Rule != "" {
			fmt.Fprintf(w, "  (%s, #%d)", it.Rule, it.Occurrence)
		}
		if it.Streak > 0 {
			fmt.Fprintf(w, "  streak %d", it.Streak)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func itemView(it model.Item) ItemView {
	v := ItemView{
		ID:         it.ID,
		Kind:       string(it.Kind),
		Title:      it.Title,
		Parent:     it.ParentID,
		Occurrence: it.OccurrenceIndex,
		Completed:  it.Completed(),
		Streak:     it.Streak.Current,
	}
	if it.Rule != nil {
		v.Rule = it.Rule.String()
	}
	if it.DueDate != nil {
		v.Due = it.DueDate.String()
	}
	if it.SnoozedUntil != nil {
		v.SnoozedUntil = it.SnoozedUntil.Format(time.RFC3339)
	}
	return v
}

// ItemsOptions holds flags for the items command.
type ItemsOptions struct {
	*RootOptions
	Kind string
	Open bool
}

// NewItemsCommand creates the items command.
func NewItemsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ItemsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List stored habits and tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItems(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only list this kind (habit|task)")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "only list items that are not completed")

	return cmd
}

func runItems(opts *ItemsOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	filter := store.ItemFilter{Kind: model.Kind(opts.Kind), OpenOnly: opts.Open}
	if opts.Kind != "" && !filter.Kind.Valid() {
		return out.Fail(ExitCommandError, CodeConfig, fmt.Sprintf("invalid --kind %q", opts.Kind), nil)
	}

	sess, err := openSession(cmd.Context(), opts.RootOptions)
	if err != nil {
		return out.Fail(GetExitCode(err), CodeDatabase, "failed to open session", err)
	}
	defer sess.Close()

	items, err := sess.engine.Items(cmd.Context(), filter)
	if err != nil {
		return out.Fail(ExitFailure, CodeDatabase, "failed to list items", err)
	}
	result := ItemsResult{Items: make([]ItemView, 0, len(items))}
	for _, it := range items {
		result.Items = append(result.Items, itemView(it))
	}
	return out.Success(result)
}

// PendingView is the listed form of a pending recurrence.
type PendingView struct {
	ID         string `json:"id"`
	Source     string `json:"source,omitempty"`
	Title      string `json:"title"`
	Scheduled  string `json:"scheduled"`
	Occurrence int    `json:"occurrence"`
}

// PendingResult lists pending recurrences.
type PendingResult struct {
	Pending []PendingView `json:"pending"`
}

// WriteText renders one record per line.
func (r PendingResult) WriteText(w io.Writer) error {
	if len(r.Pending) == 0 {
		fmt.Fprintln(w, "No pending recurrences")
		return nil
	}
	for _, p := range r.Pending {
		fmt.Fprintf(w, "%s  %s  #%d  %s\n", p.Scheduled, p.ID, p.Occurrence, p.Title)
	}
	return nil
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List scheduled recurrences not yet materialized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			sess, err := openSession(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail(GetExitCode(err), CodeDatabase, "failed to open session", err)
			}
			defer sess.Close()

			pending, err := sess.engine.Pending(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, CodeDatabase, "failed to list pending recurrences", err)
			}
			result := PendingResult{Pending: make([]PendingView, 0, len(pending))}
			for _, p := range pending {
				result.Pending = append(result.Pending, PendingView{
					ID:         p.ID,
					Source:     p.SourceItemID,
					Title:      p.Snapshot.Title,
					Scheduled:  p.ScheduledDate.String(),
					Occurrence: p.OccurrenceIndex,
				})
			}
			return out.Success(result)
		},
	}
}
