package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recur/internal/calendar"
	"github.com/roach88/recur/internal/recurrence"
)

// NextOptions holds flags for the next command.
type NextOptions struct {
	*RootOptions
	Kind     string
	Interval int
	Days     string
	Max      int
	From     string
	Count    int
}

// NextResult lists the occurrences of a rule.
type NextResult struct {
	Rule        string   `json:"rule"`
	From        string   `json:"from"`
	Occurrences []string `json:"occurrences"`
}

// WriteText renders one day per line under the rule description.
func (r NextResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s, from %s\n", r.Rule, r.From)
	for _, d := range r.Occurrences {
		fmt.Fprintf(w, "  %s\n", d)
	}
	return nil
}

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print upcoming occurrences of a recurrence rule",
		Long: `Print upcoming occurrences of a recurrence rule, starting from a day.

The start day is the rule's anchor and is itself an occurrence when it
matches the rule.

Examples:
  recur next --kind daily --interval 3 --count 4
  recur next --kind weekly --days mon,wed,fri --from 2024-01-01
  recur next --kind weekly --interval 2 --days sat --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "daily", "rule kind (daily|weekly|custom)")
	cmd.Flags().IntVar(&opts.Interval, "interval", 1, "days (or weeks) between occurrences")
	cmd.Flags().StringVar(&opts.Days, "days", "", "comma-separated weekdays for weekly rules")
	cmd.Flags().IntVar(&opts.Max, "max", 0, "maximum occurrences (0 = unbounded)")
	cmd.Flags().StringVar(&opts.From, "from", "", "start day YYYY-MM-DD (default today)")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 5, "number of occurrences to print")

	return cmd
}

func runNext(opts *NextOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	rule, err := buildRule(opts)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid rule", err)
	}

	from := calendar.New(time.Local).Day(time.Now())
	if opts.From != "" {
		if from, err = calendar.ParseDay(opts.From); err != nil {
			return out.Fail(ExitCommandError, CodeConfig, "invalid --from", err)
		}
	}
	if opts.Count < 1 {
		return out.Fail(ExitCommandError, CodeConfig, "--count must be positive", nil)
	}

	limit := opts.Count
	if rule.Limited() {
		limit = min(limit, rule.MaxOccurrences)
	}
	result := NextResult{Rule: rule.String(), From: from.String(), Occurrences: []string{}}
	for _, d := range rule.Occurrences(from, limit) {
		result.Occurrences = append(result.Occurrences, d.String())
	}
	return out.Success(result)
}

func buildRule(opts *NextOptions) (recurrence.Rule, error) {
	var ropts []recurrence.Option
	if opts.Max > 0 {
		ropts = append(ropts, recurrence.WithMaxOccurrences(opts.Max))
	}

	switch recurrence.Kind(opts.Kind) {
	case recurrence.KindDaily:
		if opts.Days != "" {
			return recurrence.Rule{}, recurrence.ErrDaysNotWeekly
		}
		return recurrence.NewDaily(opts.Interval, ropts...)
	case recurrence.KindCustom:
		if opts.Days != "" {
			return recurrence.Rule{}, recurrence.ErrDaysNotWeekly
		}
		return recurrence.NewCustom(opts.Interval, ropts...)
	case recurrence.KindWeekly:
		var names []string
		if opts.Days != "" {
			names = strings.Split(opts.Days, ",")
		}
		days, err := recurrence.ParseWeekdays(names)
		if err != nil {
			return recurrence.Rule{}, err
		}
		return recurrence.NewWeekly(opts.Interval, days, ropts...)
	default:
		return recurrence.Rule{}, fmt.Errorf("%w: %q", recurrence.ErrUnknownKind, opts.Kind)
	}
}
