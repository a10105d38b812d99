package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recur/internal/catalog"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	DryRun bool
}

// LoadResult reports what a catalog load did.
type LoadResult struct {
	Files   int      `json:"files"`
	Tags    int      `json:"tags"`
	Items   int      `json:"items"`
	Created []string `json:"created"`
	Existed []string `json:"existed"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

// WriteText renders a one-line summary followed by created ids.
func (r LoadResult) WriteText(w io.Writer) error {
	if r.DryRun {
		fmt.Fprintf(w, "Catalog OK: %d files, %d tags, %d items\n", r.Files, r.Tags, r.Items)
		return nil
	}
	fmt.Fprintf(w, "Loaded %d tags, %d new items (%d already stored)\n", r.Tags, len(r.Created), len(r.Existed))
	for _, id := range r.Created {
		fmt.Fprintf(w, "  + %s\n", id)
	}
	return nil
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <catalog-dir>",
		Short: "Load tags, habits and tasks from a CUE catalog",
		Long: `Load tags, habits and tasks from the .cue files in a directory.

Items whose id is already stored are left untouched, so loading the same
catalog twice is safe. Use --dry-run to validate without opening the
database.

Examples:
  recur load ./catalog
  recur load ./catalog --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate the catalog without writing")

	return cmd
}

func runLoad(opts *LoadOptions, cmd *cobra.Command, dir string) error {
	out := opts.formatter(cmd)

	cat, err := catalog.LoadDir(dir)
	if err != nil {
		var le *catalog.LoadError
		if errors.As(err, &le) {
			out.VerboseLog("catalog error at %s", le.Path)
		}
		return out.Fail(ExitCommandError, CodeCatalog, "invalid catalog", err)
	}
	out.VerboseLog("Loaded %d files from %s", cat.FileCount, dir)

	result := LoadResult{
		Files:   cat.FileCount,
		Tags:    len(cat.Tags),
		Items:   len(cat.Items),
		Created: []string{},
		Existed: []string{},
		DryRun:  opts.DryRun,
	}
	if opts.DryRun {
		return out.Success(result)
	}

	sess, err := openSession(cmd.Context(), opts.RootOptions)
	if err != nil {
		return out.Fail(GetExitCode(err), CodeDatabase, "failed to open session", err)
	}
	defer sess.Close()

	applied, err := cat.Apply(cmd.Context(), sess.engine)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCatalog, "failed to apply catalog", err)
	}
	result.Tags = applied.Tags
	if applied.Created != nil {
		result.Created = applied.Created
	}
	if applied.Existed != nil {
		result.Existed = applied.Existed
	}
	return out.Success(result)
}
