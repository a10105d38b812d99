package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/recur/internal/config"
)

// ConfigView is the effective configuration as printed by config show.
type ConfigView struct {
	Path              string         `json:"path" yaml:"-"`
	Database          string         `json:"database" yaml:"database"`
	Timezone          string         `json:"timezone" yaml:"timezone"`
	SnoozeMinutes     int            `json:"snooze_minutes" yaml:"snooze_minutes"`
	SweepInterval     string         `json:"sweep_interval" yaml:"sweep_interval"`
	DailySweepTime    string         `json:"daily_sweep_time" yaml:"daily_sweep_time"`
	CascadeCompletion bool           `json:"cascade_completion" yaml:"cascade_completion"`
	GraceReasons      map[string]int `json:"grace_reasons" yaml:"grace_reasons"`
	MetricsAddr       string         `json:"metrics_addr" yaml:"metrics_addr"`
}

// WriteText renders the configuration as YAML preceded by its source path.
func (v ConfigView) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "# %s\n", v.Path)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func configView(path string, cfg *config.Config) ConfigView {
	return ConfigView{
		Path:              path,
		Database:          cfg.Database,
		Timezone:          cfg.Timezone,
		SnoozeMinutes:     cfg.SnoozeMinutes,
		SweepInterval:     cfg.SweepInterval.String(),
		DailySweepTime:    cfg.DailySweepTime,
		CascadeCompletion: cfg.CascadeCompletion,
		GraceReasons:      cfg.GraceReasons,
		MetricsAddr:       cfg.MetricsAddr,
	}
}

// NewConfigCommand creates the config command and its subcommands.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
		Long: `Create or inspect the configuration file.

Settings are read from --config (default ~/.config/recur/config.yaml).
Environment variables prefixed RECUR_ override file values.`,
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			path := rootOpts.ConfigPath

			if _, err := os.Stat(path); err == nil && !force {
				return out.Fail(ExitCommandError, CodeConfig,
					fmt.Sprintf("%s already exists (use --force to overwrite)", path), nil)
			}

			cfg := config.Default()
			if rootOpts.Database != "" {
				cfg.Database = rootOpts.Database
			}
			if err := config.Save(path, cfg); err != nil {
				return out.Fail(ExitCommandError, CodeConfig, "failed to write config", err)
			}
			out.VerboseLog("Wrote %s", path)
			return out.Success(configView(path, cfg))
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
			}
			return out.Success(configView(rootOpts.ConfigPath, cfg))
		},
	}
}
