// Package cli implements the pulsewatch command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/pulsewatch/internal/config"
	"github.com/crimson-sun/pulsewatch/internal/logging"

	// Register connector and sink implementations.
	_ "github.com/crimson-sun/pulsewatch/internal/connector/pulsepoint"
	_ "github.com/crimson-sun/pulsewatch/internal/sink/file"
	_ "github.com/crimson-sun/pulsewatch/internal/sink/memory"
	_ "github.com/crimson-sun/pulsewatch/internal/sink/redis"
	_ "github.com/crimson-sun/pulsewatch/internal/sink/sqlstore"
	_ "github.com/crimson-sun/pulsewatch/internal/sink/stdout"
	_ "github.com/crimson-sun/pulsewatch/internal/sink/webhook"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string // overrides log_level when set
	LogFormat  string // overrides log_format when set
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pulsewatch",
		Short: "Poll PulsePoint agencies and publish incident snapshots",
		Long: `pulsewatch polls the PulsePoint incident feed for a list of agencies,
decrypts and normalizes the responses, and publishes one complete snapshot
per cycle to the configured sinks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.LogFormat {
			case "", "text", "json":
				return nil
			}
			return NewExitError(ExitUsage, fmt.Sprintf("invalid log format %q: must be text or json", opts.LogFormat))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "pulsewatch.yaml", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewOnceCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewDecryptCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// loadConfig reads the config file, applies flag overrides and installs the
// logger on the command's stderr.
func loadConfig(opts *RootOptions, cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitConfig, "invalid configuration", err)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	logger := logging.Init(cmd.ErrOrStderr(), cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
	return cfg, logger, nil
}
