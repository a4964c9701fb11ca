package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/pulsewatch/internal/connector"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and source list without polling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(rootOpts, cmd)
			if err != nil {
				return err
			}
			if !slices.Contains(connector.Providers(), cfg.Upstream.Provider) {
				return NewExitError(ExitConfig, fmt.Sprintf("unknown upstream provider %q (known: %s)",
					cfg.Upstream.Provider, strings.Join(connector.Providers(), ", ")))
			}
			kinds := make([]string, 0, len(cfg.Sinks))
			for _, s := range cfg.Sinks {
				if !slices.Contains(sink.Kinds(), s.Kind) {
					return NewExitError(ExitConfig, fmt.Sprintf("unknown sink kind %q (known: %s)",
						s.Kind, strings.Join(sink.Kinds(), ", ")))
				}
				kinds = append(kinds, s.Kind)
			}
			sources, err := cfg.Sources()
			if err != nil {
				return WrapExitError(ExitConfig, "invalid sources", err)
			}
			if len(sources) == 0 {
				return NewExitError(ExitConfig, "no enabled sources")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: provider %s, %d sources, sinks: %s\n",
				cfg.Upstream.Provider, len(sources), strings.Join(kinds, ", "))
			for _, src := range sources {
				fmt.Fprintf(out, "  %s  %s\n", src.ID, src.DisplayName)
			}
			return nil
		},
	}
	return cmd
}
