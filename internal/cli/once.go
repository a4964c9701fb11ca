package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewOnceCommand creates the once command.
func NewOnceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single poll cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts, cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.pipeline.Close()

			snap, err := a.pipeline.RunCycle(cmd.Context())
			if err != nil {
				return cycleExit(err)
			}

			polled := 0
			for _, src := range a.pipeline.Sources() {
				if !src.LastPollTime.IsZero() {
					polled++
				}
			}
			// A stdout sink owns stdout; the summary goes to stderr then.
			out := cmd.OutOrStdout()
			if cfg.WritesStdout() {
				out = cmd.ErrOrStderr()
			}
			fmt.Fprintf(out, "cycle %s: %d active, %d recent, %d units from %d sources\n",
				snap.CycleID, len(snap.ActiveIncidents), len(snap.RecentIncidents), len(snap.UnitStatus), polled)
			return nil
		},
	}
	return cmd
}
