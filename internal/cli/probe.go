package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/pulsewatch/internal/connector/httpclient"
	"github.com/crimson-sun/pulsewatch/internal/connector/pulsepoint"
	"github.com/crimson-sun/pulsewatch/internal/model"
)

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "probe <agency-id>",
		Short: "Poll one agency and print what it returns",
		Long: `Look up one agency, poll its incidents once and print the agency
details followed by its first active incidents. Nothing is published.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(rootOpts, cmd)
			if err != nil {
				return err
			}
			if limit < 0 {
				return NewExitError(ExitUsage, "--limit must not be negative")
			}

			client := pulsepoint.New(cfg.Upstream.Endpoint,
				pulsepoint.WithSecret(cfg.Upstream.Secret),
				pulsepoint.WithHTTPOptions(
					httpclient.WithTimeout(cfg.Upstream.Timeout),
					httpclient.WithMaxRetries(cfg.Upstream.MaxRetries),
					httpclient.WithUserAgent(cfg.Upstream.UserAgent),
				),
			)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			id := args[0]

			name := ""
			info, err := client.AgencyInfo(ctx, id)
			switch {
			case err == nil:
				name = info.Name
				fmt.Fprintf(out, "Agency %s: %s (%s, %s)\n", id, info.Name, info.City, info.State)
			case errors.Is(err, pulsepoint.ErrNotFound):
				fmt.Fprintf(out, "Agency %s: not found in agency directory\n", id)
			default:
				fmt.Fprintf(out, "Agency %s: lookup failed: %v\n", id, err)
			}

			res, err := client.Poll(ctx, model.Source{ID: id, DisplayName: name})
			if err != nil {
				return WrapExitError(ExitFailure, "poll failed", err)
			}
			fmt.Fprintf(out, "Active incidents: %d\nRecent incidents: %d\n", len(res.Active), len(res.Recent))
			printIncidents(out, res.Active, limit)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "number of active incidents to print")
	return cmd
}

func printIncidents(w io.Writer, incidents []model.Incident, limit int) {
	for i, inc := range incidents {
		if i == limit {
			break
		}
		fmt.Fprintf(w, "\n  %s  %s\n", inc.IncidentID, inc.CallTypeLabel)
		if inc.Address != "" {
			fmt.Fprintf(w, "    Address: %s\n", inc.Address)
		}
		if inc.ReceivedTime != "" {
			fmt.Fprintf(w, "    Received: %s\n", inc.ReceivedTime)
		}
		for _, u := range inc.Units {
			fmt.Fprintf(w, "    Unit %s: %s\n", u.UnitID, u.StatusLabel)
		}
	}
}
