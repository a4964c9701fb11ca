package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/pulsewatch/internal/pipeline"
	"github.com/crimson-sun/pulsewatch/internal/server"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var serveAddr string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll continuously and publish a snapshot every interval",
		Long: `Run one cycle immediately and then one per poll interval until
interrupted. With --serve (or server.addr) the latest snapshot is also served
over HTTP at /api/incidents, /api/stats, /api/sources, /api/stream and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts, cmd)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = cfg.Server.Addr
			}
			if interval > 0 {
				cfg.Poll.Interval = interval
			}

			a, err := newApp(cfg, logger, serveAddr != "")
			if err != nil {
				return err
			}
			defer a.pipeline.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(sigCtx)
			if a.store != nil {
				srv := server.New(a.store,
					server.WithGatherer(a.registry),
					server.WithOriginPatterns(cfg.Server.Origins...),
					server.WithLogger(logger),
				)
				g.Go(func() error { return srv.ListenAndServe(ctx, serveAddr) })
			}
			g.Go(func() error {
				logger.Info("pulsewatch starting",
					"provider", cfg.Upstream.Provider,
					"sources", len(a.pipeline.Sources()),
					"interval", cfg.Poll.Interval,
				)
				return a.pipeline.Run(ctx, cfg.Poll.Interval)
			})

			err = g.Wait()
			if err == nil || sigCtx.Err() != nil {
				logger.Info("pulsewatch stopped")
				return nil
			}
			if pipeline.IsConfigError(err) {
				return WrapExitError(ExitConfig, "cycle aborted", err)
			}
			return WrapExitError(ExitFailure, "run failed", err)
		},
	}

	cmd.Flags().StringVar(&serveAddr, "serve", "", "serve the query API on this address (e.g. :8080)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "override poll.interval")
	return cmd
}
