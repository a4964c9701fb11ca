package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/crimson-sun/pulsewatch/internal/config"
	"github.com/crimson-sun/pulsewatch/internal/connector"
	"github.com/crimson-sun/pulsewatch/internal/metrics"
	"github.com/crimson-sun/pulsewatch/internal/pipeline"
	"github.com/crimson-sun/pulsewatch/internal/sink"
	"github.com/crimson-sun/pulsewatch/internal/sink/async"
	"github.com/crimson-sun/pulsewatch/internal/sink/memory"
	"github.com/crimson-sun/pulsewatch/internal/sink/multi"
)

// app is the wired set of components one command runs with.
type app struct {
	pipeline *pipeline.Pipeline
	store    *memory.Store // nil unless the query API is served
	registry *prometheus.Registry
}

func newApp(cfg config.Config, logger *slog.Logger, serve bool) (*app, error) {
	ctor, err := connector.Get(cfg.Upstream.Provider)
	if err != nil {
		return nil, WrapExitError(ExitConfig, "invalid upstream provider", err)
	}
	poller, err := ctor(cfg.Connector())
	if err != nil {
		return nil, WrapExitError(ExitConfig, "failed to create connector", err)
	}

	sources, err := cfg.Sources()
	if err != nil {
		return nil, WrapExitError(ExitConfig, "failed to load sources", err)
	}

	var store *memory.Store
	if serve {
		store = memory.New()
	}
	out, err := openSinks(cfg.Sinks, store)
	if err != nil {
		return nil, WrapExitError(ExitConfig, "failed to open sinks", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := pipeline.New(poller, out, sources,
		pipeline.WithDelay(cfg.Poll.RequestDelay),
		pipeline.WithMetrics(metrics.NewProm(reg)),
		pipeline.WithLogger(logger),
	)
	return &app{pipeline: p, store: store, registry: reg}, nil
}

// openSinks opens every configured sink. When store is non-nil it receives
// every snapshot too and stands in for any configured memory sink.
func openSinks(cfgs []sink.Config, store *memory.Store) (sink.Sink, error) {
	var sinks []sink.Sink
	for _, c := range cfgs {
		if c.Kind == "memory" && store != nil {
			continue
		}
		s, err := sink.Open(c)
		if err != nil {
			for _, opened := range sinks {
				opened.Close()
			}
			return nil, fmt.Errorf("sink %q: %w", c.Kind, err)
		}
		if c.Async {
			var opts []async.Option
			if c.DropOnFull {
				opts = append(opts, async.WithDropOnFull())
			}
			s = async.New(s, opts...)
		}
		sinks = append(sinks, s)
	}
	if store != nil {
		sinks = append(sinks, store)
	}

	switch len(sinks) {
	case 0:
		return nil, errors.New("no sinks configured")
	case 1:
		return sinks[0], nil
	default:
		return multi.New(sinks...), nil
	}
}

// cycleExit maps a cycle error to an exit error.
func cycleExit(err error) error {
	if pipeline.IsConfigError(err) {
		return WrapExitError(ExitConfig, "cycle aborted", err)
	}
	return WrapExitError(ExitFailure, "cycle failed", err)
}
