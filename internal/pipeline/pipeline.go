package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/connector"
	"github.com/crimson-sun/pulsewatch/internal/metrics"
	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

// DefaultDelay is the pause between two consecutive source polls.
const DefaultDelay = 1500 * time.Millisecond

// Cycle outcomes reported to metrics.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDelay sets the pacing delay between sources. Negative values are ignored.
func WithDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// WithClock overrides time.Now for poll and publish timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics sets the recorder for poll, cycle and sink outcomes.
// Default: metrics.Nop.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.metrics = r
		}
	}
}

// WithIDGenerator sets the source of cycle ids. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) {
		if g != nil {
			p.ids = g
		}
	}
}

// WithLogger sets the logger for cycle and poll events. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline polls a fixed, ordered list of sources one after another and
// publishes one complete snapshot per cycle.
type Pipeline struct {
	poller  connector.Poller
	sink    sink.Sink
	delay   time.Duration
	now     func() time.Time
	metrics metrics.Recorder
	ids     IDGenerator
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	cycle sync.Mutex // held for the duration of a cycle

	mu       sync.Mutex
	sources  []model.Source
	lastPoll map[string]time.Time
}

// New creates a Pipeline. sources is the enabled list in poll order.
func New(poller connector.Poller, s sink.Sink, sources []model.Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		poller:   poller,
		sink:     s,
		delay:    DefaultDelay,
		now:      time.Now,
		metrics:  metrics.Nop{},
		ids:      UUIDv7Generator{},
		log:      slog.Default(),
		sleep:    sleepCtx,
		sources:  cloneSources(sources),
		lastPoll: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetSources replaces the source list. A cycle already in progress keeps the
// list it started with.
func (p *Pipeline) SetSources(sources []model.Source) {
	p.mu.Lock()
	p.sources = cloneSources(sources)
	p.mu.Unlock()
}

// Sources returns the configured sources with their last poll times.
func (p *Pipeline) Sources() []model.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := cloneSources(p.sources)
	for i := range out {
		out[i].LastPollTime = p.lastPoll[out[i].ID]
	}
	return out
}

// RunCycle polls every source once and publishes the combined snapshot.
// A failing source is logged and skipped. The returned error is a
// *ConfigError, a publish failure, or the context error if the cycle was
// cancelled; in the last case nothing is published.
func (p *Pipeline) RunCycle(ctx context.Context) (model.Snapshot, error) {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := p.now()
	snap, err := p.runCycle(ctx)
	took := p.now().Sub(start)

	switch {
	case err == nil:
		p.metrics.CycleFinished(OutcomePublished, took)
	case ctx.Err() != nil && !IsConfigError(err):
		p.metrics.CycleFinished(OutcomeCancelled, took)
	default:
		p.metrics.CycleFinished(OutcomeFailed, took)
	}
	return snap, err
}

func (p *Pipeline) runCycle(ctx context.Context) (model.Snapshot, error) {
	p.mu.Lock()
	sources := cloneSources(p.sources)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}
	if len(sources) == 0 {
		err := &ConfigError{Reason: "nothing to poll", Err: ErrNoSources}
		p.log.Error("cycle aborted", "error", err)
		return model.Snapshot{}, err
	}
	if pinger, ok := p.sink.(sink.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			cerr := &ConfigError{Reason: "sink ping failed", Err: fmt.Errorf("%w: %w", ErrSinkUnreachable, err)}
			p.log.Error("cycle aborted", "error", cerr)
			return model.Snapshot{}, cerr
		}
	}

	cycleID := p.ids.Generate()
	log := p.log.With("cycle", cycleID)
	start := p.now()

	active := []model.Incident{}
	recent := []model.Incident{}
	polled := make(map[string]model.Source, len(sources))
	failed, skipped := 0, 0

	for i, src := range sources {
		if i > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				log.Info("cycle cancelled", "polled", i)
				return model.Snapshot{}, fmt.Errorf("cycle %s: %w", cycleID, err)
			}
		}
		if err := ctx.Err(); err != nil {
			log.Info("cycle cancelled", "polled", i)
			return model.Snapshot{}, fmt.Errorf("cycle %s: %w", cycleID, err)
		}

		pollStart := p.now()
		res, err := p.poller.Poll(ctx, src)
		at := p.now()
		if err != nil {
			failed++
			code := connector.CodeOf(err)
			if code == "" {
				code = "ERROR"
			}
			log.Warn("source poll failed", "source", src.ID, "code", code, "error", err)
			p.metrics.PollFinished(src.ID, string(code), at.Sub(pollStart))
		} else {
			active = append(active, res.Active...)
			recent = append(recent, res.Recent...)
			skipped += res.Skipped
			log.Debug("source polled", "source", src.ID,
				"active", len(res.Active), "recent", len(res.Recent), "skipped", res.Skipped)
			p.metrics.PollFinished(src.ID, "ok", at.Sub(pollStart))
		}

		src.LastPollTime = at
		polled[src.ID] = src
		p.markPolled(src.ID, at)
		if err := p.sink.RecordPollAttempt(ctx, src.ID, at, src.DisplayName); err != nil {
			log.Warn("record poll attempt failed", "source", src.ID, "error", err)
			p.metrics.SinkError("record_attempt")
		}
	}

	// Polls honor ctx themselves; a cancel during the last one still must not publish.
	if err := ctx.Err(); err != nil {
		log.Info("cycle cancelled", "polled", len(sources))
		return model.Snapshot{}, fmt.Errorf("cycle %s: %w", cycleID, err)
	}

	generatedAt := p.now().UTC()
	snap := model.Snapshot{
		CycleID:         cycleID,
		GeneratedAt:     generatedAt,
		ActiveIncidents: active,
		RecentIncidents: recent,
		UnitStatus:      model.UnitStatusFrom(active, generatedAt),
		Sources:         polled,
	}

	if err := p.sink.ReplaceSnapshot(ctx, snap); err != nil {
		p.metrics.SinkError("replace")
		log.Error("publish snapshot failed", "error", err)
		return snap, fmt.Errorf("publish snapshot: %w", err)
	}

	p.metrics.SnapshotPublished(len(active), len(recent), len(snap.UnitStatus), skipped, generatedAt)
	log.Info("cycle complete",
		"active", len(active),
		"recent", len(recent),
		"units", len(snap.UnitStatus),
		"failed", failed,
		"skipped_records", skipped,
		"duration", p.now().Sub(start),
	)
	return snap, nil
}

// Run runs one cycle immediately and then one every interval, measured from
// the end of the previous cycle, until ctx is cancelled. Configuration errors
// stop the loop; other cycle errors are logged and the loop continues.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline run: interval must be positive, got %s", interval)
	}
	for {
		if _, err := p.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsConfigError(err) {
				return err
			}
			p.log.Error("cycle failed", "error", err)
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}
}

// Close closes the sink.
func (p *Pipeline) Close() error {
	return p.sink.Close()
}

func (p *Pipeline) markPolled(id string, at time.Time) {
	p.mu.Lock()
	p.lastPoll[id] = at
	p.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cloneSources(in []model.Source) []model.Source {
	out := make([]model.Source, len(in))
	copy(out, in)
	return out
}
