package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/pulsewatch/internal/connector"
	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink/memory"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePoller struct {
	mu      sync.Mutex
	results map[string]connector.Result
	errs    map[string]error
	calls   []string
	onPoll  func(ctx context.Context, src model.Source)
}

func (f *fakePoller) Poll(ctx context.Context, src model.Source) (connector.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, src.ID)
	hook := f.onPoll
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, src)
	}
	if err := f.errs[src.ID]; err != nil {
		return connector.Result{}, err
	}
	return f.results[src.ID], nil
}

func (f *fakePoller) polled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type attempt struct {
	id   string
	at   time.Time
	name string
}

type recordingSink struct {
	mu         sync.Mutex
	replaced   []model.Snapshot
	attempts   []attempt
	replaceErr error
	attemptErr error
	onReplace  func(n int)
	closed     bool
}

func (s *recordingSink) ReplaceSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	if s.replaceErr != nil {
		s.mu.Unlock()
		return s.replaceErr
	}
	s.replaced = append(s.replaced, snap)
	n, hook := len(s.replaced), s.onReplace
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (s *recordingSink) RecordPollAttempt(_ context.Context, id string, at time.Time, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt{id, at, name})
	return s.attemptErr
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) replaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replaced)
}

type pingSink struct {
	*recordingSink
	pingErr error
}

func (s *pingSink) Ping(context.Context) error { return s.pingErr }

type fakeRecorder struct {
	mu        sync.Mutex
	polls     []string
	outcomes  []string
	sinkErrs  []string
	published [][4]int
}

func (r *fakeRecorder) PollFinished(id, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, id+"="+result)
}

func (r *fakeRecorder) CycleFinished(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) SnapshotPublished(active, recent, units, skipped int, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, [4]int{active, recent, units, skipped})
}

func (r *fakeRecorder) SinkError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinkErrs = append(r.sinkErrs, op)
}

func sources(ids ...string) []model.Source {
	out := make([]model.Source, len(ids))
	for i, id := range ids {
		out[i] = model.Source{ID: id, DisplayName: "Agency " + id, Enabled: true}
	}
	return out
}

func incident(id, source string, units ...string) model.Incident {
	inc := model.Incident{IncidentID: id, SourceID: source, Units: []model.Unit{}, IsActive: true}
	for _, u := range units {
		inc.Units = append(inc.Units, model.Unit{UnitID: u, StatusCode: "OS", Active: true})
	}
	return inc
}

func newTestPipeline(p connector.Poller, s *recordingSink, srcs []model.Source, opts ...Option) *Pipeline {
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithDelay(0),
		WithLogger(quiet),
	}
	return New(p, s, srcs, append(base, opts...)...)
}

func incidentIDs(incs []model.Incident) []string {
	ids := make([]string, len(incs))
	for i, inc := range incs {
		ids[i] = inc.Key()
	}
	return ids
}

func TestRunCycleIsolatesFailingSource(t *testing.T) {
	poller := &fakePoller{
		results: map[string]connector.Result{
			"A": {Active: []model.Incident{incident("1", "A", "E1")}},
			"C": {Active: []model.Incident{incident("3", "C", "M3")}},
		},
		errs: map[string]error{
			"B": &connector.PollError{Code: connector.CodeTransport, SourceID: "B", Err: context.DeadlineExceeded},
		},
	}
	s := &recordingSink{}
	p := newTestPipeline(poller, s, sources("A", "B", "C"))

	snap, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, poller.polled())
	assert.Equal(t, []string{"A/1", "C/3"}, incidentIDs(snap.ActiveIncidents))
	require.Len(t, snap.Sources, 3)
	for _, id := range []string{"A", "B", "C"} {
		assert.True(t, fixedNow.Equal(snap.Sources[id].LastPollTime), "last poll for %s", id)
	}
	for _, src := range p.Sources() {
		assert.True(t, fixedNow.Equal(src.LastPollTime), "Sources() last poll for %s", src.ID)
	}

	require.Len(t, s.attempts, 3)
	assert.Equal(t, attempt{"B", fixedNow, "Agency B"}, s.attempts[1])
	require.Equal(t, 1, s.replaceCount())
	assert.Equal(t, snap, s.replaced[0])
}

func TestRunCycleKeepsPollOrderAndFlattensUnits(t *testing.T) {
	poller := &fakePoller{results: map[string]connector.Result{
		"A": {
			Active: []model.Incident{incident("1", "A", "E1", "M1"), incident("2", "A")},
			Recent: []model.Incident{{IncidentID: "9", SourceID: "A"}},
		},
		"B": {Active: []model.Incident{incident("5", "B", "T5")}},
	}}
	s := &recordingSink{}
	p := newTestPipeline(poller, s, sources("A", "B"), WithIDGenerator(NewFixedGenerator("cycle-1")))

	snap, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cycle-1", snap.CycleID)
	assert.True(t, fixedNow.Equal(snap.GeneratedAt))
	assert.Equal(t, []string{"A/1", "A/2", "B/5"}, incidentIDs(snap.ActiveIncidents))
	assert.Equal(t, []string{"A/9"}, incidentIDs(snap.RecentIncidents))

	var units []string
	for _, u := range snap.UnitStatus {
		units = append(units, u.IncidentID+":"+u.UnitID)
		assert.True(t, fixedNow.Equal(u.LastUpdate))
	}
	assert.Equal(t, []string{"1:E1", "1:M1", "5:T5"}, units)
}

func TestRunCycleEmptyCollectionsAreNotNil(t *testing.T) {
	poller := &fakePoller{errs: map[string]error{"A": errors.New("boom")}}
	snap, err := newTestPipeline(poller, &recordingSink{}, sources("A")).RunCycle(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap.ActiveIncidents)
	assert.NotNil(t, snap.RecentIncidents)
	assert.NotNil(t, snap.UnitStatus)
}

func TestRunCyclePacesBetweenSourcesOnly(t *testing.T) {
	tests := []struct {
		name   string
		ids    []string
		sleeps int
	}{
		{"one source", []string{"A"}, 0},
		{"three sources", []string{"A", "B", "C"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(&fakePoller{}, &recordingSink{}, sources(tt.ids...), WithDelay(1500*time.Millisecond))
			var slept []time.Duration
			p.sleep = func(_ context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			}

			_, err := p.RunCycle(context.Background())
			require.NoError(t, err)
			require.Len(t, slept, tt.sleeps)
			for _, d := range slept {
				assert.Equal(t, 1500*time.Millisecond, d)
			}
		})
	}
}

func TestRunCycleNoSources(t *testing.T) {
	s := &recordingSink{}
	rec := &fakeRecorder{}
	_, err := newTestPipeline(&fakePoller{}, s, nil, WithMetrics(rec)).RunCycle(context.Background())

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrNoSources)
	assert.Zero(t, s.replaceCount())
	assert.Equal(t, []string{OutcomeFailed}, rec.outcomes)
}

func TestRunCycleSinkUnreachable(t *testing.T) {
	poller := &fakePoller{}
	s := &pingSink{recordingSink: &recordingSink{}, pingErr: errors.New("connection refused")}
	p := New(poller, s, sources("A"), WithLogger(quiet))

	_, err := p.RunCycle(context.Background())
	assert.True(t, IsConfigError(err))
	assert.ErrorIs(t, err, ErrSinkUnreachable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, poller.polled(), "no source is polled when the sink is down")

	s.pingErr = nil
	_, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.replaceCount())
}

func TestRunCycleCancelledBetweenSourcesDoesNotPublish(t *testing.T) {
	store := memory.New()
	poller := &fakePoller{results: map[string]connector.Result{
		"A": {Active: []model.Incident{incident("1", "A")}},
		"B": {Active: []model.Incident{incident("2", "B")}},
		"C": {Active: []model.Incident{incident("3", "C")}},
	}}
	p := New(poller, store, sources("A", "B", "C"),
		WithDelay(0), WithLogger(quiet), WithIDGenerator(NewFixedGenerator("first", "second")))

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.onPoll = func(_ context.Context, src model.Source) {
		if src.ID == "B" {
			cancel()
		}
	}
	_, err = p.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsConfigError(err))

	latest, _ := store.Latest()
	assert.Equal(t, "first", latest.CycleID, "previous snapshot stays visible")
	assert.Len(t, latest.ActiveIncidents, 3)
	assert.Equal(t, []string{"A", "B", "C", "A", "B"}, poller.polled())
}

func TestRunCycleCancelledDuringLastPollDoesNotPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller := &fakePoller{onPoll: func(context.Context, model.Source) { cancel() }}
	s := &recordingSink{}
	rec := &fakeRecorder{}

	_, err := newTestPipeline(poller, s, sources("A"), WithMetrics(rec)).RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.replaceCount())
	assert.Equal(t, []string{OutcomeCancelled}, rec.outcomes)
}

func TestRunCycleReplaceFailureIsReturned(t *testing.T) {
	replaceErr := errors.New("disk full")
	s := &recordingSink{replaceErr: replaceErr}
	rec := &fakeRecorder{}

	_, err := newTestPipeline(&fakePoller{}, s, sources("A"), WithMetrics(rec)).RunCycle(context.Background())
	require.ErrorIs(t, err, replaceErr)
	assert.False(t, IsConfigError(err))
	assert.Equal(t, []string{"replace"}, rec.sinkErrs)
	assert.Equal(t, []string{OutcomeFailed}, rec.outcomes)
}

func TestRunCycleRecordAttemptFailureIsNotFatal(t *testing.T) {
	s := &recordingSink{attemptErr: errors.New("sheet quota exceeded")}
	rec := &fakeRecorder{}

	_, err := newTestPipeline(&fakePoller{}, s, sources("A", "B"), WithMetrics(rec)).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.replaceCount())
	assert.Equal(t, []string{"record_attempt", "record_attempt"}, rec.sinkErrs)
}

func TestRunCycleMetrics(t *testing.T) {
	poller := &fakePoller{
		results: map[string]connector.Result{
			"A": {Active: []model.Incident{incident("1", "A", "E1")}, Skipped: 2},
		},
		errs: map[string]error{
			"B": &connector.PollError{Code: connector.CodeDecrypt, SourceID: "B", Err: errors.New("bad padding")},
			"C": errors.New("not a poll error"),
		},
	}
	rec := &fakeRecorder{}
	_, err := newTestPipeline(poller, &recordingSink{}, sources("A", "B", "C"), WithMetrics(rec)).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A=ok", "B=DECRYPT", "C=ERROR"}, rec.polls)
	assert.Equal(t, []string{OutcomePublished}, rec.outcomes)
	assert.Equal(t, [][4]int{{1, 0, 1, 2}}, rec.published)
}

func TestSetSourcesAppliesToNextCycle(t *testing.T) {
	poller := &fakePoller{}
	p := newTestPipeline(poller, &recordingSink{}, sources("A"))

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	p.SetSources(sources("B", "C"))
	_, err = p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, poller.polled())
	got := p.Sources()
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ID)
}

func TestSourcesBeforeFirstCycle(t *testing.T) {
	p := newTestPipeline(&fakePoller{}, &recordingSink{}, sources("A"))
	got := p.Sources()
	require.Len(t, got, 1)
	assert.True(t, got[0].LastPollTime.IsZero())
}

func TestRunStopsOnConfigError(t *testing.T) {
	err := newTestPipeline(&fakePoller{}, &recordingSink{}, nil).Run(context.Background(), time.Hour)
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestRunRejectsBadInterval(t *testing.T) {
	err := newTestPipeline(&fakePoller{}, &recordingSink{}, sources("A")).Run(context.Background(), 0)
	assert.Error(t, err)
}

func TestRunRepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &recordingSink{onReplace: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	p := New(&fakePoller{}, s, sources("A", "B"), WithDelay(0), WithLogger(quiet))

	err := p.Run(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, s.replaceCount())
}

func TestRunContinuesAfterPublishFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cycles atomic.Int32
	s := &recordingSink{replaceErr: errors.New("temporarily unavailable")}
	rec := &fakeRecorder{}
	poller := &fakePoller{onPoll: func(context.Context, model.Source) {
		if cycles.Add(1) == 3 {
			cancel()
		}
	}}
	p := New(poller, s, sources("A"), WithDelay(0), WithLogger(quiet), WithMetrics(rec))

	err := p.Run(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), cycles.Load())
	assert.Equal(t, []string{OutcomeFailed, OutcomeFailed, OutcomeCancelled}, rec.outcomes)
}

// generationPoller tags every incident with the cycle it was produced in.
type generationPoller struct {
	gen   atomic.Int64
	first string
}

func (g *generationPoller) Poll(_ context.Context, src model.Source) (connector.Result, error) {
	if src.ID == g.first {
		g.gen.Add(1)
	}
	id := fmt.Sprintf("g%d-%s", g.gen.Load(), src.ID)
	return connector.Result{Active: []model.Incident{incident(id, src.ID, "U-"+id)}}, nil
}

func TestConcurrentReadersNeverSeeMixedCycles(t *testing.T) {
	store := memory.New()
	srcs := sources("A", "B", "C")
	p := New(&generationPoller{first: "A"}, store, srcs, WithDelay(0), WithLogger(quiet))

	var done atomic.Bool
	var wg sync.WaitGroup
	var bad atomic.Int32
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				snap, _ := store.Latest()
				if len(snap.ActiveIncidents) == 0 {
					continue
				}
				if len(snap.ActiveIncidents) != len(srcs) || len(snap.UnitStatus) != len(srcs) {
					bad.Add(1)
					continue
				}
				gen := strings.SplitN(snap.ActiveIncidents[0].IncidentID, "-", 2)[0]
				for _, inc := range snap.ActiveIncidents {
					if !strings.HasPrefix(inc.IncidentID, gen+"-") {
						bad.Add(1)
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		_, err := p.RunCycle(context.Background())
		require.NoError(t, err)
	}
	done.Store(true)
	wg.Wait()

	assert.Zero(t, bad.Load())
	latest, _ := store.Latest()
	assert.Equal(t, "g50-A", latest.ActiveIncidents[0].IncidentID)
}

func TestCloseClosesSink(t *testing.T) {
	s := &recordingSink{}
	require.NoError(t, newTestPipeline(&fakePoller{}, s, nil).Close())
	assert.True(t, s.closed)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7GeneratorIsTimeOrdered(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.Equal(t, byte('7'), a[14], "version nibble")
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a[:13], b[:13])
}
