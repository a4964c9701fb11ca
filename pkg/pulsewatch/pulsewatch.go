package pulsewatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/connector/httpclient"
	"github.com/crimson-sun/pulsewatch/internal/connector/pulsepoint"
	"github.com/crimson-sun/pulsewatch/internal/envelope"
	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/pipeline"
	"github.com/crimson-sun/pulsewatch/internal/sink/memory"
)

// DefaultSecret is the passphrase the PulsePoint web client uses.
const DefaultSecret = pulsepoint.DefaultSecret

// Decrypt opens one {ct, iv, s} envelope document and returns the plaintext.
// An empty secret means DefaultSecret.
func Decrypt(body []byte, secret string) ([]byte, error) {
	if secret == "" {
		secret = DefaultSecret
	}
	env, err := envelope.ParseWire(body)
	if err != nil {
		return nil, fmt.Errorf("pulsewatch: %w", err)
	}
	plain, err := envelope.Decrypt(env, []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("pulsewatch: %w", err)
	}
	return plain, nil
}

// Watcher polls a fixed set of agencies and keeps the latest snapshot.
type Watcher struct {
	client   *pulsepoint.Client
	pipeline *pipeline.Pipeline
	store    *memory.Store
}

// New creates a Watcher. At least one source is required.
func New(opts ...Option) (*Watcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.sources) == 0 {
		return nil, errors.New("pulsewatch: no sources configured")
	}
	if o.requestDelay < 0 {
		return nil, fmt.Errorf("pulsewatch: negative request delay %s", o.requestDelay)
	}

	endpoint := o.endpoint
	if endpoint == "" {
		endpoint = pulsepoint.DefaultEndpoint
	}
	client := pulsepoint.New(endpoint,
		pulsepoint.WithSecret(o.secret),
		pulsepoint.WithHTTPOptions(
			httpclient.WithTimeout(o.timeout),
			httpclient.WithMaxRetries(o.maxRetries),
			httpclient.WithUserAgent(o.userAgent),
		),
	)

	sources := sourceList(o.sources)

	store := memory.New()
	popts := []pipeline.Option{pipeline.WithDelay(o.requestDelay)}
	if o.logger != nil {
		popts = append(popts, pipeline.WithLogger(o.logger))
	}
	return &Watcher{
		client:   client,
		pipeline: pipeline.New(client, store, sources, popts...),
		store:    store,
	}, nil
}

// SetSources replaces the agencies polled from the next cycle on. A cycle
// already running keeps its list.
func (w *Watcher) SetSources(ids ...string) error {
	if len(ids) == 0 {
		return errors.New("pulsewatch: no sources configured")
	}
	w.pipeline.SetSources(sourceList(ids))
	return nil
}

// Poll fetches one agency outside of any cycle.
func (w *Watcher) Poll(ctx context.Context, sourceID string) (active, recent []Incident, err error) {
	res, err := w.client.Poll(ctx, model.Source{ID: sourceID, DisplayName: "Agency " + sourceID})
	if err != nil {
		return nil, nil, err
	}
	return incidentsFrom(res.Active), incidentsFrom(res.Recent), nil
}

// RunCycle polls every source once and publishes the combined snapshot.
// A failing source is skipped; its incidents are absent from the result.
func (w *Watcher) RunCycle(ctx context.Context) (Snapshot, error) {
	snap, err := w.pipeline.RunCycle(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFrom(snap), nil
}

// Run runs a cycle immediately and then once per interval until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	return w.pipeline.Run(ctx, interval)
}

// Latest returns the most recently published snapshot. ok is false before
// the first cycle completes.
func (w *Watcher) Latest() (snap Snapshot, ok bool) {
	s, at := w.store.Latest()
	if at.IsZero() {
		return snapshotFrom(model.EmptySnapshot()), false
	}
	return snapshotFrom(s), true
}

// Subscribe returns a channel that receives each newly published snapshot
// and a function that ends the subscription.
func (w *Watcher) Subscribe() (<-chan Snapshot, func()) {
	in, cancel := w.store.Subscribe()
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		for s := range in {
			select {
			case <-out:
			default:
			}
			out <- snapshotFrom(s)
		}
	}()
	return out, cancel
}

// Close releases the Watcher. Subscriptions are closed.
func (w *Watcher) Close() error {
	return w.pipeline.Close()
}

func sourceList(ids []string) []model.Source {
	out := make([]model.Source, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, model.Source{ID: id, DisplayName: "Agency " + id, Enabled: true})
	}
	return out
}

func snapshotFrom(s model.Snapshot) Snapshot {
	return Snapshot{
		CycleID:     s.CycleID,
		GeneratedAt: s.GeneratedAt,
		Active:      incidentsFrom(s.ActiveIncidents),
		Recent:      incidentsFrom(s.RecentIncidents),
		Units:       unitStatusFrom(s.UnitStatus),
		Sources:     sourcesFrom(s.Sources),
	}
}

func unitFrom(u model.Unit) Unit {
	return Unit{ID: u.UnitID, Status: u.StatusCode, StatusLabel: u.StatusLabel, Color: u.StatusColor, Active: u.Active}
}

func unitStatusFrom(in []model.UnitStatus) []UnitStatus {
	out := make([]UnitStatus, len(in))
	for i, u := range in {
		out[i] = UnitStatus{Unit: unitFrom(u.Unit), IncidentID: u.IncidentID, SourceID: u.SourceID, LastUpdate: u.LastUpdate}
	}
	return out
}

func sourcesFrom(in map[string]model.Source) map[string]Source {
	out := make(map[string]Source, len(in))
	for id, src := range in {
		out[id] = Source{ID: src.ID, Name: src.DisplayName, Region: src.Region, LastPoll: src.LastPollTime}
	}
	return out
}

func incidentsFrom(in []model.Incident) []Incident {
	out := make([]Incident, len(in))
	for i, inc := range in {
		units := make([]Unit, len(inc.Units))
		for j, u := range inc.Units {
			units[j] = unitFrom(u)
		}
		out[i] = Incident{
			ID:            inc.IncidentID,
			SourceID:      inc.SourceID,
			SourceName:    inc.SourceName,
			CallType:      inc.CallTypeCode,
			CallTypeLabel: inc.CallTypeLabel,
			Address:       inc.Address,
			Latitude:      inc.Latitude,
			Longitude:     inc.Longitude,
			Received:      inc.ReceivedTime,
			AlarmLevel:    inc.AlarmLevel,
			Units:         units,
			FetchedAt:     inc.FetchedAt,
			Active:        inc.IsActive,
		}
	}
	return out
}
