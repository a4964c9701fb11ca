// Package redis publishes snapshots to a Redis key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

// DefaultKey holds the snapshot document when no key is configured.
const DefaultKey = "pulsewatch:snapshot"

func init() {
	sink.Register("redis", func(cfg sink.Config) (sink.Sink, error) {
		opts := &goredis.Options{Addr: cfg.Addr}
		if cfg.URL != "" {
			parsed, err := goredis.ParseURL(cfg.URL)
			if err != nil {
				return nil, &sink.Error{Sink: "redis", Op: "parse url", Err: err}
			}
			opts = parsed
		}
		return New(goredis.NewClient(opts), WithKey(cfg.Key), WithChannel(cfg.Channel)), nil
	})
}

// Client is the subset of *goredis.Client the sink uses.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Option configures a Sink.
type Option func(*Sink)

// WithKey sets the key holding the snapshot document. Poll attempts go to
// the hash "<key>:sources".
func WithKey(key string) Option {
	return func(s *Sink) {
		if key != "" {
			s.key = key
		}
	}
}

// WithChannel publishes a notice on channel after every replace.
func WithChannel(channel string) Option {
	return func(s *Sink) { s.channel = channel }
}

// Sink writes the whole snapshot document with one SET, so readers of the
// key always get a complete snapshot.
type Sink struct {
	client  Client
	key     string
	channel string
}

// New creates a Sink over client.
func New(client Client, opts ...Option) *Sink {
	s := &Sink{client: client, key: DefaultKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type notice struct {
	CycleID     string    `json:"cycle_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Active      int       `json:"active"`
	Recent      int       `json:"recent"`
}

// ReplaceSnapshot stores the snapshot document and announces it.
func (s *Sink) ReplaceSnapshot(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(sink.FormatSnapshot(snap))
	if err != nil {
		return &sink.Error{Sink: "redis", Op: "marshal", Err: err}
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return &sink.Error{Sink: "redis", Op: "replace", Err: err}
	}
	if s.channel == "" {
		return nil
	}

	msg, err := json.Marshal(notice{
		CycleID:     snap.CycleID,
		GeneratedAt: snap.GeneratedAt,
		Active:      len(snap.ActiveIncidents),
		Recent:      len(snap.RecentIncidents),
	})
	if err != nil {
		return &sink.Error{Sink: "redis", Op: "marshal", Err: err}
	}
	if err := s.client.Publish(ctx, s.channel, msg).Err(); err != nil {
		return &sink.Error{Sink: "redis", Op: "publish", Err: err}
	}
	return nil
}

// RecordPollAttempt stores the attempt in the sources hash. An empty display
// name keeps the stored one.
func (s *Sink) RecordPollAttempt(ctx context.Context, sourceID string, at time.Time, displayName string) error {
	src := model.Source{ID: sourceID, DisplayName: displayName}
	if displayName == "" {
		prev, err := s.client.HGet(ctx, s.key+":sources", sourceID).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return &sink.Error{Sink: "redis", Op: "record attempt", Err: err}
		default:
			if err := json.Unmarshal(prev, &src); err != nil {
				return &sink.Error{Sink: "redis", Op: "record attempt", Err: err}
			}
		}
	}
	src.LastPollTime = at.UTC()

	data, err := json.Marshal(src)
	if err != nil {
		return &sink.Error{Sink: "redis", Op: "marshal", Err: err}
	}
	if err := s.client.HSet(ctx, s.key+":sources", sourceID, data).Err(); err != nil {
		return &sink.Error{Sink: "redis", Op: "record attempt", Err: err}
	}
	return nil
}

// Ping checks the server is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &sink.Error{Sink: "redis", Op: "ping", Err: err}
	}
	return nil
}

// Close closes the client.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ sink.Pinger = (*Sink)(nil)
