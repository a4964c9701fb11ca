package multi

import (
	"context"
	"errors"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

// Multi fans out to multiple sinks sequentially.
// If one sink fails, the remaining sinks still receive the call.
type Multi struct {
	sinks []sink.Sink
}

// New creates a Multi that fans out to the given sinks.
func New(sinks ...sink.Sink) *Multi {
	return &Multi{sinks: sinks}
}

// ReplaceSnapshot publishes to every wrapped sink. Errors are collected
// but do not prevent delivery to subsequent sinks.
func (m *Multi) ReplaceSnapshot(ctx context.Context, snap model.Snapshot) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.ReplaceSnapshot(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordPollAttempt forwards the attempt to every wrapped sink.
func (m *Multi) RecordPollAttempt(ctx context.Context, sourceID string, at time.Time, displayName string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordPollAttempt(ctx, sourceID, at, displayName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping pings every wrapped sink that supports it.
func (m *Multi) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if p, ok := s.(sink.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped sink, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
