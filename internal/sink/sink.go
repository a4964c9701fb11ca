// Package sink defines where published snapshots go.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
)

// Sink receives one complete snapshot per poll cycle.
type Sink interface {
	// ReplaceSnapshot publishes s in place of the previous snapshot. Readers
	// must observe either the old snapshot or s, never a mix.
	ReplaceSnapshot(ctx context.Context, s model.Snapshot) error

	// RecordPollAttempt notes that a source was polled at the given time,
	// whether or not the poll succeeded.
	RecordPollAttempt(ctx context.Context, sourceID string, at time.Time, displayName string) error

	Close() error
}

// Pinger is implemented by sinks that can check their backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Error wraps a failure inside a named sink.
type Error struct {
	Sink string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s sink: %s: %v", e.Sink, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
