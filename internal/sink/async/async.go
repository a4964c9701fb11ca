// Package async decouples snapshot publishing from a slow sink.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

const (
	defaultBufferSize   = 4
	defaultDrainTimeout = 5 * time.Second
)

// ErrDrainTimeout is returned by Close when queued work did not finish in
// time. The inner sink is left open because an operation may still be using it.
var ErrDrainTimeout = errors.New("async sink: drain timed out")

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets how many operations may be queued. Default: 4.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner sink fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDrainTimeout bounds how long Close waits for queued work. Default: 5s.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// WithDropOnFull makes calls return immediately when the queue is full,
// discarding the operation instead of blocking the cycle.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

type op struct {
	name string
	run  func(ctx context.Context) error
}

// Async queues sink operations and applies them in order on a background
// goroutine. Inner failures go to errFunc rather than the caller.
type Async struct {
	inner        sink.Sink
	ch           chan op
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	drainTimeout time.Duration
	dropOnFull   bool
	closeOnce    sync.Once
}

// New wraps inner and starts the drain goroutine.
func New(inner sink.Sink, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc:      func(err error) { slog.Warn("async sink error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan op, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// ReplaceSnapshot queues the snapshot for the inner sink.
func (a *Async) ReplaceSnapshot(ctx context.Context, s model.Snapshot) error {
	return a.enqueue(ctx, op{name: "replace " + s.CycleID, run: func(ctx context.Context) error {
		return a.inner.ReplaceSnapshot(ctx, s)
	}})
}

// RecordPollAttempt queues the attempt for the inner sink.
func (a *Async) RecordPollAttempt(ctx context.Context, sourceID string, at time.Time, displayName string) error {
	return a.enqueue(ctx, op{name: "attempt " + sourceID, run: func(ctx context.Context) error {
		return a.inner.RecordPollAttempt(ctx, sourceID, at, displayName)
	}})
}

// Ping checks the inner sink synchronously when it supports it.
func (a *Async) Ping(ctx context.Context) error {
	if p, ok := a.inner.(sink.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (a *Async) enqueue(ctx context.Context, o op) error {
	if a.dropOnFull {
		select {
		case a.ch <- o:
		default:
			slog.Warn("async sink queue full, dropping operation", "op", o.name)
		}
		return nil
	}
	select {
	case a.ch <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for the queue to drain, then closes
// the inner sink. If draining takes longer than the drain timeout the inner
// sink is not closed and ErrDrainTimeout is returned.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.ch)
		select {
		case <-a.done:
			err = a.inner.Close()
		case <-time.After(a.drainTimeout):
			slog.Warn("async sink drain timed out, leaving inner sink open", "timeout", a.drainTimeout)
			err = ErrDrainTimeout
		}
	})
	return err
}

func (a *Async) drain() {
	defer close(a.done)
	for o := range a.ch {
		if err := o.run(context.Background()); err != nil {
			a.errFunc(err)
		}
	}
}
