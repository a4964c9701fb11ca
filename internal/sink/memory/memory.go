// Package memory holds the latest snapshot in process for the query API.
package memory

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

func init() {
	sink.Register("memory", func(sink.Config) (sink.Sink, error) {
		return New(), nil
	})
}

type published struct {
	snap model.Snapshot
	at   time.Time
}

// Store keeps the most recently published snapshot. Readers load it with a
// single atomic pointer read, so they always see one complete snapshot.
type Store struct {
	latest atomic.Pointer[published]
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]model.Source
	subs     map[int]chan model.Snapshot
	nextSub  int
	closed   bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		now:      time.Now,
		attempts: map[string]model.Source{},
		subs:     map[int]chan model.Snapshot{},
	}
}

// ReplaceSnapshot publishes s and notifies subscribers.
func (s *Store) ReplaceSnapshot(_ context.Context, snap model.Snapshot) error {
	s.latest.Store(&published{snap: snap, at: s.now()})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		// Subscribers only care about the newest snapshot: drop a stale
		// pending one rather than block the publisher.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	return nil
}

// RecordPollAttempt tracks the last attempt per source, including ones made
// by a cycle that has not published yet.
func (s *Store) RecordPollAttempt(_ context.Context, sourceID string, at time.Time, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.attempts[sourceID]
	src.ID = sourceID
	if displayName != "" {
		src.DisplayName = displayName
	}
	src.LastPollTime = at
	s.attempts[sourceID] = src
	return nil
}

// Latest returns the last published snapshot and when it was published, or
// an empty snapshot and the zero time if nothing has been published.
func (s *Store) Latest() (model.Snapshot, time.Time) {
	p := s.latest.Load()
	if p == nil {
		return model.EmptySnapshot(), time.Time{}
	}
	return p.snap, p.at
}

// Attempts returns a copy of the per-source poll attempt log.
func (s *Store) Attempts() map[string]model.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.attempts)
}

// Subscribe returns a channel that receives each newly published snapshot,
// and a function that cancels the subscription. A slow subscriber only ever
// misses intermediate snapshots, never the newest one.
func (s *Store) Subscribe() (<-chan model.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan model.Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.closed = true
	return nil
}
