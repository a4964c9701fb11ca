// Package file keeps the latest snapshot in a single JSON document on disk.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "pulsepoint_data.json"

const defaultBufSize = 64 * 1024 // 64KB

func init() {
	sink.Register("file", func(cfg sink.Config) (sink.Sink, error) {
		return New(cfg.Path)
	})
}

// Sink writes the whole document to a temporary file and renames it over the
// target, so readers of the path see either the old or the new document.
// Poll attempts are held in memory and written with the next snapshot.
type Sink struct {
	mu    sync.Mutex
	path  string
	doc   sink.Document
	dirty bool
}

// New creates a file sink for path, loading the existing document if any.
func New(path string) (*Sink, error) {
	if path == "" {
		path = DefaultPath
	}
	s := &Sink{path: path, doc: sink.EmptyDocument()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// ReplaceSnapshot replaces the document's incidents and unit status with
// those of snap and merges source information, then writes it out.
func (s *Sink) ReplaceSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := sink.FormatSnapshot(snap)
	for id, prev := range s.doc.Agencies {
		cur, ok := next.Agencies[id]
		if !ok {
			next.Agencies[id] = prev
			continue
		}
		if prev.LastPollTime.After(cur.LastPollTime) {
			cur.LastPollTime = prev.LastPollTime
		}
		if cur.DisplayName == "" {
			cur.DisplayName = prev.DisplayName
		}
		next.Agencies[id] = cur
	}

	if err := s.write(next); err != nil {
		return &sink.Error{Sink: "file", Op: "replace", Err: err}
	}
	s.doc = next
	s.dirty = false
	return nil
}

// RecordPollAttempt buffers the attempt until the next write.
func (s *Sink) RecordPollAttempt(_ context.Context, sourceID string, at time.Time, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.doc.Agencies[sourceID]
	src.ID = sourceID
	src.LastPollTime = at.UTC()
	if displayName != "" {
		src.DisplayName = displayName
	}
	s.doc.Agencies[sourceID] = src
	s.dirty = true
	return nil
}

// Document returns the current in-memory document.
func (s *Sink) Document() sink.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Close writes any buffered poll attempts.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.write(s.doc); err != nil {
		return &sink.Error{Sink: "file", Op: "close", Err: err}
	}
	s.dirty = false
	return nil
}

func (s *Sink) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &sink.Error{Sink: "file", Op: "load", Err: err}
	}

	doc := sink.EmptyDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("ignoring unreadable snapshot file", "path", s.path, "error", err)
		return nil
	}
	if doc.Agencies == nil {
		doc.Agencies = map[string]model.Source{}
	}
	s.doc = doc
	return nil
}

// write encodes doc into a temp file beside the target and renames it into place.
func (s *Sink) write(doc sink.Document) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := bufio.NewWriterSize(tmp, defaultBufSize)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
