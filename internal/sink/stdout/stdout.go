package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

func init() {
	sink.Register("stdout", func(cfg sink.Config) (sink.Sink, error) {
		return New(os.Stdout, cfg.Pretty), nil
	})
}

// Sink writes each snapshot document as one JSON value.
type Sink struct {
	enc *json.Encoder
}

// New creates a Sink writing to w, optionally pretty-printed.
func New(w io.Writer, pretty bool) *Sink {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Sink{enc: enc}
}

func (s *Sink) ReplaceSnapshot(_ context.Context, snap model.Snapshot) error {
	if err := s.enc.Encode(sink.FormatSnapshot(snap)); err != nil {
		return fmt.Errorf("stdout sink: %w", err)
	}
	return nil
}

func (s *Sink) RecordPollAttempt(context.Context, string, time.Time, string) error {
	return nil
}

func (s *Sink) Close() error {
	return nil
}
