// Package webhook POSTs each published snapshot to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
)

func init() {
	sink.Register("webhook", func(cfg sink.Config) (sink.Sink, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook sink: url is required")
		}
		return New(cfg.URL, WithHeaders(cfg.Headers)), nil
	})
}

// Option configures a webhook Sink.
type Option func(*Sink)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(s *Sink) { s.headers = h }
}

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) { s.client.Timeout = d }
}

// Sink POSTs the snapshot document as JSON once per cycle. Retries on 5xx
// with exponential backoff.
type Sink struct {
	client    *http.Client
	url       string
	headers   map[string]string
	baseDelay time.Duration
}

// New creates a webhook sink targeting the given URL.
func New(url string, opts ...Option) *Sink {
	s := &Sink{
		client:    &http.Client{Timeout: defaultTimeout},
		url:       url,
		baseDelay: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReplaceSnapshot sends the snapshot document.
func (s *Sink) ReplaceSnapshot(ctx context.Context, snap model.Snapshot) error {
	body, err := json.Marshal(sink.FormatSnapshot(snap))
	if err != nil {
		return &sink.Error{Sink: "webhook", Op: "marshal", Err: err}
	}
	if err := s.postWithRetry(ctx, body); err != nil {
		return &sink.Error{Sink: "webhook", Op: "replace", Err: err}
	}
	return nil
}

// RecordPollAttempt is a no-op: the receiver gets source poll times with
// every snapshot.
func (s *Sink) RecordPollAttempt(context.Context, string, time.Time, string) error {
	return nil
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }

// postWithRetry sends the body via HTTP POST with retry on 5xx.
func (s *Sink) postWithRetry(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(s.baseDelay << (attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range s.headers {
			req.Header.Set(k, v)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)

		// Only retry on 5xx server errors.
		if resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}
