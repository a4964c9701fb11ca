// Package server exposes the latest published snapshot over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

// Store is the read side of the in-memory sink.
type Store interface {
	Latest() (model.Snapshot, time.Time)
	Attempts() map[string]model.Source
	Subscribe() (<-chan model.Snapshot, func())
}

// Stats is the /api/stats response.
type Stats struct {
	ActiveCount int        `json:"active_count"`
	RecentCount int        `json:"recent_count"`
	UnitCount   int        `json:"unit_count"`
	AgencyCount int        `json:"agency_count"`
	LastUpdated *time.Time `json:"last_updated"`
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves gatherer on /metrics. Without it /metrics is not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithOriginPatterns allows cross-origin websocket connections from the
// given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithLogger sets the logger for requests and stream errors. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server serves the dashboard query API.
type Server struct {
	store    Store
	gatherer prometheus.Gatherer
	origins  []string
	log      *slog.Logger
}

// New creates a Server reading from store.
func New(store Store, opts ...Option) *Server {
	s := &Server{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/incidents", s.incidents)
		r.Get("/stats", s.stats)
		r.Get("/sources", s.sources)
		r.Get("/stream", s.stream)
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) incidents(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.store.Latest()
	writeJSON(w, http.StatusOK, sink.FormatSnapshot(snap))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.store.Latest()
	doc := sink.FormatSnapshot(snap)
	writeJSON(w, http.StatusOK, Stats{
		ActiveCount: len(doc.ActiveIncidents),
		RecentCount: len(doc.RecentIncidents),
		UnitCount:   len(doc.UnitStatus),
		AgencyCount: len(doc.Agencies),
		LastUpdated: doc.LastUpdated,
	})
}

// sources lists the latest poll attempt per source, including attempts made
// by a cycle that has not published yet.
func (s *Server) sources(w http.ResponseWriter, r *http.Request) {
	attempts := s.store.Attempts()
	out := make([]model.Source, 0, len(attempts))
	for _, src := range attempts {
		out = append(out, src)
	}
	slices.SortFunc(out, func(a, b model.Source) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, out)
}

// stream pushes the current document on connect and every newly published
// one after that.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.origins) > 0 {
		opts.OriginPatterns = s.origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	if snap, at := s.store.Latest(); !at.IsZero() {
		if err := s.push(ctx, conn, snap); err != nil {
			conn.Close(websocket.StatusNormalClosure, "write_failed")
			return
		}
	}

	// Clients only listen; reading detects when they go away.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := s.push(ctx, conn, snap); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, snap model.Snapshot) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, sink.FormatSnapshot(snap))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
