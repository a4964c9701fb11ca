package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/pulsewatch/internal/metrics"
	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
	"github.com/crimson-sun/pulsewatch/internal/sink/memory"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func snapshot(cycle string, incidents ...string) model.Snapshot {
	s := model.EmptySnapshot()
	s.CycleID = cycle
	s.GeneratedAt = t0
	for _, id := range incidents {
		s.ActiveIncidents = append(s.ActiveIncidents, model.Incident{
			IncidentID: id,
			SourceID:   "00291",
			Units:      []model.Unit{{UnitID: "M" + id, Active: true}},
			IsActive:   true,
		})
	}
	s.UnitStatus = model.UnitStatusFrom(s.ActiveIncidents, t0)
	s.Sources["00291"] = model.Source{ID: "00291", DisplayName: "Test Agency", LastPollTime: t0}
	return s
}

func newTestServer(t *testing.T, store *memory.Store, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	srv := httptest.NewServer(New(store, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestIncidentsBeforeFirstPublish(t *testing.T) {
	srv := newTestServer(t, memory.New())

	var raw map[string]any
	resp := getJSON(t, srv.URL+"/api/incidents", &raw)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Nil(t, raw["last_updated"])
	assert.Equal(t, []any{}, raw["active_incidents"])
	assert.Equal(t, []any{}, raw["unit_status"])
}

func TestIncidentsAfterPublish(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.ReplaceSnapshot(context.Background(), snapshot("c1", "E1", "E2")))
	srv := newTestServer(t, store)

	var doc sink.Document
	getJSON(t, srv.URL+"/api/incidents", &doc)
	assert.Equal(t, "c1", doc.CycleID)
	require.NotNil(t, doc.LastUpdated)
	assert.True(t, t0.Equal(*doc.LastUpdated))
	require.Len(t, doc.ActiveIncidents, 2)
	assert.Equal(t, "ME1", doc.ActiveIncidents[0].UnitsDisplay)
	assert.Equal(t, 1, doc.ActiveIncidents[0].UnitCount)
	assert.Contains(t, doc.Agencies, "00291")
}

func TestStats(t *testing.T) {
	store := memory.New()
	srv := newTestServer(t, store)

	var empty Stats
	getJSON(t, srv.URL+"/api/stats", &empty)
	assert.Equal(t, Stats{}, empty)

	require.NoError(t, store.ReplaceSnapshot(context.Background(), snapshot("c1", "E1", "E2", "E3")))
	var got Stats
	getJSON(t, srv.URL+"/api/stats", &got)
	assert.Equal(t, 3, got.ActiveCount)
	assert.Equal(t, 0, got.RecentCount)
	assert.Equal(t, 3, got.UnitCount)
	assert.Equal(t, 1, got.AgencyCount)
	require.NotNil(t, got.LastUpdated)
	assert.True(t, t0.Equal(*got.LastUpdated))
}

func TestSourcesSortedByID(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.RecordPollAttempt(ctx, "00300", t0, "South"))
	require.NoError(t, store.RecordPollAttempt(ctx, "00100", t0, "North"))
	srv := newTestServer(t, store)

	var got []model.Source
	getJSON(t, srv.URL+"/api/sources", &got)
	require.Len(t, got, 2)
	assert.Equal(t, "00100", got[0].ID)
	assert.Equal(t, "South", got[1].DisplayName)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, memory.New())
	var got map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", got["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewProm(reg)
	rec.SnapshotPublished(4, 1, 6, 0, t0)
	srv := newTestServer(t, memory.New(), WithGatherer(reg))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pulsewatch_active_incidents 4")
}

func TestMetricsNotMountedWithoutGatherer(t *testing.T) {
	srv := newTestServer(t, memory.New())
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamPushesPublishedSnapshots(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, store.ReplaceSnapshot(ctx, snapshot("c1", "E1")))
	srv := newTestServer(t, store)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first sink.Document
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "c1", first.CycleID)

	require.NoError(t, store.ReplaceSnapshot(ctx, snapshot("c2", "E1", "E2")))
	var second sink.Document
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, "c2", second.CycleID)
	assert.Len(t, second.ActiveIncidents, 2)
}

func TestStreamClosesWhenStoreCloses(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := newTestServer(t, store)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// Nothing published yet, so the first frame is the close.
	require.NoError(t, store.Close())
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(memory.New(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStreamOriginPatterns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{"Origin": {"https://dash.example.com"}}

	closed := newTestServer(t, memory.New())
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(closed.URL, "http")+"/api/stream",
		&websocket.DialOptions{HTTPHeader: header})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	open := newTestServer(t, memory.New(), WithOriginPatterns("dash.example.com"))
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(open.URL, "http")+"/api/stream",
		&websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}
