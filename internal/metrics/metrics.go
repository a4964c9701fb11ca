// Package metrics exposes poll and publish counters to Prometheus.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives pipeline events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// PollFinished records one source poll. result is "ok" or an error code.
	PollFinished(sourceID, result string, took time.Duration)
	// CycleFinished records one cycle. outcome is "published", "failed" or "cancelled".
	CycleFinished(outcome string, took time.Duration)
	// SnapshotPublished records the size of a published snapshot.
	SnapshotPublished(active, recent, units, skipped int, at time.Time)
	// SinkError records a failed sink operation.
	SinkError(op string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) PollFinished(string, string, time.Duration)      {}
func (Nop) CycleFinished(string, time.Duration)             {}
func (Nop) SnapshotPublished(int, int, int, int, time.Time) {}
func (Nop) SinkError(string)                                {}

// Prom records pipeline events as Prometheus collectors.
type Prom struct {
	polls         *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	active        prometheus.Gauge
	recent        prometheus.Gauge
	units         prometheus.Gauge
	skipped       prometheus.Counter
	sinkErrors    *prometheus.CounterVec
	lastPublish   prometheus.Gauge
}

// NewProm creates the collectors and registers them with reg.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_polls_total",
			Help: "Source polls by source and result.",
		}, []string{"source", "result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsewatch_poll_duration_seconds",
			Help:    "Time to fetch, decrypt and normalize one source.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsewatch_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle including pacing.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsewatch_active_incidents",
			Help: "Active incidents in the last published snapshot.",
		}),
		recent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsewatch_recent_incidents",
			Help: "Recent incidents in the last published snapshot.",
		}),
		units: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsewatch_units",
			Help: "Units on active incidents in the last published snapshot.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsewatch_skipped_records_total",
			Help: "Upstream records dropped during normalization.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_sink_errors_total",
			Help: "Failed sink operations by operation.",
		}, []string{"op"}),
		lastPublish: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsewatch_last_publish_timestamp_seconds",
			Help: "Unix time of the last published snapshot.",
		}),
	}
	reg.MustRegister(p.polls, p.pollDuration, p.cycles, p.cycleDuration,
		p.active, p.recent, p.units, p.skipped, p.sinkErrors, p.lastPublish)
	return p
}

func (p *Prom) PollFinished(sourceID, result string, took time.Duration) {
	p.polls.WithLabelValues(sourceID, strings.ToLower(result)).Inc()
	p.pollDuration.Observe(took.Seconds())
}

func (p *Prom) CycleFinished(outcome string, took time.Duration) {
	p.cycles.WithLabelValues(outcome).Inc()
	p.cycleDuration.Observe(took.Seconds())
}

func (p *Prom) SnapshotPublished(active, recent, units, skipped int, at time.Time) {
	p.active.Set(float64(active))
	p.recent.Set(float64(recent))
	p.units.Set(float64(units))
	p.skipped.Add(float64(skipped))
	p.lastPublish.Set(float64(at.Unix()))
}

func (p *Prom) SinkError(op string) {
	p.sinkErrors.WithLabelValues(op).Inc()
}
