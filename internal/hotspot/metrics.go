package hotspot

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the engine's non-fatal error counters and tick timings.
// All counters are also mirrored in EngineStats for headless inspection.
type Metrics struct {
	eventsIngested     prometheus.Counter
	malformedEvents    prometheus.Counter
	duplicateEvents    prometheus.Counter
	clusteringTimeouts prometheus.Counter
	sinkFailures       prometheus.Counter
	ticksCoalesced     prometheus.Counter
	ticksSkipped       prometheus.Counter
	tickDuration       prometheus.Histogram
}

// NewMetrics registers the engine collectors on reg. A nil registerer yields
// unregistered collectors, which keeps tests and embedded use simple.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_events_ingested_total",
			Help: "Events accepted into the sliding window",
		}),
		malformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_events_malformed_total",
			Help: "Events rejected at ingestion validation",
		}),
		duplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_events_duplicate_total",
			Help: "Redelivered events dropped because their id was already in-window",
		}),
		clusteringTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_clustering_timeouts_total",
			Help: "Ticks skipped because the clustering pass exceeded its budget",
		}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_sink_failures_total",
			Help: "Publish attempts that could not reach a sink",
		}),
		ticksCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_ticks_coalesced_total",
			Help: "Tick requests skipped because a tick was already in flight",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_ticks_skipped_total",
			Help: "Ticks skipped because the window held fewer than min_points events",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hotspot_tick_duration_seconds",
			Help:    "Wall-clock duration of completed ticks",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.eventsIngested,
			m.malformedEvents,
			m.duplicateEvents,
			m.clusteringTimeouts,
			m.sinkFailures,
			m.ticksCoalesced,
			m.ticksSkipped,
			m.tickDuration,
		)
	}
	return m
}
