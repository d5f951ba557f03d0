package hotspot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// HotspotSink receives the full ranked hotspot list once per completed tick.
type HotspotSink interface {
	PublishHotspots(ctx context.Context, tick time.Time, summaries []Summary) error
}

// AlertSink receives individual alert emissions.
type AlertSink interface {
	PublishAlert(ctx context.Context, alert Alert) error
}

// EngineConfig holds the resolved parameters for one window instance.
// Multiple instances (one per region, say) are fully independent.
type EngineConfig struct {
	Eps            float64
	MinPoints      int
	MinClusterSize int

	Window WindowPolicy
	Alerts AlertPolicyConfig

	KmPerDegreeLat float64
	KmPerDegreeLon float64

	// Tick cadence: by ingested-event count, by interval, or both.
	// At least one must be set.
	TickEveryEvents int
	TickInterval    time.Duration

	// ClusteringTimeout bounds one clustering pass. Zero disables the budget.
	ClusteringTimeout time.Duration

	// ShutdownGrace bounds how long Run waits for an in-flight tick after
	// cancellation before abandoning it.
	ShutdownGrace time.Duration
}

// EngineStats is a point-in-time snapshot of the engine's counters.
type EngineStats struct {
	Ingested           uint64
	Malformed          uint64
	Duplicates         uint64
	Ticks              uint64
	TicksSkipped       uint64
	TicksCoalesced     uint64
	ClusteringTimeouts uint64
	SinkFailures       uint64
}

// Engine orchestrates the streaming pipeline: ingest feeds the window,
// ticks snapshot it and run clustering, aggregation, and alerting, then
// publish. Ingestion never blocks on clustering; ticks operate on immutable
// snapshots and are coalesced so at most one is in flight.
type Engine struct {
	cfg       EngineConfig
	window    *Window
	clusterer *DBSCANClusterer
	policy    *AlertPolicy

	hotspots HotspotSink
	alerts   AlertSink

	log     zerolog.Logger
	metrics *Metrics

	// now is injectable for deterministic tests.
	now func() time.Time

	tickMu    sync.Mutex // held for the duration of one tick; TryLock coalesces
	corrupted atomic.Bool

	ingested           atomic.Uint64
	malformed          atomic.Uint64
	duplicates         atomic.Uint64
	ticks              atomic.Uint64
	ticksSkipped       atomic.Uint64
	ticksCoalesced     atomic.Uint64
	clusteringTimeouts atomic.Uint64
	sinkFailures       atomic.Uint64
}

// NewEngine validates the configuration and wires the pipeline. A nil sink
// disables that output. Configuration errors are fatal by design: the engine
// refuses to start rather than run with ambiguous semantics.
func NewEngine(cfg EngineConfig, hotspots HotspotSink, alerts AlertSink, logger zerolog.Logger, reg prometheus.Registerer) (*Engine, error) {
	clusterer, err := NewDBSCANClusterer(cfg.Eps, cfg.MinPoints)
	if err != nil {
		return nil, err
	}
	window, err := NewWindow(cfg.Window)
	if err != nil {
		return nil, err
	}
	policy, err := NewAlertPolicy(cfg.Alerts)
	if err != nil {
		return nil, err
	}
	if cfg.MinClusterSize < 0 {
		return nil, fmt.Errorf("%w: min_cluster_size must be non-negative, got %d", ErrInvalidParameter, cfg.MinClusterSize)
	}
	if cfg.TickEveryEvents <= 0 && cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("%w: tick cadence requires tick_every_events or tick_interval", ErrInvalidParameter)
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}

	return &Engine{
		cfg:       cfg,
		window:    window,
		clusterer: clusterer,
		policy:    policy,
		hotspots:  hotspots,
		alerts:    alerts,
		log:       logger,
		metrics:   NewMetrics(reg),
		now:       time.Now,
	}, nil
}

// Ingest validates an event and appends it to the window. Malformed and
// duplicate events are counted and rejected without stopping the pipeline.
// Under a count cadence, every Nth accepted event triggers an asynchronous
// tick.
func (e *Engine) Ingest(ev Event) error {
	if e.corrupted.Load() {
		return fmt.Errorf("%w: engine halted", ErrStateCorruption)
	}

	if err := ev.Validate(); err != nil {
		e.malformed.Add(1)
		e.metrics.malformedEvents.Inc()
		return err
	}

	evicted, err := e.window.Append(ev)
	if err != nil {
		e.duplicates.Add(1)
		e.metrics.duplicateEvents.Inc()
		return err
	}
	if len(evicted) > 0 {
		e.log.Debug().Int("evicted", len(evicted)).Msg("window eviction")
	}

	n := e.ingested.Add(1)
	e.metrics.eventsIngested.Inc()

	if e.cfg.TickEveryEvents > 0 && n%uint64(e.cfg.TickEveryEvents) == 0 {
		// Fire and forget: ingestion must never wait on clustering.
		go e.Tick(context.Background())
	}
	return nil
}

// Tick runs one clustering pass over a window snapshot. A tick requested
// while another is in flight is coalesced (skipped, not queued) so latency
// stays bounded under load.
func (e *Engine) Tick(ctx context.Context) {
	if !e.tickMu.TryLock() {
		e.ticksCoalesced.Add(1)
		e.metrics.ticksCoalesced.Inc()
		return
	}
	defer e.tickMu.Unlock()
	e.runTick(ctx)
}

type passResult struct {
	labeling  Labeling
	summaries []Summary
}

func (e *Engine) runTick(ctx context.Context) {
	if e.corrupted.Load() {
		return
	}

	start := e.now()
	snap := e.window.Snapshot()

	if len(snap) < e.cfg.MinPoints {
		e.ticksSkipped.Add(1)
		e.metrics.ticksSkipped.Inc()
		e.log.Debug().Int("window_events", len(snap)).Int("min_points", e.cfg.MinPoints).
			Msg("tick skipped: window below density threshold")
		return
	}

	res, err := e.clusterPass(ctx, snap)
	if err != nil {
		e.clusteringTimeouts.Add(1)
		e.metrics.clusteringTimeouts.Inc()
		e.log.Warn().Err(err).Int("window_events", len(snap)).Msg("tick skipped")
		return
	}

	if len(res.labeling.Labels) != len(snap) || !VerifyRanks(res.summaries) {
		// Should never happen; halting beats silently publishing garbage.
		e.corrupted.Store(true)
		e.log.Error().Int("window_events", len(snap)).Int("labels", len(res.labeling.Labels)).
			Msg("state corruption detected, halting window instance")
		return
	}

	alerts := e.policy.Evaluate(res.summaries, start)
	e.ticks.Add(1)

	e.publish(ctx, start, res.summaries, alerts)

	elapsed := e.now().Sub(start)
	e.metrics.tickDuration.Observe(elapsed.Seconds())
	e.log.Info().
		Int("window_events", len(snap)).
		Int("clusters", res.labeling.NumClusters).
		Int("hotspots", len(res.summaries)).
		Int("alerts", len(alerts)).
		Dur("elapsed", elapsed).
		Msg("tick complete")
}

// clusterPass runs DBSCAN plus aggregation on a worker goroutine under the
// configured wall-clock budget. On timeout the result is discarded; the
// abandoned computation finishes in the background and is dropped.
func (e *Engine) clusterPass(ctx context.Context, snap []Event) (passResult, error) {
	if e.cfg.ClusteringTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ClusteringTimeout)
		defer cancel()
	}

	ch := make(chan passResult, 1)
	go func() {
		labeling := e.clusterer.Cluster(snap)
		summaries := Aggregate(snap, labeling, AggregateOptions{
			MinClusterSize: e.cfg.MinClusterSize,
			KmPerDegreeLat: e.cfg.KmPerDegreeLat,
			KmPerDegreeLon: e.cfg.KmPerDegreeLon,
		})
		ch <- passResult{labeling: labeling, summaries: summaries}
	}()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return passResult{}, fmt.Errorf("%w: %v", ErrClusteringTimeout, ctx.Err())
	}
}

// publish delivers the tick's outputs. The hotspot list goes first; if it
// cannot be delivered the alerts are withheld too, so a tick's outputs reach
// downstream all together or not at all. Failures never roll back engine
// state: the alert table and window have already advanced and the next tick
// re-publishes fresher data anyway.
func (e *Engine) publish(ctx context.Context, tick time.Time, summaries []Summary, alerts []Alert) {
	if e.hotspots != nil {
		if err := e.hotspots.PublishHotspots(ctx, tick, summaries); err != nil {
			e.sinkFailures.Add(1)
			e.metrics.sinkFailures.Inc()
			e.log.Warn().Err(err).Msg("hotspot sink unavailable, withholding tick outputs")
			return
		}
	}
	if e.alerts == nil {
		return
	}
	for _, a := range alerts {
		if err := e.alerts.PublishAlert(ctx, a); err != nil {
			e.sinkFailures.Add(1)
			e.metrics.sinkFailures.Inc()
			e.log.Warn().Err(err).Str("record_key", a.RecordKey).Msg("alert sink unavailable")
		}
	}
}

// Run drives the interval cadence until ctx is cancelled, then waits up to
// the shutdown grace for an in-flight tick before returning. Returns
// ErrStateCorruption if the window instance halted itself.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.TickInterval > 0 {
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return e.shutdown()
			case <-ticker.C:
				e.Tick(ctx)
				if e.corrupted.Load() {
					return fmt.Errorf("%w: window instance halted", ErrStateCorruption)
				}
			}
		}
	}

	// Count-cadence only: ticks are driven by Ingest, just wait for shutdown.
	<-ctx.Done()
	return e.shutdown()
}

func (e *Engine) shutdown() error {
	acquired := make(chan struct{})
	go func() {
		e.tickMu.Lock()
		defer e.tickMu.Unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(e.cfg.ShutdownGrace):
		e.log.Warn().Dur("grace", e.cfg.ShutdownGrace).Msg("abandoning in-flight tick at shutdown")
	}

	if e.corrupted.Load() {
		return fmt.Errorf("%w: window instance halted", ErrStateCorruption)
	}
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Ingested:           e.ingested.Load(),
		Malformed:          e.malformed.Load(),
		Duplicates:         e.duplicates.Load(),
		Ticks:              e.ticks.Load(),
		TicksSkipped:       e.ticksSkipped.Load(),
		TicksCoalesced:     e.ticksCoalesced.Load(),
		ClusteringTimeouts: e.clusteringTimeouts.Load(),
		SinkFailures:       e.sinkFailures.Load(),
	}
}

// WindowLen reports the number of live events, mainly for observability.
func (e *Engine) WindowLen() int { return e.window.Len() }

// AlertRecords returns a copy of the current alert table.
func (e *Engine) AlertRecords() []AlertRecord { return e.policy.Records() }
