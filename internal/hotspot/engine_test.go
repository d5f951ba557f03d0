package hotspot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink collects published outputs and can be told to fail.
type memSink struct {
	mu           sync.Mutex
	ticks        [][]Summary
	alerts       []Alert
	failHotspots bool
	failAlerts   bool
}

func (m *memSink) PublishHotspots(_ context.Context, _ time.Time, summaries []Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failHotspots {
		return fmt.Errorf("%w: hotspot sink down", ErrSinkUnavailable)
	}
	m.ticks = append(m.ticks, summaries)
	return nil
}

func (m *memSink) PublishAlert(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAlerts {
		return fmt.Errorf("%w: alert sink down", ErrSinkUnavailable)
	}
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memSink) snapshot() (ticks [][]Summary, alerts []Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Summary(nil), m.ticks...), append([]Alert(nil), m.alerts...)
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		Eps:            0.01,
		MinPoints:      10,
		MinClusterSize: 5,
		Window:         WindowPolicy{MaxCount: 500},
		Alerts: AlertPolicyConfig{
			CountThreshold:    10,
			SeverityThreshold: 50,
			MatchRadiusKm:     1,
			GracePeriodPasses: 3,
		},
		TickInterval:      time.Minute,
		ClusteringTimeout: 5 * time.Second,
		ShutdownGrace:     time.Second,
	}
}

func newTestEngine(t *testing.T, cfg EngineConfig, sink *memSink) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, sink, sink, zerolog.Nop(), nil)
	require.NoError(t, err)
	return e
}

func TestNewEngineValidation(t *testing.T) {
	sink := &memSink{}

	cfg := testEngineConfig()
	cfg.Eps = 0
	_, err := NewEngine(cfg, sink, sink, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrInvalidParameter, "zero eps")

	cfg = testEngineConfig()
	cfg.Window = WindowPolicy{}
	_, err = NewEngine(cfg, sink, sink, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrInvalidParameter, "empty window policy")

	cfg = testEngineConfig()
	cfg.TickInterval = 0
	cfg.TickEveryEvents = 0
	_, err = NewEngine(cfg, sink, sink, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrInvalidParameter, "no tick cadence")
}

func TestEngineCountsMalformedAndDuplicates(t *testing.T) {
	sink := &memSink{}
	e := newTestEngine(t, testEngineConfig(), sink)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, e.Ingest(NewEvent("ok", ts, -37.80, 145.00, 0, 1, 0)))

	err := e.Ingest(Event{ID: "", Timestamp: ts, Lat: -37.80, Lon: 145.00})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	err = e.Ingest(NewEvent("ok", ts.Add(time.Minute), -37.80, 145.00, 0, 1, 0))
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Ingested)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, 1, e.WindowLen())
}

func TestEngineTickSkippedBelowMinPoints(t *testing.T) {
	sink := &memSink{}
	e := newTestEngine(t, testEngineConfig(), sink)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Ingest(NewEvent(fmt.Sprintf("e%d", i), ts, -37.80, 145.00, 0, 1, 0)))
	}

	e.Tick(context.Background())

	stats := e.Stats()
	assert.Equal(t, uint64(0), stats.Ticks)
	assert.Equal(t, uint64(1), stats.TicksSkipped)
	ticks, _ := sink.snapshot()
	assert.Empty(t, ticks)
}

func TestEngineFullTickPipeline(t *testing.T) {
	sink := &memSink{}
	e := newTestEngine(t, testEngineConfig(), sink)

	for _, ev := range denseCluster("dense", -37.80, 145.00, 0.005, 15) {
		require.NoError(t, e.Ingest(ev))
	}
	e.Tick(context.Background())

	ticks, alerts := sink.snapshot()
	require.Len(t, ticks, 1)
	require.Len(t, ticks[0], 1, "expected one hotspot")

	s := ticks[0][0]
	assert.Equal(t, 1, s.Rank)
	assert.Equal(t, 15, s.Count)

	// 15 serious-injury events sum to severity 30: below the severity bar but
	// past the count bar, so the hotspot alerts.
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNew, alerts[0].Kind)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Ticks)
	assert.Equal(t, uint64(0), stats.SinkFailures)
}

// Sink failures are counted but never roll back engine state, and a failed
// hotspot publish withholds that tick's alerts.
func TestEngineSinkFailureWithholdsAlerts(t *testing.T) {
	sink := &memSink{failHotspots: true}
	e := newTestEngine(t, testEngineConfig(), sink)

	for _, ev := range denseCluster("dense", -37.80, 145.00, 0.005, 15) {
		require.NoError(t, e.Ingest(ev))
	}
	e.Tick(context.Background())

	ticks, alerts := sink.snapshot()
	assert.Empty(t, ticks)
	assert.Empty(t, alerts, "alerts must be withheld when the hotspot list fails")

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Ticks, "the tick itself still completes")
	assert.Equal(t, uint64(1), stats.SinkFailures)

	// The alert table advanced: the record exists and the next successful
	// tick emits CONTINUING, not NEW.
	require.Len(t, e.AlertRecords(), 1)

	sink.mu.Lock()
	sink.failHotspots = false
	sink.mu.Unlock()

	e.Tick(context.Background())
	_, alerts = sink.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertContinuing, alerts[0].Kind)
}

func TestEngineAlertSinkFailureCounted(t *testing.T) {
	sink := &memSink{failAlerts: true}
	e := newTestEngine(t, testEngineConfig(), sink)

	for _, ev := range denseCluster("dense", -37.80, 145.00, 0.005, 15) {
		require.NoError(t, e.Ingest(ev))
	}
	e.Tick(context.Background())

	ticks, alerts := sink.snapshot()
	assert.Len(t, ticks, 1, "hotspot list still delivered")
	assert.Empty(t, alerts)
	assert.Equal(t, uint64(1), e.Stats().SinkFailures)
}

func TestEngineClusteringTimeout(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ClusteringTimeout = time.Nanosecond
	sink := &memSink{}
	e := newTestEngine(t, cfg, sink)

	// Enough points that clustering cannot finish inside a nanosecond.
	var events []Event
	for c := 0; c < 40; c++ {
		events = append(events, denseCluster(fmt.Sprintf("c%d", c), -37.80+float64(c)*0.05, 145.00, 0.005, 12)...)
	}
	for _, ev := range events {
		require.NoError(t, e.Ingest(ev))
	}
	e.Tick(context.Background())

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.ClusteringTimeouts)
	assert.Equal(t, uint64(0), stats.Ticks)
	ticks, _ := sink.snapshot()
	assert.Empty(t, ticks, "timed-out tick publishes nothing")

	// The engine is not corrupted; a later tick with the budget restored works.
	assert.NoError(t, e.Ingest(NewEvent("later", time.Now(), -37.80, 145.00, 0, 1, 0)))
}

func TestEngineTickCoalescing(t *testing.T) {
	sink := &memSink{}
	e := newTestEngine(t, testEngineConfig(), sink)

	e.tickMu.Lock()
	e.Tick(context.Background())
	e.tickMu.Unlock()

	assert.Equal(t, uint64(1), e.Stats().TicksCoalesced)
}

func TestEngineRunShutdown(t *testing.T) {
	cfg := testEngineConfig()
	cfg.TickInterval = 10 * time.Millisecond
	sink := &memSink{}
	e := newTestEngine(t, cfg, sink)

	for _, ev := range denseCluster("dense", -37.80, 145.00, 0.005, 15) {
		require.NoError(t, e.Ingest(ev))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	ticks, _ := sink.snapshot()
	assert.NotEmpty(t, ticks, "interval cadence produced no ticks")
}

func TestEngineCountCadenceTriggersTicks(t *testing.T) {
	cfg := testEngineConfig()
	cfg.TickInterval = 0
	cfg.TickEveryEvents = 15
	sink := &memSink{}
	e := newTestEngine(t, cfg, sink)

	for _, ev := range denseCluster("dense", -37.80, 145.00, 0.005, 15) {
		require.NoError(t, e.Ingest(ev))
	}

	// The cadence tick is asynchronous; poll for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ticks, _ := sink.snapshot()
		if len(ticks) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("count cadence never produced a tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
