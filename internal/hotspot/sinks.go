package hotspot

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// LogSink writes hotspot snapshots and alerts to a structured logger. It is
// the default sink for headless runs; the daemon points it at a file writer.
type LogSink struct {
	Log zerolog.Logger
}

// PublishHotspots logs the ranked hotspot list for one tick.
func (s LogSink) PublishHotspots(_ context.Context, tick time.Time, summaries []Summary) error {
	for _, sum := range summaries {
		s.Log.Info().
			Time("tick", tick).
			Int("rank", sum.Rank).
			Int("count", sum.Count).
			Float64("severity_sum", sum.SeveritySum).
			Int("fatalities", sum.Fatalities).
			Float64("lat", sum.CentroidLat).
			Float64("lon", sum.CentroidLon).
			Float64("radius_km", sum.RadiusKm).
			Msg("hotspot")
	}
	return nil
}

// PublishAlert logs one alert emission.
func (s LogSink) PublishAlert(_ context.Context, a Alert) error {
	s.Log.Warn().
		Str("kind", string(a.Kind)).
		Str("record_key", a.RecordKey).
		Int("count", a.Summary.Count).
		Float64("severity_sum", a.Summary.SeveritySum).
		Float64("lat", a.Summary.CentroidLat).
		Float64("lon", a.Summary.CentroidLon).
		Msg("hotspot alert")
	return nil
}

// MultiHotspotSink fans one snapshot out to several sinks. All sinks are
// attempted; errors are joined so one slow consumer does not hide another's
// failure.
type MultiHotspotSink []HotspotSink

func (m MultiHotspotSink) PublishHotspots(ctx context.Context, tick time.Time, summaries []Summary) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishHotspots(ctx, tick, summaries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiAlertSink fans one alert out to several sinks.
type MultiAlertSink []AlertSink

func (m MultiAlertSink) PublishAlert(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
