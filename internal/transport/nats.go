package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/arterial-data/hotspot.report/internal/hotspot"
)

// Default NATS subjects.
const (
	DefaultEventSubject   = "crash.events"
	DefaultHotspotSubject = "crash.hotspots"
	DefaultAlertSubject   = "crash.alerts"
)

// connectNATS dials with the retry posture a long-lived daemon wants:
// unlimited reconnects and logged connectivity transitions.
func connectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSSource subscribes to a crash-event subject and feeds the engine. The
// broker delivers at-least-once; the engine's duplicate handling absorbs
// redelivery.
type NATSSource struct {
	nc      *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSSource connects to the broker.
func NewNATSSource(url, subject string, logger zerolog.Logger) (*NATSSource, error) {
	if subject == "" {
		subject = DefaultEventSubject
	}
	nc, err := connectNATS(url, "hotspotd-source", logger)
	if err != nil {
		return nil, err
	}
	return &NATSSource{nc: nc, subject: subject, logger: logger}, nil
}

// Run subscribes and ingests until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context, ingest IngestFunc) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var ev hotspot.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("skipping unparseable event message")
			return
		}
		if err := ingest(ev); err != nil {
			if errors.Is(err, hotspot.ErrMalformedEvent) || errors.Is(err, hotspot.ErrDuplicateEvent) {
				s.logger.Debug().Err(err).Str("event_id", ev.ID).Msg("event rejected")
				return
			}
			s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("ingest failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

// Close drains and closes the connection.
func (s *NATSSource) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

// NATSSink publishes hotspot snapshots and alerts as JSON messages.
type NATSSink struct {
	nc             *nats.Conn
	hotspotSubject string
	alertSubject   string
}

// NewNATSSink connects to the broker for publishing.
func NewNATSSink(url, hotspotSubject, alertSubject string, logger zerolog.Logger) (*NATSSink, error) {
	if hotspotSubject == "" {
		hotspotSubject = DefaultHotspotSubject
	}
	if alertSubject == "" {
		alertSubject = DefaultAlertSubject
	}
	nc, err := connectNATS(url, "hotspotd-sink", logger)
	if err != nil {
		return nil, err
	}
	return &NATSSink{nc: nc, hotspotSubject: hotspotSubject, alertSubject: alertSubject}, nil
}

// PublishHotspots sends one tick's full ranked list as a single message.
func (s *NATSSink) PublishHotspots(_ context.Context, tick time.Time, summaries []hotspot.Summary) error {
	data, err := json.Marshal(snapshotRecord{Tick: tick, Hotspots: summaries})
	if err != nil {
		return fmt.Errorf("marshal hotspot snapshot: %w", err)
	}
	if err := s.nc.Publish(s.hotspotSubject, data); err != nil {
		return fmt.Errorf("%w: publish %s: %v", hotspot.ErrSinkUnavailable, s.hotspotSubject, err)
	}
	return nil
}

// PublishAlert sends one alert message.
func (s *NATSSink) PublishAlert(_ context.Context, a hotspot.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.nc.Publish(s.alertSubject, data); err != nil {
		return fmt.Errorf("%w: publish %s: %v", hotspot.ErrSinkUnavailable, s.alertSubject, err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() {
	if s.nc != nil {
		s.nc.Flush()
		s.nc.Close()
	}
}
